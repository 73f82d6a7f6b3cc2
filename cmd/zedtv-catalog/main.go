// Command zedtv-catalog manages IPTV catalog sources and their playlists.
//
//	account-add     Validate + verify an Xtream account, save it with its catalog
//	account-list    List saved accounts and their state
//	account-delete  Remove an account and everything derived from it
//	refresh         Re-fetch an account's catalog from the portal
//	switch          Make an account or M3U file the active source
//	load-m3u        Load (or reload) a local M3U file into the catalog store
//	render          Render a source's catalog as M3U
//	search          Prefix-search titles in the active catalog
//	history         Show recent loads and refreshes
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zedtv/zedtv-catalog/internal/account"
	"github.com/zedtv/zedtv-catalog/internal/catalog"
	"github.com/zedtv/zedtv-catalog/internal/config"
	"github.com/zedtv/zedtv-catalog/internal/httpclient"
	"github.com/zedtv/zedtv-catalog/internal/ingest"
	"github.com/zedtv/zedtv-catalog/internal/journal"
	"github.com/zedtv/zedtv-catalog/internal/logging"
	"github.com/zedtv/zedtv-catalog/internal/metrics"
	"github.com/zedtv/zedtv-catalog/internal/search"
	"github.com/zedtv/zedtv-catalog/internal/session"
	"github.com/zedtv/zedtv-catalog/internal/store"
)

// app holds the wired engine shared by every subcommand.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	store *store.Store
	mgr   *account.Manager
	sess  *session.Store
	index *search.Index
	jrnl  *journal.Journal
}

func newApp(cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Log.Level, os.Stderr)
	met := metrics.New(nil)

	adapter := ingest.New(ingest.Options{
		Client:      httpclient.WithTimeout(cfg.Fetch.Timeout),
		Retries:     cfg.Fetch.Retries,
		Backoff:     cfg.Fetch.Backoff,
		Pace:        rate.Limit(cfg.Fetch.Pace),
		CacheTTL:    cfg.Fetch.CacheTTL,
		FetchSeries: cfg.Fetch.FetchSeries,
		Log:         log,
		Metrics:     met,
	})
	st, err := store.New(cfg.Paths.SnapshotDir, adapter, log, met)
	if err != nil {
		return nil, err
	}
	accounts, err := account.NewFileStore(cfg.AccountsPath(), cfg.Accounts.SealKey)
	if err != nil {
		return nil, err
	}
	sess := session.Open(cfg.SessionPath())
	index := search.New()
	jrnl, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return nil, err
	}
	mgr := account.NewManager(account.Options{
		Accounts:    accounts,
		Catalogs:    st,
		Auth:        adapter,
		Session:     sess,
		Index:       index,
		PlaylistDir: cfg.Paths.PlaylistDir,
		StaleAfter:  cfg.Accounts.StaleAfter,
		Log:         log,
	})
	return &app{cfg: cfg, log: log, store: st, mgr: mgr, sess: sess, index: index, jrnl: jrnl}, nil
}

func (a *app) close() {
	if a.jrnl != nil {
		a.jrnl.Close()
	}
}

// journaled runs op and records its outcome against sourceKey.
func (a *app) journaled(sourceKey string, op func() (*catalog.Catalog, error)) (*catalog.Catalog, error) {
	started := time.Now().UTC()
	cat, err := op()
	d := time.Since(started)
	if err != nil {
		if jerr := a.jrnl.Fail(sourceKey, started, d, err); jerr != nil {
			a.log.Warn().Err(jerr).Msg("journal write failed")
		}
		return nil, err
	}
	if jerr := a.jrnl.Ok(sourceKey, started, d, cat.Len(), len(cat.Warnings)); jerr != nil {
		a.log.Warn().Err(jerr).Msg("journal write failed")
	}
	return cat, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags]\n", os.Args[0])
	fmt.Fprint(os.Stderr, `  account-add     Verify an Xtream account and save it with its catalog
  account-list    List saved accounts
  account-delete  Remove an account, its snapshot and playlist
  refresh         Re-fetch an account's catalog
  switch          Make an account (-id) or M3U file (-file) the active source
  load-m3u        Load or reload a local M3U file
  render          Write a source's catalog as M3U to stdout or -out
  search          Prefix-search titles in the active catalog
  history         Show recent loads and refreshes
`)
	os.Exit(2)
}

func main() {
	addCmd := flag.NewFlagSet("account-add", flag.ExitOnError)
	addConfig := addCmd.String("config", "", "Config file (default: zedtv.yaml)")
	addName := addCmd.String("name", "", "Display name for the account")
	addHost := addCmd.String("host", "", "Portal host (hostname or URL)")
	addPort := addCmd.Int("port", 0, "Portal port (0 = scheme default)")
	addHTTPS := addCmd.Bool("https", false, "Use HTTPS")
	addUser := addCmd.String("username", "", "Portal username")
	addPass := addCmd.String("password", "", "Portal password")

	listCmd := flag.NewFlagSet("account-list", flag.ExitOnError)
	listConfig := listCmd.String("config", "", "Config file")

	delCmd := flag.NewFlagSet("account-delete", flag.ExitOnError)
	delConfig := delCmd.String("config", "", "Config file")
	delID := delCmd.String("id", "", "Account id (see account-list)")

	refreshCmd := flag.NewFlagSet("refresh", flag.ExitOnError)
	refreshConfig := refreshCmd.String("config", "", "Config file")
	refreshID := refreshCmd.String("id", "", "Account id to refresh")

	switchCmd := flag.NewFlagSet("switch", flag.ExitOnError)
	switchConfig := switchCmd.String("config", "", "Config file")
	switchID := switchCmd.String("id", "", "Account id to activate")
	switchFile := switchCmd.String("file", "", "M3U file to activate")

	loadCmd := flag.NewFlagSet("load-m3u", flag.ExitOnError)
	loadConfig := loadCmd.String("config", "", "Config file")
	loadFile := loadCmd.String("file", "", "M3U file path")

	renderCmd := flag.NewFlagSet("render", flag.ExitOnError)
	renderConfig := renderCmd.String("config", "", "Config file")
	renderID := renderCmd.String("id", "", "Account id to render")
	renderFile := renderCmd.String("file", "", "M3U file to render")
	renderOut := renderCmd.String("out", "", "Output path (default: stdout)")

	searchCmd := flag.NewFlagSet("search", flag.ExitOnError)
	searchConfig := searchCmd.String("config", "", "Config file")
	searchQuery := searchCmd.String("q", "", "Title prefix to search for")

	historyCmd := flag.NewFlagSet("history", flag.ExitOnError)
	historyConfig := historyCmd.String("config", "", "Config file")
	historyN := historyCmd.Int("n", 20, "Number of entries to show")

	if len(os.Args) < 2 {
		usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "account-add":
		_ = addCmd.Parse(os.Args[2:])
		err = runWith(*addConfig, func(a *app) error {
			return a.accountAdd(ctx, account.Input{
				Name: *addName, Host: *addHost, Port: *addPort,
				UseHTTPS: *addHTTPS, Username: *addUser, Password: *addPass,
			})
		})
	case "account-list":
		_ = listCmd.Parse(os.Args[2:])
		err = runWith(*listConfig, func(a *app) error { return a.accountList() })
	case "account-delete":
		_ = delCmd.Parse(os.Args[2:])
		err = runWith(*delConfig, func(a *app) error { return a.mgr.Delete(*delID) })
	case "refresh":
		_ = refreshCmd.Parse(os.Args[2:])
		err = runWith(*refreshConfig, func(a *app) error { return a.refresh(ctx, *refreshID) })
	case "switch":
		_ = switchCmd.Parse(os.Args[2:])
		err = runWith(*switchConfig, func(a *app) error { return a.switchActive(ctx, *switchID, *switchFile) })
	case "load-m3u":
		_ = loadCmd.Parse(os.Args[2:])
		err = runWith(*loadConfig, func(a *app) error { return a.loadM3U(ctx, *loadFile) })
	case "render":
		_ = renderCmd.Parse(os.Args[2:])
		err = runWith(*renderConfig, func(a *app) error {
			return a.render(ctx, *renderID, *renderFile, *renderOut)
		})
	case "search":
		_ = searchCmd.Parse(os.Args[2:])
		err = runWith(*searchConfig, func(a *app) error { return a.search(ctx, *searchQuery) })
	case "history":
		_ = historyCmd.Parse(os.Args[2:])
		err = runWith(*historyConfig, func(a *app) error { return a.history(*historyN) })
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runWith(cfgFile string, fn func(*app) error) error {
	a, err := newApp(cfgFile)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
