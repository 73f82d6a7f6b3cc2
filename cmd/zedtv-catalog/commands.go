package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/zedtv/zedtv-catalog/internal/account"
	"github.com/zedtv/zedtv-catalog/internal/catalog"
	"github.com/zedtv/zedtv-catalog/internal/playlist"
	"github.com/zedtv/zedtv-catalog/internal/source"
)

func (a *app) accountAdd(ctx context.Context, in account.Input) error {
	started := time.Now().UTC()
	snap, err := a.mgr.TestAndSave(ctx, in)
	took := time.Since(started)
	if err != nil {
		if jerr := a.jrnl.Fail("acct_new", started, took, err); jerr != nil {
			a.log.Warn().Err(jerr).Msg("journal write failed")
		}
		return describeAddFailure(err)
	}
	records, warnings := 0, 0
	if cat, ok := a.store.Cached(snap.Source()); ok {
		records, warnings = cat.Len(), len(cat.Warnings)
	}
	if jerr := a.jrnl.Ok(snap.Source().Key(), started, took, records, warnings); jerr != nil {
		a.log.Warn().Err(jerr).Msg("journal write failed")
	}
	fmt.Print(snap.FormatInfo())
	fmt.Printf("Playlist:    %s\n", playlist.FileName(snap.AccountID, snap.Username))
	return nil
}

// describeAddFailure keeps the distinct failure reasons visible to the user.
func describeAddFailure(err error) error {
	kind, ok := source.FetchKindOf(err)
	if !ok {
		return err
	}
	switch kind {
	case source.AuthRejected:
		return fmt.Errorf("portal rejected the credentials: %w", err)
	case source.Unreachable:
		return fmt.Errorf("portal unreachable: %w", err)
	case source.Timeout:
		return fmt.Errorf("portal timed out: %w", err)
	case source.MalformedResponse:
		return fmt.Errorf("portal sent an unusable response: %w", err)
	}
	return err
}

func (a *app) accountList() error {
	accts, err := a.mgr.List()
	if err != nil {
		return err
	}
	if len(accts) == 0 {
		fmt.Println("No accounts saved.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSERVER\tSTATE\tFETCHED")
	for i := range accts {
		s := &accts[i]
		fetched := "never"
		if !s.FetchedAt.IsZero() {
			fetched = s.FetchedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.AccountID, s.Name, s.Source().BaseURL(), a.mgr.StateOf(s), fetched)
	}
	return w.Flush()
}

func (a *app) refresh(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("refresh needs -id (see account-list)")
	}
	snap, err := a.mgr.Get(id)
	if err != nil {
		return err
	}
	cat, err := a.journaled(snap.Source().Key(), func() (*catalog.Catalog, error) {
		return a.mgr.RefreshSnapshot(ctx, id)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Refreshed %s: %d records in %d categories, %d warnings\n",
		snap.Name, cat.Len(), len(cat.Categories), len(cat.Warnings))
	printWarnings(cat)
	return nil
}

func (a *app) switchActive(ctx context.Context, id, file string) error {
	src, err := a.resolveSource(id, file)
	if err != nil {
		return err
	}
	cat, err := a.mgr.SwitchActive(ctx, src)
	if err != nil {
		return err
	}
	fmt.Printf("Active source: %s (%d records)\n", src.Key(), cat.Len())
	return nil
}

func (a *app) loadM3U(ctx context.Context, file string) error {
	if file == "" {
		return errors.New("load-m3u needs -file")
	}
	src := source.LocalFile{Path: file}
	cat, err := a.journaled(src.Key(), func() (*catalog.Catalog, error) {
		return a.store.Refresh(ctx, src)
	})
	if err != nil {
		return err
	}
	a.index.Rebuild(cat)
	if err := a.sess.RememberM3U(file); err != nil {
		return err
	}
	fmt.Printf("Loaded %s: %d records in %d categories, %d warnings\n",
		file, cat.Len(), len(cat.Categories), len(cat.Warnings))
	printWarnings(cat)
	return nil
}

func (a *app) render(ctx context.Context, id, file, out string) error {
	src, err := a.resolveSource(id, file)
	if err != nil {
		return err
	}
	cat, err := a.store.Load(ctx, src, false)
	if err != nil {
		return err
	}
	if out == "" {
		_, err = os.Stdout.Write(playlist.Render(cat))
		return err
	}
	data := playlist.Render(cat)
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return &source.PersistenceError{Path: out, Err: err}
	}
	fmt.Fprintf(os.Stderr, "Wrote %d records to %s\n", cat.Len(), out)
	return nil
}

func (a *app) search(ctx context.Context, query string) error {
	if query == "" {
		return errors.New("search needs -q")
	}
	src, ok := a.sess.Restore(a.mgr.Resolve)
	if !ok {
		return errors.New("no active source; run switch or load-m3u first")
	}
	cat, err := a.store.Load(ctx, src, false)
	if err != nil {
		return err
	}
	a.index.Rebuild(cat)
	hits := a.index.Search(query)
	if len(hits) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, r := range hits {
		fmt.Printf("%-8s %-30s %s\n", r.Kind, r.Title, r.Category)
	}
	return nil
}

func (a *app) history(n int) error {
	entries, err := a.jrnl.Recent(n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No history.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSOURCE\tSTATUS\tRECORDS\tWARNINGS\tTOOK\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			e.StartedAt.Format(time.RFC3339), e.SourceKey, e.Status,
			e.Records, e.Warnings, e.Duration.Round(time.Millisecond), e.Error)
	}
	return w.Flush()
}

func (a *app) resolveSource(id, file string) (source.Source, error) {
	switch {
	case id != "" && file != "":
		return nil, errors.New("use either -id or -file, not both")
	case id != "":
		snap, err := a.mgr.Get(id)
		if err != nil {
			return nil, err
		}
		return snap.Source(), nil
	case file != "":
		return source.LocalFile{Path: file}, nil
	}
	return nil, errors.New("need -id or -file")
}

func printWarnings(cat *catalog.Catalog) {
	for _, warn := range cat.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", warn)
	}
}
