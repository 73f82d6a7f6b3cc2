package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/zedtv/zedtv-catalog/internal/account"
	"github.com/zedtv/zedtv-catalog/internal/catalog"
	"github.com/zedtv/zedtv-catalog/internal/httpclient"
	"github.com/zedtv/zedtv-catalog/internal/ingest"
	"github.com/zedtv/zedtv-catalog/internal/journal"
	"github.com/zedtv/zedtv-catalog/internal/logging"
	"github.com/zedtv/zedtv-catalog/internal/m3u"
	"github.com/zedtv/zedtv-catalog/internal/playlist"
	"github.com/zedtv/zedtv-catalog/internal/search"
	"github.com/zedtv/zedtv-catalog/internal/session"
	"github.com/zedtv/zedtv-catalog/internal/store"
)

// fakePortal serves just enough player_api for a full account flow.
type fakePortal struct {
	mu         sync.Mutex
	liveStream string // extra live stream JSON appended after a "refresh"
}

func (p *fakePortal) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/player_api.php" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("username") != "bob" || r.URL.Query().Get("password") != "pw" {
			w.Write([]byte(`{"user_info":{"auth":0}}`))
			return
		}
		switch r.URL.Query().Get("action") {
		case "":
			w.Write([]byte(`{"user_info":{"auth":1,"status":"Active","exp_date":"1924992000","active_cons":"1","max_connections":"2","is_trial":"0"}}`))
		case "get_live_categories":
			w.Write([]byte(`[{"category_id":"1","category_name":"News"},{"category_id":"2","category_name":"Sports"}]`))
		case "get_live_streams":
			p.mu.Lock()
			extra := p.liveStream
			p.mu.Unlock()
			body := `[{"stream_id":1,"name":"BBC One","category_id":"1","stream_icon":"http://logo/1.png"},
				{"stream_id":2,"name":"BBC Two","category_id":"1"},
				{"stream_id":3,"name":"Sky Sports","category_id":"2"}`
			if extra != "" {
				body += "," + extra
			}
			w.Write([]byte(body + "]"))
		case "get_vod_categories":
			w.Write([]byte(`[{"category_id":"10","category_name":"Movies"}]`))
		case "get_vod_streams":
			w.Write([]byte(`[{"stream_id":100,"name":"Heat","category_id":"10","container_extension":"mkv","rating":"8.3","releasedate":"1995-12-15"}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}
}

type engine struct {
	store *store.Store
	mgr   *account.Manager
	sess  *session.Store
	index *search.Index
	jrnl  *journal.Journal
	plDir string
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	dir := t.TempDir()
	log := logging.Nop()
	adapter := ingest.New(ingest.Options{
		Client:   httpclient.WithTimeout(5 * time.Second),
		Retries:  1,
		Backoff:  time.Millisecond,
		Pace:     rate.Limit(10000),
		CacheTTL: -1, // refreshes must see fresh portal data
		Log:      log,
	})
	st, err := store.New(filepath.Join(dir, "snapshots"), adapter, log, nil)
	require.NoError(t, err)
	accounts, err := account.NewFileStore(filepath.Join(dir, "accounts.json"), "")
	require.NoError(t, err)
	sess := session.Open(filepath.Join(dir, "settings.json"))
	index := search.New()
	jrnl, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { jrnl.Close() })
	plDir := filepath.Join(dir, "playlists")
	mgr := account.NewManager(account.Options{
		Accounts:    accounts,
		Catalogs:    st,
		Auth:        adapter,
		Session:     sess,
		Index:       index,
		PlaylistDir: plDir,
		StaleAfter:  24 * time.Hour,
		Log:         log,
	})
	return &engine{store: st, mgr: mgr, sess: sess, index: index, jrnl: jrnl, plDir: plDir}
}

func TestAccountLifecycle(t *testing.T) {
	portal := &fakePortal{}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()
	eng := newEngine(t)
	ctx := context.Background()

	// Add: verify, fetch, persist.
	snap, err := eng.mgr.TestAndSave(ctx, account.Input{
		Name: "home", Host: srv.URL, Username: "bob", Password: "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, "Active", snap.Status)
	assert.Equal(t, 2, snap.MaxConns)

	cat, ok := eng.store.Cached(snap.Source())
	require.True(t, ok)
	assert.Equal(t, 4, cat.Len())
	require.Len(t, cat.Categories, 3)
	assert.Equal(t, "News", cat.Categories[0].Name)
	assert.Equal(t, "Sports", cat.Categories[1].Name)
	assert.Equal(t, "Movies", cat.Categories[2].Name)

	// Switch activates the account: session + search index.
	_, err = eng.mgr.SwitchActive(ctx, snap.Source())
	require.NoError(t, err)
	hits := eng.index.Search("bbc")
	require.Len(t, hits, 2)
	assert.Equal(t, "BBC One", hits[0].Title)
	assert.Equal(t, "BBC Two", hits[1].Title)
	assert.Empty(t, eng.index.Search("zzz"))

	// The generated playlist parses back to the same records.
	plPath := filepath.Join(eng.plDir, playlist.FileName(snap.AccountID, "bob"))
	data, err := os.ReadFile(plPath)
	require.NoError(t, err)
	entries, warnings, err := m3u.ParseBytes(data)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	recs := make([]catalog.Record, 0, len(entries))
	for _, e := range entries {
		recs = append(recs, catalog.Normalize(e))
	}
	assert.Equal(t, cat.Records(), catalog.Build(cat.SourceKey, recs, nil).Records())

	// Refresh sees new portal content.
	portal.mu.Lock()
	portal.liveStream = `{"stream_id":4,"name":"CNN","category_id":"1"}`
	portal.mu.Unlock()
	cat2, err := eng.mgr.RefreshSnapshot(ctx, snap.AccountID)
	require.NoError(t, err)
	assert.Equal(t, 5, cat2.Len())

	// History recorded nothing yet (journal is driven by the CLI layer).
	recent, err := eng.jrnl.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	// Delete cascades account, snapshot, playlist, session.
	require.NoError(t, eng.mgr.Delete(snap.AccountID))
	_, err = eng.mgr.Get(snap.AccountID)
	assert.ErrorIs(t, err, account.ErrNotFound)
	_, err = os.Stat(plPath)
	assert.True(t, os.IsNotExist(err))
	_, ok = eng.sess.Restore(eng.mgr.Resolve)
	assert.False(t, ok)
}

func TestAddRejectedCredentials(t *testing.T) {
	portal := &fakePortal{}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()
	eng := newEngine(t)

	_, err := eng.mgr.TestAndSave(context.Background(), account.Input{
		Name: "bad", Host: srv.URL, Username: "bob", Password: "wrong",
	})
	require.Error(t, err)
	saved, err := eng.mgr.List()
	require.NoError(t, err)
	assert.Empty(t, saved)
}
