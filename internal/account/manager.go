package account

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zedtv/zedtv-catalog/internal/catalog"
	"github.com/zedtv/zedtv-catalog/internal/playlist"
	"github.com/zedtv/zedtv-catalog/internal/search"
	"github.com/zedtv/zedtv-catalog/internal/session"
	"github.com/zedtv/zedtv-catalog/internal/source"
	"github.com/zedtv/zedtv-catalog/internal/xtream"
)

// ErrNotFound is returned when an account id does not resolve.
var ErrNotFound = errors.New("account not found")

// Catalogs is the catalog store surface the manager needs.
type Catalogs interface {
	Load(ctx context.Context, src source.Source, force bool) (*catalog.Catalog, error)
	Delete(src source.Source) error
}

// Authenticator verifies credentials against the portal and returns the
// server-reported account status.
type Authenticator interface {
	Authenticate(ctx context.Context, acct source.XtreamAccount) (*xtream.AccountStatus, error)
}

// Options wires the manager's collaborators.
type Options struct {
	Accounts    *FileStore
	Catalogs    Catalogs
	Auth        Authenticator
	Session     *session.Store
	Index       *search.Index
	PlaylistDir string
	StaleAfter  time.Duration
	Log         zerolog.Logger
}

// Manager owns the account lifecycle. Writes for one account are
// serialized; different accounts proceed concurrently.
type Manager struct {
	opts Options

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	inflight map[string]context.CancelFunc
}

func NewManager(opts Options) *Manager {
	return &Manager{
		opts:     opts,
		locks:    make(map[string]*sync.Mutex),
		inflight: make(map[string]context.CancelFunc),
	}
}

// TestAndSave validates the input, verifies the credentials against the
// portal, fetches the full catalog, and only then persists the account, its
// snapshot, and its playlist. A rejected or unreachable portal leaves no
// trace; an empty catalog from a working portal is saved normally.
func (m *Manager) TestAndSave(ctx context.Context, in Input) (*Snapshot, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	snap := Snapshot{
		AccountID: uuid.NewString(),
		Name:      in.Name,
		Host:      in.Host,
		Port:      in.Port,
		UseHTTPS:  in.UseHTTPS,
		Username:  in.Username,
		Password:  in.Password,
	}
	unlock := m.lock(snap.AccountID)
	defer unlock()

	cat, err := m.verify(ctx, &snap)
	if err != nil {
		return nil, err
	}
	if err := m.put(snap); err != nil {
		return nil, err
	}
	if err := m.writePlaylist(&snap, cat); err != nil {
		return nil, err
	}
	m.opts.Log.Info().Str("account", snap.Name).Int("records", cat.Len()).Msg("account saved")
	return &snap, nil
}

// RefreshSnapshot re-fetches the account's catalog and updates the
// server-reported status fields. A failed refresh leaves the previous
// snapshot and account record untouched. The refresh is aborted if the
// account is deleted while it runs.
func (m *Manager) RefreshSnapshot(ctx context.Context, accountID string) (*catalog.Catalog, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.register(accountID, cancel)
	defer m.unregister(accountID)

	unlock := m.lock(accountID)
	defer unlock()

	// Read under the lock: a delete that won the lock first must make this
	// refresh a not-found, never a resurrection.
	snap, err := m.Get(accountID)
	if err != nil {
		return nil, err
	}
	cat, err := m.verify(ctx, snap)
	if err != nil {
		return nil, err
	}
	if err := m.replace(*snap); err != nil {
		return nil, err
	}
	if err := m.writePlaylist(snap, cat); err != nil {
		return nil, err
	}
	m.opts.Log.Info().Str("account", snap.Name).Int("records", cat.Len()).Msg("account refreshed")
	return cat, nil
}

// verify authenticates and force-fetches, filling snap's status fields.
func (m *Manager) verify(ctx context.Context, snap *Snapshot) (*catalog.Catalog, error) {
	acct := snap.Source()
	st, err := m.opts.Auth.Authenticate(ctx, acct)
	if err != nil {
		return nil, err
	}
	cat, err := m.opts.Catalogs.Load(ctx, acct, true)
	if err != nil {
		return nil, err
	}
	snap.Status = st.Status
	snap.ExpiresAt = st.ExpiresAt
	snap.ActiveConns = st.ActiveConns
	snap.MaxConns = st.MaxConns
	snap.Trial = st.Trial
	snap.FetchedAt = cat.FetchedAt
	return cat, nil
}

// Delete removes the account and cascades: any in-flight refresh is
// canceled, then the catalog snapshot, the generated playlist, and the
// session reference go with it.
func (m *Manager) Delete(accountID string) error {
	snap, err := m.Get(accountID)
	if err != nil {
		return err
	}
	m.cancelInflight(accountID)
	unlock := m.lock(accountID)
	defer unlock()

	if err := m.opts.Accounts.Update(func(accts []Snapshot) []Snapshot {
		out := accts[:0]
		for _, a := range accts {
			if a.AccountID != accountID {
				out = append(out, a)
			}
		}
		return out
	}); err != nil {
		return err
	}
	if err := m.opts.Catalogs.Delete(snap.Source()); err != nil {
		return err
	}
	path := filepath.Join(m.opts.PlaylistDir, playlist.FileName(snap.AccountID, snap.Username))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &source.PersistenceError{Path: path, Err: err}
	}
	if m.opts.Session != nil {
		if err := m.opts.Session.Forget(accountID); err != nil {
			return err
		}
	}
	m.opts.Log.Info().Str("account", snap.Name).Msg("account deleted")
	return nil
}

// SwitchActive makes src the active source: its catalog is loaded (cached
// unless nothing is cached yet), the search index is rebuilt from it, and
// the session remembers the choice.
func (m *Manager) SwitchActive(ctx context.Context, src source.Source) (*catalog.Catalog, error) {
	cat, err := m.opts.Catalogs.Load(ctx, src, false)
	if err != nil {
		return nil, err
	}
	if m.opts.Index != nil {
		m.opts.Index.Rebuild(cat)
	}
	if m.opts.Session != nil {
		switch s := src.(type) {
		case source.XtreamAccount:
			err = m.opts.Session.RememberAccount(s.AccountID)
		case source.LocalFile:
			err = m.opts.Session.RememberM3U(s.Path)
		}
		if err != nil {
			return nil, err
		}
	}
	return cat, nil
}

// List returns all saved accounts.
func (m *Manager) List() ([]Snapshot, error) {
	return m.opts.Accounts.Load()
}

// Get returns the saved account with the given id.
func (m *Manager) Get(accountID string) (*Snapshot, error) {
	accts, err := m.opts.Accounts.Load()
	if err != nil {
		return nil, err
	}
	for i := range accts {
		if accts[i].AccountID == accountID {
			return &accts[i], nil
		}
	}
	return nil, ErrNotFound
}

// Resolve maps an account id to its source, for session restore.
func (m *Manager) Resolve(accountID string) (source.Source, bool) {
	snap, err := m.Get(accountID)
	if err != nil {
		return nil, false
	}
	return snap.Source(), true
}

// StateOf derives the lifecycle state using the configured staleness.
func (m *Manager) StateOf(s *Snapshot) State {
	return StateOf(s, m.opts.StaleAfter, time.Now())
}

func (m *Manager) writePlaylist(snap *Snapshot, cat *catalog.Catalog) error {
	if m.opts.PlaylistDir == "" {
		return nil
	}
	_, err := playlist.WriteFile(m.opts.PlaylistDir, playlist.FileName(snap.AccountID, snap.Username), cat)
	return err
}

// replace updates an existing account in place. It never inserts: a refresh
// racing a delete must not bring the account back.
func (m *Manager) replace(snap Snapshot) error {
	found := false
	if err := m.opts.Accounts.Update(func(accts []Snapshot) []Snapshot {
		for i := range accts {
			if accts[i].AccountID == snap.AccountID {
				accts[i] = snap
				found = true
			}
		}
		return accts
	}); err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// put inserts or replaces snap in the accounts document.
func (m *Manager) put(snap Snapshot) error {
	return m.opts.Accounts.Update(func(accts []Snapshot) []Snapshot {
		for i := range accts {
			if accts[i].AccountID == snap.AccountID {
				accts[i] = snap
				return accts
			}
		}
		return append(accts, snap)
	})
}

func (m *Manager) lock(accountID string) func() {
	m.mu.Lock()
	l, ok := m.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[accountID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) register(accountID string, cancel context.CancelFunc) {
	m.mu.Lock()
	m.inflight[accountID] = cancel
	m.mu.Unlock()
}

func (m *Manager) unregister(accountID string) {
	m.mu.Lock()
	delete(m.inflight, accountID)
	m.mu.Unlock()
}

func (m *Manager) cancelInflight(accountID string) {
	m.mu.Lock()
	cancel := m.inflight[accountID]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
