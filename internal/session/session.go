// Package session remembers which source the user had active so the next
// start can restore it.
package session

import (
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/zedtv/zedtv-catalog/internal/source"
)

const (
	choiceAccount = "account"
	choiceM3U     = "m3u"
)

type state struct {
	LastChoice  string `json:"last_choice,omitempty"`
	LastAccount string `json:"last_account,omitempty"`
	LastM3U     string `json:"last_m3u,omitempty"`
}

// Store reads and writes the settings file. Setters write through
// immediately so a crash never loses the last choice.
type Store struct {
	path string
	mu   sync.Mutex
	st   state
}

// Open loads the settings file at path, treating a missing or unreadable
// file as a fresh session.
func Open(path string) *Store {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err == nil {
		// A corrupt file starts over rather than blocking startup.
		_ = json.Unmarshal(data, &s.st)
	}
	return s
}

// RememberAccount marks an account as the active source.
func (s *Store) RememberAccount(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.LastChoice = choiceAccount
	s.st.LastAccount = accountID
	return s.write()
}

// RememberM3U marks a local playlist file as the active source.
func (s *Store) RememberM3U(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.LastChoice = choiceM3U
	s.st.LastM3U = path
	return s.write()
}

// Forget clears a remembered account, falling back to the last M3U file
// if one is known. Used when the remembered account is deleted.
func (s *Store) Forget(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.LastAccount != accountID {
		return nil
	}
	s.st.LastAccount = ""
	if s.st.LastChoice == choiceAccount {
		s.st.LastChoice = ""
		if s.st.LastM3U != "" {
			s.st.LastChoice = choiceM3U
		}
	}
	return s.write()
}

// Restore returns the preferred source to reopen: the last account when one
// was chosen, else the last M3U file, else nothing. lookup resolves an
// account id to its source and reports whether it still exists.
func (s *Store) Restore(lookup func(accountID string) (source.Source, bool)) (source.Source, bool) {
	s.mu.Lock()
	st := s.st
	s.mu.Unlock()

	if st.LastChoice == choiceAccount && st.LastAccount != "" {
		if src, ok := lookup(st.LastAccount); ok {
			return src, true
		}
	}
	if st.LastM3U != "" {
		if _, err := os.Stat(st.LastM3U); err == nil {
			return source.LocalFile{Path: st.LastM3U}, true
		}
	}
	return nil, false
}

func (s *Store) write() error {
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return &source.PersistenceError{Path: s.path, Err: err}
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &source.PersistenceError{Path: s.path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return &source.PersistenceError{Path: s.path, Err: err}
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr == nil {
			writeErr = closeErr
		}
		return &source.PersistenceError{Path: s.path, Err: writeErr}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &source.PersistenceError{Path: s.path, Err: err}
	}
	return nil
}
