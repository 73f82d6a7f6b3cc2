package account

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/zedtv/zedtv-catalog/internal/source"
)

// FileStore persists all accounts in a single accounts.json document.
// When a seal key is configured, passwords are stored sealed with
// nacl/secretbox instead of in the clear; the rest of the schema is
// unchanged so existing files keep loading.
type FileStore struct {
	path string
	key  *[32]byte
	mu   sync.Mutex
}

// NewFileStore opens (or prepares to create) the accounts document at path.
// hexKey is an optional 64-hex-char secretbox key; empty disables sealing.
func NewFileStore(path, hexKey string) (*FileStore, error) {
	fs := &FileStore{path: path}
	if hexKey != "" {
		raw, err := hex.DecodeString(hexKey)
		if err != nil || len(raw) != 32 {
			return nil, &source.ValidationError{Field: "seal_key", Msg: "must be 64 hex characters (32 bytes)"}
		}
		fs.key = new([32]byte)
		copy(fs.key[:], raw)
	}
	return fs, nil
}

type document struct {
	Accounts []Snapshot `json:"accounts"`
}

// Load reads every saved account. A missing file is an empty list.
func (f *FileStore) Load() ([]Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

func (f *FileStore) loadLocked() ([]Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &source.PersistenceError{Path: f.path, Err: err}
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &source.PersistenceError{Path: f.path, Err: err}
	}
	for i := range doc.Accounts {
		if err := f.unseal(&doc.Accounts[i]); err != nil {
			return nil, err
		}
	}
	return doc.Accounts, nil
}

// Save writes the full account list atomically, replacing the document.
func (f *FileStore) Save(accts []Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveLocked(accts)
}

func (f *FileStore) saveLocked(accts []Snapshot) error {
	doc := document{Accounts: make([]Snapshot, len(accts))}
	copy(doc.Accounts, accts)
	for i := range doc.Accounts {
		if err := f.seal(&doc.Accounts[i]); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &source.PersistenceError{Path: f.path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return &source.PersistenceError{Path: f.path, Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".accounts-*.tmp")
	if err != nil {
		return &source.PersistenceError{Path: f.path, Err: err}
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr == nil {
			writeErr = closeErr
		}
		return &source.PersistenceError{Path: f.path, Err: writeErr}
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return &source.PersistenceError{Path: f.path, Err: err}
	}
	return nil
}

// Update applies fn to the current list under the store lock and persists
// the result, so concurrent callers never lose each other's writes.
func (f *FileStore) Update(fn func(accts []Snapshot) []Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	accts, err := f.loadLocked()
	if err != nil {
		return err
	}
	return f.saveLocked(fn(accts))
}

func (f *FileStore) seal(s *Snapshot) error {
	if f.key == nil || s.Password == "" {
		return nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return &source.PersistenceError{Path: f.path, Err: err}
	}
	box := secretbox.Seal(nonce[:], []byte(s.Password), &nonce, f.key)
	s.PasswordSealed = base64.StdEncoding.EncodeToString(box)
	s.Password = ""
	return nil
}

func (f *FileStore) unseal(s *Snapshot) error {
	if s.PasswordSealed == "" {
		return nil
	}
	if f.key == nil {
		return &source.PersistenceError{Path: f.path,
			Err: fmt.Errorf("account %q has a sealed password but no seal key is configured", s.Name)}
	}
	box, err := base64.StdEncoding.DecodeString(s.PasswordSealed)
	if err != nil || len(box) < 24 {
		return &source.PersistenceError{Path: f.path, Err: fmt.Errorf("account %q: corrupt sealed password", s.Name)}
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, f.key)
	if !ok {
		return &source.PersistenceError{Path: f.path, Err: fmt.Errorf("account %q: sealed password does not open with the configured key", s.Name)}
	}
	s.Password = string(plain)
	s.PasswordSealed = ""
	return nil
}
