// Package store caches normalized catalogs in memory and as zstd-compressed
// JSON snapshots on disk, one file per source.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/zedtv/zedtv-catalog/internal/catalog"
	"github.com/zedtv/zedtv-catalog/internal/metrics"
	"github.com/zedtv/zedtv-catalog/internal/source"
)

// Fetcher produces a fresh catalog for a source. Implemented by the ingest
// adapter; faked in tests.
type Fetcher interface {
	Fetch(ctx context.Context, src source.Source) (*catalog.Catalog, error)
}

// Store is the catalog cache. All writes for one source go through Load, so
// the account manager's per-account serialization carries over to disk.
type Store struct {
	dir     string
	fetcher Fetcher
	log     zerolog.Logger
	met     *metrics.Metrics

	mu  sync.RWMutex
	mem map[string]*catalog.Catalog

	enc *zstd.Encoder
	dec *zstd.Decoder
}

func New(dir string, fetcher Fetcher, log zerolog.Logger, met *metrics.Metrics) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Store{
		dir:     dir,
		fetcher: fetcher,
		log:     log,
		met:     met,
		mem:     make(map[string]*catalog.Catalog),
		enc:     enc,
		dec:     dec,
	}, nil
}

// Load returns the catalog for src. Without force it serves the in-memory
// copy, then the on-disk snapshot; only then does it fetch. With force it
// always re-fetches and atomically replaces the snapshot — a failed fetch
// or persist leaves the previous snapshot intact and returns the error.
func (s *Store) Load(ctx context.Context, src source.Source, force bool) (*catalog.Catalog, error) {
	key := src.Key()
	if !force {
		s.mu.RLock()
		cached := s.mem[key]
		s.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}
		if cat, err := s.readSnapshot(key); err == nil {
			s.keep(key, cat)
			return cat, nil
		}
	}

	cat, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := s.writeSnapshot(key, cat); err != nil {
		return nil, err
	}
	s.keep(key, cat)
	return cat, nil
}

// Refresh always re-fetches. Shorthand for Load(ctx, src, true).
func (s *Store) Refresh(ctx context.Context, src source.Source) (*catalog.Catalog, error) {
	return s.Load(ctx, src, true)
}

// Cached returns the in-memory catalog without touching disk or network.
func (s *Store) Cached(src source.Source) (*catalog.Catalog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.mem[src.Key()]
	return c, ok
}

// Delete removes the snapshot file and the in-memory entry for src.
func (s *Store) Delete(src source.Source) error {
	key := src.Key()
	s.mu.Lock()
	delete(s.mem, key)
	s.mu.Unlock()
	err := os.Remove(s.snapshotPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) keep(key string, cat *catalog.Catalog) {
	s.mu.Lock()
	s.mem[key] = cat
	s.mu.Unlock()
	s.met.SetRecords(key, cat.Len())
}

func (s *Store) snapshotPath(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json.zst")
}

func sanitizeKey(key string) string {
	s := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, key)
	if s == "" {
		s = "unknown"
	}
	return s
}

func (s *Store) readSnapshot(key string) (*catalog.Catalog, error) {
	data, err := os.ReadFile(s.snapshotPath(key))
	if err != nil {
		return nil, err
	}
	raw, err := s.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: decompress: %w", key, err)
	}
	var cat catalog.Catalog
	if err := json.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("snapshot %s: decode: %w", key, err)
	}
	return &cat, nil
}

// writeSnapshot persists via temp-file-then-rename so readers and crashes
// never observe a half-written snapshot.
func (s *Store) writeSnapshot(key string, cat *catalog.Catalog) error {
	start := time.Now()
	path := s.snapshotPath(key)
	raw, err := json.Marshal(cat)
	if err != nil {
		return &source.PersistenceError{Path: path, Err: err}
	}
	data := s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/3))

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return &source.PersistenceError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr == nil {
			writeErr = closeErr
		}
		return &source.PersistenceError{Path: path, Err: writeErr}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &source.PersistenceError{Path: path, Err: err}
	}
	s.met.ObservePersist(time.Since(start))
	s.log.Debug().Str("source", key).Int("bytes", len(data)).Msg("snapshot written")
	return nil
}
