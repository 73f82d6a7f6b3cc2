// Package search provides title lookup over the active catalog.
package search

import (
	"strings"
	"sync"

	"github.com/zedtv/zedtv-catalog/internal/catalog"
)

type entry struct {
	lower string
	rec   catalog.Record
}

// Index answers case-insensitive prefix queries against one catalog.
// Rebuild replaces the whole index; there is no incremental update, so the
// index always reflects exactly one catalog generation.
type Index struct {
	mu      sync.RWMutex
	entries []entry
}

func New() *Index { return &Index{} }

// Rebuild indexes cat in catalog order, discarding the previous contents.
// A nil catalog empties the index.
func (ix *Index) Rebuild(cat *catalog.Catalog) {
	var entries []entry
	if cat != nil {
		recs := cat.Records()
		entries = make([]entry, 0, len(recs))
		for _, r := range recs {
			entries = append(entries, entry{lower: strings.ToLower(r.Title), rec: r})
		}
	}
	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()
}

// Search returns records whose title starts with query, ignoring case, in
// catalog order. An empty query matches nothing.
func (ix *Index) Search(query string) []catalog.Record {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []catalog.Record
	for _, e := range ix.entries {
		if strings.HasPrefix(e.lower, q) {
			out = append(out, e.rec)
		}
	}
	return out
}

// Len reports how many records are indexed.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}
