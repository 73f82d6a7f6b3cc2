// Package catalog holds the canonical channel/VOD model every source is
// normalized into, plus the dedup/build logic that turns a flat record list
// into a category-ordered catalog.
package catalog

import (
	"fmt"
	"time"
)

// Kind is the media variant of a record.
type Kind uint8

const (
	Live Kind = iota
	Movie
	Series
)

func (k Kind) String() string {
	switch k {
	case Movie:
		return "movie"
	case Series:
		return "series"
	default:
		return "live"
	}
}

// MarshalJSON encodes Kind as its string form so snapshots stay readable.
func (k Kind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"live"`:
		*k = Live
	case `"movie"`:
		*k = Movie
	case `"series"`:
		*k = Series
	default:
		return fmt.Errorf("unknown kind %s", b)
	}
	return nil
}

// Record is one normalized channel or VOD item.
// ID is stable per source snapshot: the Xtream stream id, or a hash of
// URL+title for plain M3U entries. StreamURL is never empty in a built
// catalog.
type Record struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	LogoURL     string `json:"logo_url,omitempty"`
	StreamURL   string `json:"stream_url"`
	Rating      string `json:"rating,omitempty"`
	ReleaseYear int    `json:"release_year,omitempty"`
	Kind        Kind   `json:"kind"`
}

// Category groups records under one provider category, in provider order.
type Category struct {
	Name    string   `json:"name"`
	Records []Record `json:"records"`
}

// Catalog is the normalized snapshot of one source.
type Catalog struct {
	SourceKey  string     `json:"source_key"`
	FetchedAt  time.Time  `json:"fetched_at"`
	Categories []Category `json:"categories"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// Build assembles a catalog from records in source order. Records sharing an
// ID keep the last-seen occurrence (provider listings repeat entries across
// category pages); records with an empty StreamURL are dropped with a
// warning. Category order is first-appearance order of the surviving
// records.
func Build(sourceKey string, records []Record, warnings []string) *Catalog {
	kept := make([]Record, 0, len(records))
	byID := make(map[string]int, len(records))
	for _, r := range records {
		if r.StreamURL == "" {
			warnings = append(warnings, fmt.Sprintf("record %q (%s): empty stream URL, dropped", r.Title, r.ID))
			continue
		}
		if i, dup := byID[r.ID]; dup {
			// Last wins: the later occurrence replaces the earlier one and
			// takes the later position.
			kept = append(kept[:i], kept[i+1:]...)
			for id, j := range byID {
				if j > i {
					byID[id] = j - 1
				}
			}
		}
		byID[r.ID] = len(kept)
		kept = append(kept, r)
	}

	var cats []Category
	catIdx := make(map[string]int)
	for _, r := range kept {
		i, ok := catIdx[r.Category]
		if !ok {
			i = len(cats)
			catIdx[r.Category] = i
			cats = append(cats, Category{Name: r.Category})
		}
		cats[i].Records = append(cats[i].Records, r)
	}

	return &Catalog{
		SourceKey:  sourceKey,
		FetchedAt:  time.Now().UTC().Truncate(time.Second),
		Categories: cats,
		Warnings:   warnings,
	}
}

// Records returns all records flattened in catalog order.
func (c *Catalog) Records() []Record {
	var out []Record
	for _, cat := range c.Categories {
		out = append(out, cat.Records...)
	}
	return out
}

// Len is the total record count.
func (c *Catalog) Len() int {
	n := 0
	for _, cat := range c.Categories {
		n += len(cat.Records)
	}
	return n
}
