package catalog

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Uncategorized is the sentinel category for entries whose source supplies
// no usable group/category name.
const Uncategorized = "Uncategorized"

// RawEntry is the unit a source adapter yields before normalization: an M3U
// EXTINF+URL pair, or an Xtream JSON record with its category name already
// resolved.
type RawEntry struct {
	ID          string // Xtream stream id or tvg-id; empty = derive from URL+title
	Title       string
	Category    string
	LogoURL     string
	StreamURL   string
	Rating      string
	ReleaseYear int
	Kind        Kind
}

// Normalize converts a raw entry into its canonical record. Idempotent:
// equal inputs yield byte-identical records, which dedup and snapshot
// caching rely on. Control characters are squashed out of title and
// category so a hostile portal name cannot break M3U line structure.
func Normalize(e RawEntry) Record {
	title := cleanText(e.Title)
	streamURL := strings.TrimSpace(e.StreamURL)
	id := strings.TrimSpace(e.ID)
	if id == "" {
		id = stableID(streamURL, title)
	}
	category := cleanText(e.Category)
	if category == "" {
		category = Uncategorized
	}
	return Record{
		ID:          id,
		Title:       title,
		Category:    category,
		LogoURL:     strings.TrimSpace(e.LogoURL),
		StreamURL:   streamURL,
		Rating:      strings.TrimSpace(e.Rating),
		ReleaseYear: e.ReleaseYear,
		Kind:        e.Kind,
	}
}

// cleanText trims a display string and replaces control characters
// (newlines included) with spaces.
func cleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// stableID hashes URL+title into a compact id for sources without one.
func stableID(url, title string) string {
	h := fnv.New64a()
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(title))
	return "id_" + strconv.FormatUint(h.Sum64(), 36)
}
