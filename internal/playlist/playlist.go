// Package playlist renders catalogs back to M3U text so every source can be
// consumed uniformly, and writes per-account playlist files.
package playlist

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zedtv/zedtv-catalog/internal/catalog"
	"github.com/zedtv/zedtv-catalog/internal/source"
)

// Render serializes cat as M3U. Deterministic: the same catalog renders to
// byte-identical output, so downstream tools can diff or hash the file.
// One #EXTINF line plus one URL line per record, in catalog order;
// attributes appear only when the record carries them.
func Render(cat *catalog.Catalog) []byte {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, c := range cat.Categories {
		for _, r := range c.Records {
			writeEXTINF(&b, c.Name, r)
			b.WriteString(r.StreamURL)
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}

func writeEXTINF(b *strings.Builder, category string, r catalog.Record) {
	b.WriteString(`#EXTINF:-1 tvg-id="`)
	b.WriteString(escapeAttr(r.ID))
	b.WriteByte('"')
	if r.LogoURL != "" {
		b.WriteString(` tvg-logo="`)
		b.WriteString(escapeAttr(r.LogoURL))
		b.WriteByte('"')
	}
	b.WriteString(` group-title="`)
	b.WriteString(escapeAttr(kindPrefix(r.Kind) + category))
	b.WriteByte('"')
	if r.Rating != "" {
		b.WriteString(` rating="`)
		b.WriteString(escapeAttr(r.Rating))
		b.WriteByte('"')
	}
	if r.ReleaseYear != 0 {
		b.WriteString(` releasedate="`)
		b.WriteString(strconv.Itoa(r.ReleaseYear))
		b.WriteByte('"')
	}
	b.WriteByte(',')
	b.WriteString(r.Title)
	b.WriteByte('\n')
}

// kindPrefix marks the record kind in the group title the way generated
// Xtream playlists do, so the parser can restore the kind.
func kindPrefix(k catalog.Kind) string {
	switch k {
	case catalog.Movie:
		return "[VOD] "
	case catalog.Series:
		return "[SERIES] "
	}
	return "[LIVE] "
}

// escapeAttr keeps attribute values from breaking the EXTINF line: quotes
// and commas would shift the title separator, control characters the line
// structure.
func escapeAttr(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '"':
			return '\''
		case r == ',':
			return ' '
		case r < 0x20 || r == 0x7f:
			return ' '
		}
		return r
	}, s)
}

// FileName derives the per-account playlist name from the username and
// account id, sanitized against path separators and control characters.
func FileName(accountID, username string) string {
	return "xtream_" + sanitize(username) + "_" + sanitize(accountID) + ".m3u"
}

func sanitize(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == 0:
			return '_'
		case r < 0x20:
			return '_'
		}
		return r
	}, s)
	if out == "" {
		out = "unknown"
	}
	return out
}

// WriteFile renders cat into dir under name, replacing any previous file
// wholesale via temp-then-rename.
func WriteFile(dir, name string, cat *catalog.Catalog) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &source.PersistenceError{Path: dir, Err: err}
	}
	path := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, ".playlist-*.tmp")
	if err != nil {
		return "", &source.PersistenceError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(Render(cat))
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr == nil {
			writeErr = closeErr
		}
		return "", &source.PersistenceError{Path: path, Err: writeErr}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", &source.PersistenceError{Path: path, Err: err}
	}
	return path, nil
}
