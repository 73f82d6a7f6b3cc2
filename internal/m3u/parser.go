// Package m3u parses M3U playlists into raw catalog entries.
package m3u

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/zedtv/zedtv-catalog/internal/catalog"
)

const maxLineSize = 1 << 20 // 1 MiB per line; some EXTINF lines are very long

var (
	reTvgID   = regexp.MustCompile(`tvg-id="([^"]*)"`)
	reTvgLogo = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	reGroup   = regexp.MustCompile(`group-title="([^"]*)"`)
	reRating  = regexp.MustCompile(`rating="([^"]*)"`)
	reRelease = regexp.MustCompile(`releasedate="([^"]*)"`)
)

// Parse reads an M3U playlist and returns raw entries plus soft warnings.
// Tolerates CRLF and LF, a UTF-8 BOM, a missing #EXTM3U header, and blank
// lines between pairs. An #EXTINF with no following URL is skipped and
// recorded as one warning; partial lists still load.
func Parse(r io.Reader) ([]catalog.RawEntry, []string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var entries []catalog.RawEntry
	var warnings []string
	var extinf string
	var extinfLine int
	var extgrp string
	lineNo := 0

	flushPending := func() {
		if extinf != "" {
			warnings = append(warnings, fmt.Sprintf("line %d: #EXTINF without stream URL, skipped", extinfLine))
			extinf = ""
		}
	}

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\uFEFF"))
		switch {
		case line == "" || strings.HasPrefix(line, "#EXTM3U"):
			continue
		case strings.HasPrefix(line, "#EXTGRP:"):
			extgrp = strings.TrimSpace(strings.TrimPrefix(line, "#EXTGRP:"))
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			flushPending()
			extinf = line
			extinfLine = lineNo
			continue
		case strings.HasPrefix(line, "#"):
			// EXTVLCOPT/KODIPROP and other tags carry no catalog data.
			continue
		}
		if extinf == "" {
			continue // stray URL with no EXTINF
		}
		entries = append(entries, entryFromEXTINF(extinf, line, extgrp))
		extinf = ""
		extgrp = ""
	}
	if err := sc.Err(); err != nil {
		return nil, warnings, err
	}
	flushPending()
	return entries, warnings, nil
}

// ParseBytes parses a playlist held in memory.
func ParseBytes(data []byte) ([]catalog.RawEntry, []string, error) {
	return Parse(strings.NewReader(string(data)))
}

func entryFromEXTINF(extinf, url, extgrp string) catalog.RawEntry {
	title := ""
	if i := strings.Index(extinf, ","); i >= 0 {
		title = strings.TrimSpace(extinf[i+1:])
	}
	group := matchFirst(reGroup, extinf)
	if group == "" {
		group = extgrp
	}
	group, kind := splitKindPrefix(group)

	e := catalog.RawEntry{
		ID:        matchFirst(reTvgID, extinf),
		Title:     title,
		Category:  group,
		LogoURL:   matchFirst(reTvgLogo, extinf),
		StreamURL: url,
		Rating:    matchFirst(reRating, extinf),
		Kind:      kind,
	}
	if rd := matchFirst(reRelease, extinf); len(rd) >= 4 {
		if y, err := strconv.Atoi(rd[:4]); err == nil && y >= 1900 && y <= 2100 {
			e.ReleaseYear = y
			if kind == catalog.Live {
				e.Kind = catalog.Movie
			}
		}
	}
	return e
}

// splitKindPrefix strips the "[LIVE] " / "[VOD] " / "[SERIES] " group prefix
// convention used by generated Xtream playlists and returns the bare
// category plus the kind it implies.
func splitKindPrefix(group string) (string, catalog.Kind) {
	switch {
	case strings.HasPrefix(group, "[VOD] "):
		return strings.TrimPrefix(group, "[VOD] "), catalog.Movie
	case strings.HasPrefix(group, "[SERIES] "):
		return strings.TrimPrefix(group, "[SERIES] "), catalog.Series
	case strings.HasPrefix(group, "[LIVE] "):
		return strings.TrimPrefix(group, "[LIVE] "), catalog.Live
	}
	return group, catalog.Live
}

func matchFirst(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
