// Package source identifies where catalog data comes from: a local M3U file
// or a remote Xtream Codes account. Every other component dispatches on the
// Source variant instead of duck-typing the two shapes.
package source

import (
	"hash/fnv"
	"net/url"
	"strconv"
	"strings"
)

// Source is the tagged union over the two supported catalog origins.
// Key is stable across restarts and safe to embed in file names.
type Source interface {
	Key() string
	isSource()
}

// LocalFile is an M3U playlist on disk.
type LocalFile struct {
	Path string
}

func (f LocalFile) isSource() {}

// Key hashes the path so two files with the same basename do not collide.
func (f LocalFile) Key() string {
	h := fnv.New64a()
	h.Write([]byte(f.Path))
	return "m3u_" + strconv.FormatUint(h.Sum64(), 36)
}

// XtreamAccount holds the connection identity of one Xtream Codes portal
// account. Password is a credential: never log it.
type XtreamAccount struct {
	AccountID string
	Host      string
	Port      int
	UseHTTPS  bool
	Username  string
	Password  string
}

func (a XtreamAccount) isSource() {}

func (a XtreamAccount) Key() string {
	return "acct_" + a.AccountID
}

// BaseURL builds the portal base like http(s)://host:port. Hosts pasted with
// a scheme already are taken as-is apart from trailing slashes.
func (a XtreamAccount) BaseURL() string {
	host := strings.TrimSuffix(strings.TrimSpace(a.Host), "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	scheme := "http"
	if a.UseHTTPS {
		scheme = "https"
	}
	port := a.Port
	if port == 0 {
		if a.UseHTTPS {
			port = 443
		} else {
			port = 80
		}
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + strconv.Itoa(port)
}

// IsHTTPOrHTTPS reports whether u parses as a URL with scheme http or https.
// Rejects file://, ftp:// and friends so a hostile playlist cannot point the
// engine at local files.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}
