package source

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalFileKey_stable(t *testing.T) {
	a := LocalFile{Path: "/data/lists/uk.m3u"}
	b := LocalFile{Path: "/data/lists/uk.m3u"}
	c := LocalFile{Path: "/other/uk.m3u"}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestXtreamBaseURL(t *testing.T) {
	assert.Equal(t, "http://portal.example:8080",
		XtreamAccount{Host: "portal.example", Port: 8080}.BaseURL())
	assert.Equal(t, "https://portal.example",
		XtreamAccount{Host: "portal.example", Port: 443, UseHTTPS: true}.BaseURL())
	assert.Equal(t, "http://portal.example",
		XtreamAccount{Host: "portal.example"}.BaseURL())
	// Scheme already present: keep it.
	assert.Equal(t, "https://portal.example:8443",
		XtreamAccount{Host: "https://portal.example:8443/", Port: 80}.BaseURL())
}

func TestFetchError_classification(t *testing.T) {
	err := fmt.Errorf("load: %w", NewFetchError(AuthRejected, "player_api", errors.New("403")))
	assert.True(t, IsAuthRejected(err))
	assert.False(t, IsTransient(err))

	k, ok := FetchKindOf(NewFetchError(Timeout, "get_live_streams", nil))
	assert.True(t, ok)
	assert.Equal(t, Timeout, k)
	assert.True(t, IsTransient(NewFetchError(Unreachable, "x", nil)))

	_, ok = FetchKindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsHTTPOrHTTPS(t *testing.T) {
	assert.True(t, IsHTTPOrHTTPS("http://host/live/1.m3u8"))
	assert.True(t, IsHTTPOrHTTPS("https://host/x"))
	assert.False(t, IsHTTPOrHTTPS("file:///etc/passwd"))
	assert.False(t, IsHTTPOrHTTPS("ftp://host/x"))
}
