// Package httpclient provides the shared tuned HTTP client used for portal
// and playlist fetches.
package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 15 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 8
)

// UserAgent is sent on every portal request. Some panels reject the Go
// default agent.
const UserAgent = "ZedTV/1.0"

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
	}
}

// Default returns the shared client.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout sharing the tuned
// transport settings.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}
