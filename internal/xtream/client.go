// Package xtream talks to Xtream Codes/Xtream UI portals via player_api.php
// and turns their JSON listings into raw catalog entries.
package xtream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coocood/freecache"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zedtv/zedtv-catalog/internal/catalog"
	"github.com/zedtv/zedtv-catalog/internal/httpclient"
	"github.com/zedtv/zedtv-catalog/internal/metrics"
	"github.com/zedtv/zedtv-catalog/internal/source"
)

const (
	defaultRetries   = 2
	defaultBackoff   = 2 * time.Second
	maxBackoff       = 30 * time.Second
	defaultPace      = rate.Limit(5) // requests/second across paged calls
	defaultCacheTTL  = 60 * time.Second
	defaultStreamExt = "m3u8"
)

// Options tunes the client. Zero values mean conservative defaults.
type Options struct {
	Client      *http.Client
	Retries     int           // transient retries per logical call
	Backoff     time.Duration // initial backoff, doubled up to 30s
	Pace        rate.Limit    // request pacing across calls
	Cache       *freecache.Cache
	CacheTTL    time.Duration
	FetchSeries bool
	Log         zerolog.Logger
	Metrics     *metrics.Metrics
}

// Client fetches one account's catalog. Safe for concurrent use.
type Client struct {
	acct    source.XtreamAccount
	base    string
	http    *http.Client
	retries int
	backoff time.Duration
	limiter *rate.Limiter
	cache   *freecache.Cache
	ttl     time.Duration
	series  bool
	log     zerolog.Logger
	met     *metrics.Metrics
}

func New(acct source.XtreamAccount, opts Options) *Client {
	c := &Client{
		acct:    acct,
		base:    acct.BaseURL(),
		http:    opts.Client,
		retries: opts.Retries,
		backoff: opts.Backoff,
		cache:   opts.Cache,
		ttl:     opts.CacheTTL,
		series:  opts.FetchSeries,
		log:     opts.Log,
		met:     opts.Metrics,
	}
	if c.http == nil {
		c.http = httpclient.Default()
	}
	if c.retries <= 0 {
		c.retries = defaultRetries
	}
	if c.backoff <= 0 {
		c.backoff = defaultBackoff
	}
	if c.ttl < 0 {
		// Caching off; every call hits the portal.
		c.cache = nil
	} else if c.ttl == 0 {
		c.ttl = defaultCacheTTL
	} else if c.ttl < time.Second {
		c.ttl = time.Second // freecache expiry has second granularity
	}
	pace := opts.Pace
	if pace <= 0 {
		pace = defaultPace
	}
	c.limiter = rate.NewLimiter(pace, 1)
	return c
}

// AccountStatus is the server-reported account state from the auth call.
// Never re-derived locally; refreshed only on demand.
type AccountStatus struct {
	Status      string
	ExpiresAt   time.Time
	ActiveConns int
	MaxConns    int
	Trial       bool
}

// Authenticate performs the user-info call and classifies credential
// rejection as a terminal AuthRejected.
func (c *Client) Authenticate(ctx context.Context) (*AccountStatus, error) {
	body, err := c.apiGet(ctx, "authenticate", nil)
	if err != nil {
		return nil, err
	}
	var auth struct {
		UserInfo *struct {
			Auth           any    `json:"auth"`
			Status         string `json:"status"`
			ExpDate        any    `json:"exp_date"`
			ActiveCons     any    `json:"active_cons"`
			MaxConnections any    `json:"max_connections"`
			IsTrial        any    `json:"is_trial"`
		} `json:"user_info"`
	}
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, source.NewFetchError(source.MalformedResponse, "authenticate", err)
	}
	if auth.UserInfo == nil {
		return nil, source.NewFetchError(source.MalformedResponse, "authenticate", errors.New("no user_info in response"))
	}
	ui := auth.UserInfo
	if asInt(ui.Auth, 0) != 1 {
		return nil, source.NewFetchError(source.AuthRejected, "authenticate", errors.New("portal rejected credentials"))
	}
	st := &AccountStatus{
		Status:      ui.Status,
		ActiveConns: asInt(ui.ActiveCons, 0),
		MaxConns:    asInt(ui.MaxConnections, 0),
		Trial:       asInt(ui.IsTrial, 0) == 1,
	}
	if sec := int64(asInt(ui.ExpDate, 0)); sec > 0 {
		st.ExpiresAt = time.Unix(sec, 0).UTC()
	}
	return st, nil
}

// FetchCatalog performs the three logical calls: authenticate, live
// categories+streams, VOD categories+streams (plus series when enabled).
// A VOD or series failure with live success degrades to a partial catalog
// with a warning instead of failing the whole load. Cancellation is checked
// between calls.
func (c *Client) FetchCatalog(ctx context.Context) ([]catalog.RawEntry, []string, error) {
	if _, err := c.Authenticate(ctx); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var warnings []string
	entries, err := c.fetchLive(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	vod, err := c.fetchVOD(ctx)
	if err != nil {
		if source.IsAuthRejected(err) {
			return nil, nil, err
		}
		c.log.Warn().Err(err).Msg("vod listing failed; continuing live-only")
		warnings = append(warnings, "vod listing failed: "+err.Error())
	} else {
		entries = append(entries, vod...)
	}

	if c.series {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		series, err := c.fetchSeries(ctx)
		if err != nil {
			if source.IsAuthRejected(err) {
				return nil, nil, err
			}
			c.log.Warn().Err(err).Msg("series listing failed; continuing without series")
			warnings = append(warnings, "series listing failed: "+err.Error())
		} else {
			entries = append(entries, series...)
		}
	}

	return entries, warnings, nil
}

func (c *Client) fetchLive(ctx context.Context) ([]catalog.RawEntry, error) {
	cats, err := c.fetchCategories(ctx, "get_live_categories")
	if err != nil {
		return nil, err
	}
	body, err := c.apiGet(ctx, "get_live_streams", nil)
	if err != nil {
		return nil, err
	}
	var streams []struct {
		StreamID   any    `json:"stream_id"`
		Name       string `json:"name"`
		StreamIcon string `json:"stream_icon"`
		CategoryID any    `json:"category_id"`
	}
	if err := json.Unmarshal(body, &streams); err != nil {
		return nil, source.NewFetchError(source.MalformedResponse, "get_live_streams", err)
	}
	out := make([]catalog.RawEntry, 0, len(streams))
	for _, s := range streams {
		sid := asString(s.StreamID)
		if sid == "" {
			continue
		}
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = "Channel " + sid
		}
		out = append(out, catalog.RawEntry{
			ID:        sid,
			Title:     name,
			Category:  categoryName(cats, s.CategoryID),
			LogoURL:   s.StreamIcon,
			StreamURL: c.streamURL("live", sid, defaultStreamExt),
			Kind:      catalog.Live,
		})
	}
	return out, nil
}

func (c *Client) fetchVOD(ctx context.Context) ([]catalog.RawEntry, error) {
	cats, err := c.fetchCategories(ctx, "get_vod_categories")
	if err != nil {
		return nil, err
	}
	body, err := c.apiGet(ctx, "get_vod_streams", nil)
	if err != nil {
		return nil, err
	}
	var streams []struct {
		StreamID           any    `json:"stream_id"`
		Name               string `json:"name"`
		StreamIcon         string `json:"stream_icon"`
		CategoryID         any    `json:"category_id"`
		ContainerExtension string `json:"container_extension"`
		Rating             any    `json:"rating"`
		ReleaseDate        string `json:"releasedate"`
	}
	if err := json.Unmarshal(body, &streams); err != nil {
		return nil, source.NewFetchError(source.MalformedResponse, "get_vod_streams", err)
	}
	out := make([]catalog.RawEntry, 0, len(streams))
	for _, s := range streams {
		sid := asString(s.StreamID)
		if sid == "" {
			continue
		}
		ext := s.ContainerExtension
		if ext == "" || len(ext) > 5 {
			ext = "mp4"
		}
		e := catalog.RawEntry{
			ID:        "vod_" + sid,
			Title:     strings.TrimSpace(s.Name),
			Category:  categoryName(cats, s.CategoryID),
			LogoURL:   s.StreamIcon,
			StreamURL: c.streamURL("movie", sid, ext),
			Rating:    asString(s.Rating),
			Kind:      catalog.Movie,
		}
		if rd := strings.TrimSpace(s.ReleaseDate); len(rd) >= 4 {
			if y, err := strconv.Atoi(rd[:4]); err == nil {
				e.ReleaseYear = y
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *Client) fetchSeries(ctx context.Context) ([]catalog.RawEntry, error) {
	cats, err := c.fetchCategories(ctx, "get_series_categories")
	if err != nil {
		return nil, err
	}
	body, err := c.apiGet(ctx, "get_series", nil)
	if err != nil {
		return nil, err
	}
	var shows []struct {
		SeriesID   any    `json:"series_id"`
		Name       string `json:"name"`
		Cover      string `json:"cover"`
		CategoryID any    `json:"category_id"`
		Rating     any    `json:"rating"`
	}
	if err := json.Unmarshal(body, &shows); err != nil {
		return nil, source.NewFetchError(source.MalformedResponse, "get_series", err)
	}
	out := make([]catalog.RawEntry, 0, len(shows))
	for _, s := range shows {
		sid := asString(s.SeriesID)
		if sid == "" {
			continue
		}
		out = append(out, catalog.RawEntry{
			ID:        "series_" + sid,
			Title:     strings.TrimSpace(s.Name),
			Category:  categoryName(cats, s.CategoryID),
			LogoURL:   s.Cover,
			StreamURL: c.streamURL("series", sid, defaultStreamExt),
			Rating:    asString(s.Rating),
			Kind:      catalog.Series,
		})
	}
	return out, nil
}

func (c *Client) fetchCategories(ctx context.Context, action string) (map[string]string, error) {
	body, err := c.apiGet(ctx, action, nil)
	if err != nil {
		return nil, err
	}
	var cats []struct {
		CategoryID   any    `json:"category_id"`
		CategoryName string `json:"category_name"`
	}
	if err := json.Unmarshal(body, &cats); err != nil {
		return nil, source.NewFetchError(source.MalformedResponse, action, err)
	}
	m := make(map[string]string, len(cats))
	for _, ct := range cats {
		if id := asString(ct.CategoryID); id != "" {
			m[id] = strings.TrimSpace(ct.CategoryName)
		}
	}
	return m, nil
}

// streamURL builds the playback URL shape Xtream panels serve:
// {base}/{live|movie|series}/{user}/{pass}/{id}.{ext}
func (c *Client) streamURL(kind, id, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s", c.base, kind,
		url.PathEscape(c.acct.Username), url.PathEscape(c.acct.Password),
		url.PathEscape(id), url.PathEscape(ext))
}

// apiGet performs one player_api call with pacing, short-TTL response
// caching, and transient-retry with doubling backoff. Auth rejection is
// terminal. op "authenticate" means no action parameter.
func (c *Client) apiGet(ctx context.Context, op string, params url.Values) ([]byte, error) {
	u := c.base + "/player_api.php?username=" + url.QueryEscape(c.acct.Username) +
		"&password=" + url.QueryEscape(c.acct.Password)
	if op != "authenticate" {
		u += "&action=" + url.QueryEscape(op)
	}
	for k, vs := range params {
		for _, v := range vs {
			u += "&" + url.QueryEscape(k) + "=" + url.QueryEscape(v)
		}
	}

	if c.cache != nil {
		if body, err := c.cache.Get([]byte(u)); err == nil {
			return body, nil
		}
	}

	c.met.IncFetch(op)
	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, retryable, err := c.doOnce(ctx, op, u)
		if err == nil {
			if c.cache != nil {
				_ = c.cache.Set([]byte(u), body, int(c.ttl.Seconds()))
			}
			return body, nil
		}
		if k, ok := source.FetchKindOf(err); ok {
			c.met.IncFailure(k.String())
		}
		if !retryable || attempt == c.retries {
			return nil, err
		}
		lastErr = err
		c.met.IncRetry()
		c.log.Debug().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("transient fetch error; backing off")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
	return nil, lastErr
}

// doOnce performs a single GET and classifies the outcome.
func (c *Client) doOnce(ctx context.Context, op, u string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, source.NewFetchError(source.MalformedResponse, op, err)
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		kind := source.Unreachable
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			kind = source.Timeout
		}
		return nil, true, source.NewFetchError(kind, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to read
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, source.NewFetchError(source.AuthRejected, op, fmt.Errorf("status %s", resp.Status))
	case retryableStatus(resp.StatusCode):
		if wait := parseRetryAfter(resp); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(wait):
			}
		}
		kind := source.Unreachable
		if resp.StatusCode == http.StatusRequestTimeout {
			kind = source.Timeout
		}
		return nil, true, source.NewFetchError(kind, op, fmt.Errorf("status %s", resp.Status))
	default:
		return nil, false, source.NewFetchError(source.MalformedResponse, op, fmt.Errorf("status %s", resp.Status))
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, source.NewFetchError(source.Unreachable, op, err)
	}
	return body, false, nil
}

// retryableStatus: 429, 423, 408 and 5xx may succeed after backoff.
func retryableStatus(code int) bool {
	if code == 429 || code == 423 || code == 408 {
		return true
	}
	return code >= 500 && code < 600
}

// parseRetryAfter parses Retry-After (seconds or HTTP-date), capped at the
// max backoff; 0 when missing or invalid.
func parseRetryAfter(resp *http.Response) time.Duration {
	s := resp.Header.Get("Retry-After")
	if s == "" {
		return 0
	}
	if sec, err := strconv.Atoi(s); err == nil && sec > 0 {
		d := time.Duration(sec) * time.Second
		if d > maxBackoff {
			return maxBackoff
		}
		return d
	}
	if t, err := http.ParseTime(s); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		if d > maxBackoff {
			return maxBackoff
		}
		return d
	}
	return 0
}

// asString renders panel fields that arrive as either JSON numbers or
// strings (panels disagree on stream_id/category_id types).
func asString(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatInt(int64(x), 10)
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	}
	return ""
}

func asInt(v any, fallback int) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n
		}
	}
	return fallback
}

func categoryName(cats map[string]string, id any) string {
	if name := cats[asString(id)]; name != "" {
		return name
	}
	return catalog.Uncategorized
}
