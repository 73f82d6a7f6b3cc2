// Package ingest is the source adapter: it dispatches on the source variant,
// fetches raw entries, normalizes them, and builds a catalog.
package ingest

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/coocood/freecache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zedtv/zedtv-catalog/internal/catalog"
	"github.com/zedtv/zedtv-catalog/internal/m3u"
	"github.com/zedtv/zedtv-catalog/internal/metrics"
	"github.com/zedtv/zedtv-catalog/internal/source"
	"github.com/zedtv/zedtv-catalog/internal/xtream"
)

const responseCacheSize = 8 * 1024 * 1024 // portal JSON bodies, short TTL

// Options configures portal fetching; zero values defer to xtream defaults.
type Options struct {
	Client      *http.Client
	Retries     int
	Backoff     time.Duration
	Pace        rate.Limit
	CacheTTL    time.Duration
	FetchSeries bool
	Log         zerolog.Logger
	Metrics     *metrics.Metrics
}

// Adapter fetches and normalizes catalogs from any source variant.
type Adapter struct {
	opts  Options
	cache *freecache.Cache
}

func New(opts Options) *Adapter {
	return &Adapter{
		opts:  opts,
		cache: freecache.NewCache(responseCacheSize),
	}
}

// Fetch loads src and returns a fully built catalog. M3U parse problems and
// VOD degradation surface as catalog warnings, not errors.
func (a *Adapter) Fetch(ctx context.Context, src source.Source) (*catalog.Catalog, error) {
	var (
		raw      []catalog.RawEntry
		warnings []string
		err      error
	)
	switch s := src.(type) {
	case source.LocalFile:
		raw, warnings, err = a.fetchFile(ctx, s)
	case source.XtreamAccount:
		raw, warnings, err = a.portal(s).FetchCatalog(ctx)
	default:
		err = &source.ValidationError{Field: "source", Msg: "unsupported source variant"}
	}
	if err != nil {
		return nil, err
	}

	records := make([]catalog.Record, 0, len(raw))
	for _, e := range raw {
		records = append(records, catalog.Normalize(e))
	}
	cat := catalog.Build(src.Key(), records, warnings)
	a.opts.Metrics.AddParseWarnings(len(cat.Warnings))
	a.opts.Metrics.SetRecords(cat.SourceKey, cat.Len())
	a.opts.Log.Info().Str("source", cat.SourceKey).
		Int("records", cat.Len()).Int("warnings", len(cat.Warnings)).
		Msg("catalog fetched")
	return cat, nil
}

// Authenticate tests an account's credentials and returns the
// server-reported status. Used by test & save and refresh.
func (a *Adapter) Authenticate(ctx context.Context, acct source.XtreamAccount) (*xtream.AccountStatus, error) {
	return a.portal(acct).Authenticate(ctx)
}

func (a *Adapter) fetchFile(ctx context.Context, f source.LocalFile) ([]catalog.RawEntry, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	r, err := os.Open(f.Path)
	if err != nil {
		return nil, nil, source.NewFetchError(source.Unreachable, "open m3u", err)
	}
	defer r.Close()
	entries, warnings, err := m3u.Parse(ctxReader{ctx: ctx, r: r})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, source.NewFetchError(source.MalformedResponse, "parse m3u", err)
	}
	return entries, warnings, nil
}

// ctxReader makes a long M3U parse cancellable between reads.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func (a *Adapter) portal(acct source.XtreamAccount) *xtream.Client {
	return xtream.New(acct, xtream.Options{
		Client:      a.opts.Client,
		Retries:     a.opts.Retries,
		Backoff:     a.opts.Backoff,
		Pace:        a.opts.Pace,
		Cache:       a.cache,
		CacheTTL:    a.opts.CacheTTL,
		FetchSeries: a.opts.FetchSeries,
		Log:         a.opts.Log,
		Metrics:     a.opts.Metrics,
	})
}
