package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zedtv/zedtv-catalog/internal/catalog"
	"github.com/zedtv/zedtv-catalog/internal/logging"
	"github.com/zedtv/zedtv-catalog/internal/source"
)

type fakeFetcher struct {
	cats  []*catalog.Catalog
	errs  []error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, src source.Source) (*catalog.Catalog, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.cats) {
		return f.cats[i], nil
	}
	return f.cats[len(f.cats)-1], nil
}

func cat(key string, titles ...string) *catalog.Catalog {
	recs := make([]catalog.Record, 0, len(titles))
	for _, ti := range titles {
		recs = append(recs, catalog.Record{ID: ti, Title: ti, Category: "News", StreamURL: "http://h/" + ti})
	}
	return catalog.Build(key, recs, nil)
}

func newStore(t *testing.T, f Fetcher) *Store {
	t.Helper()
	s, err := New(t.TempDir(), f, logging.Nop(), nil)
	require.NoError(t, err)
	return s
}

var src = source.LocalFile{Path: "/lists/a.m3u"}

func TestLoad_fetchesOnceThenServesMemory(t *testing.T) {
	f := &fakeFetcher{cats: []*catalog.Catalog{cat(src.Key(), "BBC One")}}
	s := newStore(t, f)

	c1, err := s.Load(context.Background(), src, false)
	require.NoError(t, err)
	c2, err := s.Load(context.Background(), src, false)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, f.calls)
}

func TestLoad_servesDiskSnapshotAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFetcher{cats: []*catalog.Catalog{cat(src.Key(), "BBC One", "CNN")}}
	s1, err := New(dir, f, logging.Nop(), nil)
	require.NoError(t, err)
	_, err = s1.Load(context.Background(), src, false)
	require.NoError(t, err)

	// New store, same dir: must not hit the fetcher.
	s2, err := New(dir, &fakeFetcher{errs: []error{errors.New("network down")}}, logging.Nop(), nil)
	require.NoError(t, err)
	c, err := s2.Load(context.Background(), src, false)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestRefresh_replacesSnapshot(t *testing.T) {
	f := &fakeFetcher{cats: []*catalog.Catalog{
		cat(src.Key(), "Old"),
		cat(src.Key(), "New One", "New Two"),
	}}
	s := newStore(t, f)

	_, err := s.Load(context.Background(), src, false)
	require.NoError(t, err)
	c, err := s.Refresh(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	onDisk, err := s.readSnapshot(src.Key())
	require.NoError(t, err)
	assert.Equal(t, 2, onDisk.Len())
}

func TestRefresh_failureKeepsPreviousSnapshot(t *testing.T) {
	f := &fakeFetcher{
		cats: []*catalog.Catalog{cat(src.Key(), "Original")},
		errs: []error{nil, source.NewFetchError(source.Unreachable, "get_live_streams", errors.New("conn refused"))},
	}
	s := newStore(t, f)

	_, err := s.Load(context.Background(), src, false)
	require.NoError(t, err)

	_, err = s.Refresh(context.Background(), src)
	require.Error(t, err)

	onDisk, err := s.readSnapshot(src.Key())
	require.NoError(t, err)
	require.Equal(t, 1, onDisk.Len())
	assert.Equal(t, "Original", onDisk.Records()[0].Title)
}

func TestWriteSnapshot_noTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFetcher{cats: []*catalog.Catalog{cat(src.Key(), "X")}}
	s, err := New(dir, f, logging.Nop(), nil)
	require.NoError(t, err)
	_, err = s.Load(context.Background(), src, false)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), ".json.zst")
}

func TestDelete_removesSnapshotAndMemory(t *testing.T) {
	f := &fakeFetcher{cats: []*catalog.Catalog{cat(src.Key(), "X")}}
	s := newStore(t, f)
	_, err := s.Load(context.Background(), src, false)
	require.NoError(t, err)

	require.NoError(t, s.Delete(src))
	_, ok := s.Cached(src)
	assert.False(t, ok)
	_, err = s.readSnapshot(src.Key())
	assert.Error(t, err)

	// Deleting again is not an error.
	assert.NoError(t, s.Delete(src))
}
