package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zedtv/zedtv-catalog/internal/catalog"
)

func buildCatalog(titles ...string) *catalog.Catalog {
	recs := make([]catalog.Record, 0, len(titles))
	for _, title := range titles {
		recs = append(recs, catalog.Normalize(catalog.RawEntry{
			Title:     title,
			Category:  "News",
			StreamURL: "http://host/" + title,
		}))
	}
	return catalog.Build("test", recs, nil)
}

func TestPrefixMatchCaseInsensitive(t *testing.T) {
	ix := New()
	ix.Rebuild(buildCatalog("BBC One", "BBC Two", "CNN"))

	got := ix.Search("bbc")
	require.Len(t, got, 2)
	assert.Equal(t, "BBC One", got[0].Title)
	assert.Equal(t, "BBC Two", got[1].Title)

	got = ix.Search("BBC o")
	require.Len(t, got, 1)
	assert.Equal(t, "BBC One", got[0].Title)

	assert.Empty(t, ix.Search("bc")) // prefix, not substring
}

func TestEmptyQueryMatchesNothing(t *testing.T) {
	ix := New()
	ix.Rebuild(buildCatalog("BBC One"))
	assert.Empty(t, ix.Search(""))
	assert.Empty(t, ix.Search("   "))
}

func TestRebuildReplacesIndex(t *testing.T) {
	ix := New()
	ix.Rebuild(buildCatalog("BBC One", "CNN"))
	require.Len(t, ix.Search("cnn"), 1)

	ix.Rebuild(buildCatalog("Sky Sports"))
	assert.Empty(t, ix.Search("cnn"))
	assert.Len(t, ix.Search("sky"), 1)
	assert.Equal(t, 1, ix.Len())

	ix.Rebuild(nil)
	assert.Equal(t, 0, ix.Len())
}
