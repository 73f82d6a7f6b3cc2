package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zedtv/zedtv-catalog/internal/source"
)

func noAccounts(string) (source.Source, bool) { return nil, false }

func TestRestoreFreshSession(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "settings.json"))
	src, ok := s.Restore(noAccounts)
	assert.False(t, ok)
	assert.Nil(t, src)
}

func TestRememberAccountSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, Open(path).RememberAccount("acct-1"))

	src, ok := Open(path).Restore(func(id string) (source.Source, bool) {
		if id == "acct-1" {
			return source.XtreamAccount{AccountID: id, Host: "example.com"}, true
		}
		return nil, false
	})
	require.True(t, ok)
	acct, isAcct := src.(source.XtreamAccount)
	require.True(t, isAcct)
	assert.Equal(t, "acct-1", acct.AccountID)
}

func TestRestoreFallsBackToM3U(t *testing.T) {
	dir := t.TempDir()
	m3uPath := filepath.Join(dir, "list.m3u")
	require.NoError(t, os.WriteFile(m3uPath, []byte("#EXTM3U\n"), 0o644))

	path := filepath.Join(dir, "settings.json")
	s := Open(path)
	require.NoError(t, s.RememberM3U(m3uPath))
	require.NoError(t, s.RememberAccount("gone"))

	// The remembered account no longer resolves; the last M3U still does.
	src, ok := Open(path).Restore(noAccounts)
	require.True(t, ok)
	assert.Equal(t, source.LocalFile{Path: m3uPath}, src)
}

func TestRestoreSkipsMissingM3U(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := Open(path)
	require.NoError(t, s.RememberM3U("/nonexistent/list.m3u"))

	_, ok := Open(path).Restore(noAccounts)
	assert.False(t, ok)
}

func TestForgetClearsDeletedAccount(t *testing.T) {
	dir := t.TempDir()
	m3uPath := filepath.Join(dir, "list.m3u")
	require.NoError(t, os.WriteFile(m3uPath, []byte("#EXTM3U\n"), 0o644))

	path := filepath.Join(dir, "settings.json")
	s := Open(path)
	require.NoError(t, s.RememberM3U(m3uPath))
	require.NoError(t, s.RememberAccount("acct-1"))
	require.NoError(t, s.Forget("acct-1"))

	src, ok := Open(path).Restore(func(string) (source.Source, bool) {
		t.Fatal("deleted account must not be looked up")
		return nil, false
	})
	require.True(t, ok)
	assert.Equal(t, source.LocalFile{Path: m3uPath}, src)
}
