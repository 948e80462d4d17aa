package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/probedock/probedock-go/footprint"
	"github.com/probedock/probedock-go/optimize"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const serverURL = "https://probedock.example.com/api"

func startFileStore(t *testing.T, dir string) *FileStore {
	t.Helper()
	s := NewFileStore(zerolog.Nop())
	require.NoError(t, s.Start(optimize.StoreConfig{CacheDir: dir, ServerURL: serverURL}))
	return s
}

func requireChanged(t *testing.T, s optimize.Store, key, fp string, expected bool) {
	t.Helper()
	changed, err := s.TestHasChanged("project", "1.0.0", key, fp)
	require.NoError(t, err)
	require.Equal(t, expected, changed)
}

func TestFileStoreHasChanged(t *testing.T) {
	s := startFileStore(t, t.TempDir())
	defer s.Stop(false)

	requireChanged(t, s, "k", "f", true)
	require.NoError(t, s.StoreTestFootprint("project", "1.0.0", "k", "f"))
	requireChanged(t, s, "k", "f", false)
	requireChanged(t, s, "k", "f2", true)
	requireChanged(t, s, "k", "", true)
}

func TestFileStorePersist(t *testing.T) {
	dir := t.TempDir()

	s := startFileStore(t, dir)
	require.NoError(t, s.StoreTestFootprint("project", "1.0.0", "k", "f"))
	s.Stop(true)

	path := filepath.Join(dir, footprint.Footprint(serverURL), "project", "1.0.0")
	require.FileExists(t, path)

	reloaded := startFileStore(t, dir)
	defer reloaded.Stop(false)
	requireChanged(t, reloaded, "k", "f", false)
}

func TestFileStoreDiscard(t *testing.T) {
	dir := t.TempDir()

	s := startFileStore(t, dir)
	require.NoError(t, s.StoreTestFootprint("project", "1.0.0", "k", "f"))
	s.Stop(false)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "nothing must be written")

	reloaded := startFileStore(t, dir)
	defer reloaded.Stop(false)
	requireChanged(t, reloaded, "k", "f", true)
}

func TestFileStorePersistFailure(t *testing.T) {
	dir := t.TempDir()
	serverDir := filepath.Join(dir, footprint.Footprint(serverURL))
	require.NoError(t, os.WriteFile(serverDir, []byte("in the way"), 0o644))

	var logs bytes.Buffer
	s := NewFileStore(zerolog.New(&logs))
	require.NoError(t, s.Start(optimize.StoreConfig{CacheDir: dir, ServerURL: serverURL}))
	require.NoError(t, s.StoreTestFootprint("project", "1.0.0", "k", "f"))

	require.NotPanics(t, func() { s.Stop(true) })
	require.Contains(t, logs.String(), "Unable to write the cache file")

	info, err := os.Stat(serverDir)
	require.NoError(t, err)
	require.True(t, info.Mode().IsRegular(), "the blocking file must be left alone")
}

func TestFileStoreCorruptCache(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{name: "garbage", content: []byte("this is not a cache \x00\x01\x02")},
		{name: "empty", content: []byte{}},
		{name: "truncated", content: append(append([]byte{}, magic...), 0x81, 0xa1)},
		{name: "wrong type", content: append(append([]byte{}, magic...), 0x92, 0x01, 0x02)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, footprint.Footprint(serverURL), "project", "1.0.0")
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.WriteFile(path, tt.content, 0o644))

			s := startFileStore(t, dir)
			requireChanged(t, s, "k", "f", true)
			require.NoError(t, s.StoreTestFootprint("project", "1.0.0", "k", "f"))
			s.Stop(true)

			reloaded := startFileStore(t, dir)
			defer reloaded.Stop(false)
			requireChanged(t, reloaded, "k", "f", false)
		})
	}
}

func TestFileStoreServerIsolation(t *testing.T) {
	dir := t.TempDir()

	s := startFileStore(t, dir)
	require.NoError(t, s.StoreTestFootprint("project", "1.0.0", "k", "f"))
	s.Stop(true)

	other := NewFileStore(zerolog.Nop())
	require.NoError(t, other.Start(optimize.StoreConfig{CacheDir: dir, ServerURL: "https://other.example.com/api"}))
	defer other.Stop(false)

	changed, err := other.TestHasChanged("project", "1.0.0", "k", "f")
	require.NoError(t, err)
	require.True(t, changed)
}

func TestFileStoreProjectVersionIsolation(t *testing.T) {
	dir := t.TempDir()

	s := startFileStore(t, dir)
	require.NoError(t, s.StoreTestFootprint("project", "1.0.0", "k", "f"))
	s.Stop(true)

	reloaded := startFileStore(t, dir)
	defer reloaded.Stop(false)

	changed, err := reloaded.TestHasChanged("project", "2.0.0", "k", "f")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = reloaded.TestHasChanged("other", "1.0.0", "k", "f")
	require.NoError(t, err)
	require.True(t, changed)
}

func TestFileStoreCleanCaches(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")

	s := startFileStore(t, dir)
	require.NoError(t, s.StoreTestFootprint("project", "1.0.0", "k", "f"))
	s.Stop(true)
	require.DirExists(t, dir)

	s = startFileStore(t, dir)
	require.NoError(t, s.CleanCaches())
	requireChanged(t, s, "k", "f", true)
	s.Stop(false)

	require.NoDirExists(t, dir)
}

func TestFileStoreLifecycle(t *testing.T) {
	s := NewFileStore(zerolog.Nop())

	_, err := s.TestHasChanged("project", "1.0.0", "k", "f")
	require.ErrorIs(t, err, optimize.ErrStoreNotStarted)
	require.ErrorIs(t, s.StoreTestFootprint("project", "1.0.0", "k", "f"), optimize.ErrStoreNotStarted)
	require.ErrorIs(t, s.CleanCaches(), optimize.ErrStoreNotStarted)
	require.ErrorIs(t, s.Start(optimize.StoreConfig{}), ErrNoCacheDir)

	dir := t.TempDir()
	require.NoError(t, s.Start(optimize.StoreConfig{CacheDir: dir}))
	require.NoError(t, s.StoreTestFootprint("project", "1.0.0", "k", "f"))
	require.NoError(t, s.Start(optimize.StoreConfig{CacheDir: dir}))
	requireChanged(t, s, "k", "f", false)

	s.Stop(false)
	s.Stop(true)
}

func TestSegment(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{in: "project", expected: "project"},
		{in: "1.0.0", expected: "1.0.0"},
		{in: "a/b", expected: "a%2Fb"},
		{in: "..", expected: "%2E%2E"},
		{in: ".", expected: "%2E"},
		{in: "", expected: "_"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.expected, segment(tt.in))
		})
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()

	s := startFileStore(t, dir)
	require.NoError(t, s.StoreTestFootprint("project", "1.0.0", "a", "f"))
	require.NoError(t, s.StoreTestFootprint("project", "1.0.0", "b", "f"))
	require.NoError(t, s.StoreTestFootprint("a/b", "2.0.0", "a", "f"))
	s.Stop(true)

	corrupt := filepath.Join(dir, footprint.Footprint(serverURL), "broken", "1.0.0")
	require.NoError(t, os.MkdirAll(filepath.Dir(corrupt), 0o755))
	require.NoError(t, os.WriteFile(corrupt, []byte("garbage"), 0o644))

	entries, err := List(zerolog.Nop(), dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byProject := map[string]Entry{}
	for _, e := range entries {
		require.Equal(t, footprint.Footprint(serverURL), e.Server)
		byProject[e.Project] = e
	}

	require.Equal(t, 2, byProject["project"].Tests)
	require.NoError(t, byProject["project"].Err)
	require.Equal(t, 1, byProject["a/b"].Tests)
	require.Equal(t, "2.0.0", byProject["a/b"].Version)
	require.ErrorIs(t, byProject["broken"].Err, ErrCorruptCache)
}

func TestListMissingDir(t *testing.T) {
	entries, err := List(zerolog.Nop(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Empty(t, entries)
}
