package lockfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsEmptyLockfile(t *testing.T) {
	lf, err := Load(filepath.Join(t.TempDir(), "velo.lock"))
	require.NoError(t, err)
	assert.Equal(t, Version, lf.LockfileVersion)
	assert.Empty(t, lf.Dependencies)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "velo.lock")

	lf := New()
	lf.Add("wget", Dependency{
		Version:     "1.21.4",
		ResolvedURL: "https://example.com/wget-1.21.4.bottle.tar.gz",
		SHA256:      "abc123",
		Tap:         "homebrew/core",
		Deps:        []string{"openssl@3"},
	})
	lf.PinTap("homebrew/core", "deadbeef")
	require.NoError(t, lf.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, loaded.Dependencies, "wget")
	assert.Equal(t, "1.21.4", loaded.Dependencies["wget"].Version)
	assert.Equal(t, []string{"openssl@3"}, loaded.Dependencies["wget"].Deps)
	assert.Equal(t, "deadbeef", loaded.Taps["homebrew/core"].Commit)
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "velo.lock")
	lf := New()
	lf.LockfileVersion = 2
	require.NoError(t, lf.Save(path))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSortedDependencyNames(t *testing.T) {
	lf := New()
	lf.Add("zlib", Dependency{Version: "1.3"})
	lf.Add("abseil", Dependency{Version: "2024"})
	lf.Add("libevent", Dependency{Version: "2.1"})

	assert.Equal(t, []string{"abseil", "libevent", "zlib"}, lf.SortedDependencyNames())
}
