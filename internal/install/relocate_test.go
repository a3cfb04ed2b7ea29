package install

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimaosipa/velo/internal/layout"
)

func newRelocateTestLayout(t *testing.T) *layout.Layout {
	t.Helper()
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureSkeleton())
	return l
}

func TestRelocateRewritesMultiplePlaceholderForms(t *testing.T) {
	l := newRelocateTestLayout(t)
	pkgDir := l.PackageDir("bar", "2.0.0")
	require.NoError(t, os.MkdirAll(pkgDir, 0755))
	path := filepath.Join(pkgDir, "config")
	original := "prefix=/usr/local\ncellar=/usr/local/Cellar\nopt=/usr/local/opt/foo\nbrew=/opt/homebrew\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	require.NoError(t, relocate(l, "bar", "2.0.0", pkgDir))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "/usr/local")
	assert.NotContains(t, string(content), "/opt/homebrew")
	assert.Contains(t, string(content), l.Prefix)
}

func TestRelocateLeavesUnrelatedFilesUntouched(t *testing.T) {
	l := newRelocateTestLayout(t)
	pkgDir := l.PackageDir("bar", "2.0.0")
	require.NoError(t, os.MkdirAll(pkgDir, 0755))
	path := filepath.Join(pkgDir, "readme.txt")
	original := "just some documentation, no paths here\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	require.NoError(t, relocate(l, "bar", "2.0.0", pkgDir))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(content))
}

// TestResolveCellarRpathKeepsPackageVersionSegment is the spec's §6
// scenario 6 worked example: a dependency's opt/ install name must rewrite
// to an @rpath reference carrying that dependency's own Cellar
// package/version segment, not just the library's filename.
func TestResolveCellarRpathKeepsPackageVersionSegment(t *testing.T) {
	l := newRelocateTestLayout(t)
	require.NoError(t, os.MkdirAll(l.PackageDir("foo", "1.2.3"), 0755))
	require.NoError(t, os.Symlink(l.PackageDir("foo", "1.2.3"), l.OptPath("foo")))

	got, ok := resolveCellarRpath(l, "@@HOMEBREW_PREFIX@@/opt/foo/lib/libfoo.1.dylib")
	require.True(t, ok)
	assert.Equal(t, "@rpath/Cellar/foo/1.2.3/lib/libfoo.1.dylib", got)
}

func TestResolveCellarRpathLegacyPrefixForms(t *testing.T) {
	l := newRelocateTestLayout(t)
	require.NoError(t, os.MkdirAll(l.PackageDir("foo", "1.2.3"), 0755))
	require.NoError(t, os.Symlink(l.PackageDir("foo", "1.2.3"), l.OptPath("foo")))

	got, ok := resolveCellarRpath(l, "/usr/local/opt/foo/lib/libfoo.1.dylib")
	require.True(t, ok)
	assert.Equal(t, "@rpath/Cellar/foo/1.2.3/lib/libfoo.1.dylib", got)

	got, ok = resolveCellarRpath(l, "/usr/local/Cellar/foo/1.2.3/lib/libfoo.1.dylib")
	require.True(t, ok)
	assert.Equal(t, "@rpath/Cellar/foo/1.2.3/lib/libfoo.1.dylib", got)
}

func TestResolveCellarRpathUnresolvableDependencyFails(t *testing.T) {
	l := newRelocateTestLayout(t)
	_, ok := resolveCellarRpath(l, "@@HOMEBREW_PREFIX@@/opt/missing/lib/libmissing.dylib")
	assert.False(t, ok)
}

func TestIsMachODetectsKnownMagics(t *testing.T) {
	assert.True(t, isMachO([]byte{0xcf, 0xfa, 0xed, 0xfe, 0, 0, 0, 0}))
	assert.False(t, isMachO([]byte("#!/bin/sh\n")))
	assert.False(t, isMachO([]byte{0x01}))
}
