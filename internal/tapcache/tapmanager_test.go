package tapcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimaosipa/velo/internal/formula"
)

// fakeParser treats the raw bytes as the formula name, for tests that don't
// care about actual Ruby-syntax parsing.
type fakeParser struct{}

func (fakeParser) Parse(source []byte) (*formula.Formula, error) {
	name := string(source)
	return &formula.Formula{Name: name, Version: "1.0.0", Description: "a test formula"}, nil
}

func writeFormulaFile(t *testing.T, tapsDir, tap, layout, name string) {
	t.Helper()
	var dir string
	if layout == "flat" {
		dir = filepath.Join(tapsDir, tap, "Formula")
	} else {
		dir = filepath.Join(tapsDir, tap, "Formula", firstLetter(name))
	}
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".rb"), []byte(name), 0644))
}

func TestFindFormulaParsesFromFlatTapLayout(t *testing.T) {
	tapsDir, cacheDir := t.TempDir(), t.TempDir()
	writeFormulaFile(t, tapsDir, "homebrew/core", "flat", "wget")

	tm := NewTapManager(tapsDir, cacheDir, New(cacheDir, 0), fakeParser{}, []string{"homebrew/core"})
	f, err := tm.FindFormula("wget")
	require.NoError(t, err)
	assert.Equal(t, "wget", f.Name)
}

func TestFindFormulaParsesFromShardedTapLayout(t *testing.T) {
	tapsDir, cacheDir := t.TempDir(), t.TempDir()
	writeFormulaFile(t, tapsDir, "homebrew/core", "sharded", "wget")

	tm := NewTapManager(tapsDir, cacheDir, New(cacheDir, 0), fakeParser{}, []string{"homebrew/core"})
	f, err := tm.FindFormula("wget")
	require.NoError(t, err)
	assert.Equal(t, "wget", f.Name)
}

func TestFindFormulaCachesResult(t *testing.T) {
	tapsDir, cacheDir := t.TempDir(), t.TempDir()
	writeFormulaFile(t, tapsDir, "homebrew/core", "flat", "wget")

	cache := New(cacheDir, 0)
	tm := NewTapManager(tapsDir, cacheDir, cache, fakeParser{}, []string{"homebrew/core"})
	_, err := tm.FindFormula("wget")
	require.NoError(t, err)

	_, ok := cache.Get("wget")
	assert.True(t, ok, "a located formula must be cached before return")
}

func TestFindFormulaMissingReturnsError(t *testing.T) {
	tapsDir, cacheDir := t.TempDir(), t.TempDir()
	tm := NewTapManager(tapsDir, cacheDir, New(cacheDir, 0), fakeParser{}, []string{"homebrew/core"})

	_, err := tm.FindFormula("ghost")
	assert.Error(t, err)
}

func TestBuildIndexEnumeratesBothLayouts(t *testing.T) {
	tapsDir, cacheDir := t.TempDir(), t.TempDir()
	writeFormulaFile(t, tapsDir, "homebrew/core", "flat", "wget")
	writeFormulaFile(t, tapsDir, "homebrew/core", "sharded", "curl")

	tm := NewTapManager(tapsDir, cacheDir, New(cacheDir, 0), fakeParser{}, []string{"homebrew/core"})
	ix, err := tm.BuildIndex("homebrew/core")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"wget", "curl"}, ix.Search("", false))
}
