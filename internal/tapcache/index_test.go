package tapcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchMatchesNameAndDescription(t *testing.T) {
	ix := NewIndex()
	ix.Add("wget", "Internet file retriever")
	ix.Add("curl", "Get a file from an HTTP, HTTPS or FTP server")

	assert.Equal(t, []string{"wget"}, ix.Search("wget", false))
	assert.Empty(t, ix.Search("retriever", false))
	assert.ElementsMatch(t, []string{"wget"}, ix.Search("retriever", true))
}

func TestSearchRanksExactMatchFirst(t *testing.T) {
	ix := NewIndex()
	ix.Add("go", "programming language")
	ix.Add("gofmt", "go source formatter")

	results := ix.Search("go", false)
	require.Len(t, results, 2)
	assert.Equal(t, "go", results[0])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ix := NewIndex()
	ix.Add("wget", "Internet file retriever")
	ix.SetBuiltAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, ix.Save(dir, "homebrew/core"))

	loaded, err := LoadIndex(dir, "homebrew/core")
	require.NoError(t, err)
	assert.Equal(t, []string{"wget"}, loaded.Search("wget", false))
	assert.True(t, loaded.BuiltAt().Equal(ix.BuiltAt()))
}

func TestIsFreshComparesToLastUpdated(t *testing.T) {
	ix := NewIndex()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	ix.SetBuiltAt(now)

	assert.True(t, ix.IsFresh(now.Add(-time.Hour)))
	assert.False(t, ix.IsFresh(now.Add(time.Hour)))
}
