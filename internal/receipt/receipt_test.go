package receipt

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	r := &Receipt{
		Package:         "wget",
		Version:         "1.21.0",
		InstalledAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		InstalledAs:     Explicit,
		RequestedBy:     nil,
		SymlinksCreated: []string{"bin/wget", "bin/wget@1.21.0"},
	}
	require.NoError(t, s.Save(r))

	loaded, err := s.Load("wget", "1.21.0")
	require.NoError(t, err)
	assert.Equal(t, r.Package, loaded.Package)
	assert.Equal(t, r.InstalledAs, loaded.InstalledAs)
	assert.Equal(t, r.SymlinksCreated, loaded.SymlinksCreated)
	assert.True(t, r.InstalledAt.Equal(loaded.InstalledAt))
}

func TestLoadMissingReturnsNotExist(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Load("missing", "1.0.0")
	assert.True(t, os.IsNotExist(err))
}

func TestAddDependentIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save(&Receipt{Package: "openssl", Version: "3.2.0", InstalledAs: Dependency}))

	require.NoError(t, s.AddDependent("openssl", "3.2.0", "wget"))
	require.NoError(t, s.AddDependent("openssl", "3.2.0", "wget"))

	loaded, err := s.Load("openssl", "3.2.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"wget"}, loaded.RequestedBy)
}

func TestRemoveDependentReportsCollectable(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save(&Receipt{
		Package: "openssl", Version: "3.2.0",
		InstalledAs: Dependency, RequestedBy: []string{"wget"},
	}))

	collectable, err := s.RemoveDependent("openssl", "3.2.0", "wget")
	require.NoError(t, err)
	assert.True(t, collectable)
}

func TestRemoveDependentExplicitNeverCollectable(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save(&Receipt{
		Package: "wget", Version: "1.21.0",
		InstalledAs: Explicit, RequestedBy: []string{"wget"},
	}))

	collectable, err := s.RemoveDependent("wget", "1.21.0", "wget")
	require.NoError(t, err)
	assert.False(t, collectable)
}

func TestDeleteRemovesReceiptDirectory(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save(&Receipt{Package: "wget", Version: "1.21.0", InstalledAs: Explicit}))
	require.NoError(t, s.Delete("wget", "1.21.0"))

	_, err := s.Load("wget", "1.21.0")
	assert.True(t, os.IsNotExist(err))
}
