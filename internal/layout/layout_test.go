package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLayout(t *testing.T) *Layout {
	t.Helper()
	dir := t.TempDir()
	l := New(dir)
	require.NoError(t, l.EnsureSkeleton())
	return l
}

func TestEnsureSkeletonIdempotent(t *testing.T) {
	l := newTestLayout(t)
	require.NoError(t, l.EnsureSkeleton())
	for _, dir := range []string{l.CellarDir(), l.BinDir(), l.OptDir(), l.CacheDir(), l.TapsDir(), l.ReceiptsDir(), l.TmpDir(), l.LogsDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestInstalledVersionsEmptyWhenAbsent(t *testing.T) {
	l := newTestLayout(t)
	versions, err := l.InstalledVersions("wget")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestInstalledVersionsSortedIgnoresHidden(t *testing.T) {
	l := newTestLayout(t)
	require.NoError(t, os.MkdirAll(l.PackageDir("wget", "1.21.0"), 0755))
	require.NoError(t, os.MkdirAll(l.PackageDir("wget", "1.20.0"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(l.CellarDir(), "wget", ".hidden"), 0755))

	versions, err := l.InstalledVersions("wget")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.20.0", "1.21.0"}, versions)
}

func TestIsInstalledRequiresNonEmptyVersionDir(t *testing.T) {
	l := newTestLayout(t)
	require.NoError(t, os.MkdirAll(l.PackageDir("wget", "1.21.0"), 0755))

	installed, err := l.IsInstalled("wget")
	require.NoError(t, err)
	assert.False(t, installed, "empty version directory is not an install")

	require.NoError(t, os.WriteFile(filepath.Join(l.PackageDir("wget", "1.21.0"), "bin"), []byte("x"), 0644))
	installed, err = l.IsInstalled("wget")
	require.NoError(t, err)
	assert.True(t, installed)
}

func TestCreateSymlinkCheckedCreatesWhenAbsent(t *testing.T) {
	l := newTestLayout(t)
	dest := l.SymlinkPath("wget")
	result := CreateSymlinkChecked("/somewhere/wget", dest, "wget", false)
	assert.Equal(t, Created, result.Outcome)

	target, err := os.Readlink(dest)
	require.NoError(t, err)
	assert.Equal(t, "/somewhere/wget", target)
}

func TestCreateSymlinkCheckedReplacesOwnPackageSymlink(t *testing.T) {
	l := newTestLayout(t)
	dest := l.SymlinkPath("wget")
	oldTarget := filepath.Join(l.CellarDir(), "wget", "1.20.0", "bin", "wget")
	require.NoError(t, os.MkdirAll(filepath.Dir(oldTarget), 0755))
	require.NoError(t, os.WriteFile(oldTarget, []byte("x"), 0755))
	require.NoError(t, os.Symlink(oldTarget, dest))

	newTarget := filepath.Join(l.CellarDir(), "wget", "1.21.0", "bin", "wget")
	result := CreateSymlinkChecked(newTarget, dest, "wget", false)
	assert.Equal(t, Created, result.Outcome)

	target, err := os.Readlink(dest)
	require.NoError(t, err)
	assert.Equal(t, newTarget, target)
}

func TestCreateSymlinkCheckedSkipsConflictingPackage(t *testing.T) {
	l := newTestLayout(t)
	dest := l.SymlinkPath("ruby")
	otherTarget := filepath.Join(l.CellarDir(), "truby", "1.0.0", "bin", "ruby")
	require.NoError(t, os.MkdirAll(filepath.Dir(otherTarget), 0755))
	require.NoError(t, os.WriteFile(otherTarget, []byte("x"), 0755))
	require.NoError(t, os.Symlink(otherTarget, dest))

	newTarget := filepath.Join(l.CellarDir(), "ruby", "3.3.0", "bin", "ruby")
	result := CreateSymlinkChecked(newTarget, dest, "ruby", false)
	require.Equal(t, Skipped, result.Outcome)
	assert.Contains(t, result.Reason, "truby")
}

func TestCreateSymlinkCheckedForceOverridesConflict(t *testing.T) {
	l := newTestLayout(t)
	dest := l.SymlinkPath("ruby")
	otherTarget := filepath.Join(l.CellarDir(), "truby", "1.0.0", "bin", "ruby")
	require.NoError(t, os.MkdirAll(filepath.Dir(otherTarget), 0755))
	require.NoError(t, os.WriteFile(otherTarget, []byte("x"), 0755))
	require.NoError(t, os.Symlink(otherTarget, dest))

	newTarget := filepath.Join(l.CellarDir(), "ruby", "3.3.0", "bin", "ruby")
	result := CreateSymlinkChecked(newTarget, dest, "ruby", true)
	assert.Equal(t, Created, result.Outcome)
}

func TestCreateSymlinkCheckedSkipsRegularFileWithoutForce(t *testing.T) {
	l := newTestLayout(t)
	dest := l.SymlinkPath("wget")
	require.NoError(t, os.WriteFile(dest, []byte("not a symlink"), 0644))

	result := CreateSymlinkChecked("/somewhere/wget", dest, "wget", false)
	assert.Equal(t, Skipped, result.Outcome)
	assert.Contains(t, result.Reason, "already exists")
}

func TestSetDefaultVersionRepointsOptAndBinaries(t *testing.T) {
	l := newTestLayout(t)
	binDir := filepath.Join(l.PackageDir("wget", "1.21.0"), "bin")
	require.NoError(t, os.MkdirAll(binDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "wget"), []byte("x"), 0755))

	require.NoError(t, l.SetDefaultVersion("wget", "1.21.0"))

	optTarget, err := os.Readlink(l.OptPath("wget"))
	require.NoError(t, err)
	assert.Equal(t, l.PackageDir("wget", "1.21.0"), optTarget)

	binTarget, err := os.Readlink(l.SymlinkPath("wget"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(binDir, "wget"), binTarget)
}
