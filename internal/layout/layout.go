// Package layout owns the on-disk prefix layout (§4.1): the canonical
// directory skeleton rooted at <prefix>, the path-derivation helpers every
// other subsystem builds on, and the symlink primitives with conflict
// detection that the installer uses to expose binaries. Nothing here parses
// formulas or resolves dependencies — this package only knows about paths
// and the filesystem state at those paths.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EnvPrefix overrides the default prefix directory, mirroring the
// env-var-tunable configuration style used throughout this codebase.
const EnvPrefix = "VELO_PREFIX"

// DefaultPrefixOverride lets tests pin a prefix without touching the
// environment.
var DefaultPrefixOverride string

// Layout derives every on-disk path the core subsystems use and owns the
// symlink primitives that expose installed binaries. A Layout is safe to
// share across goroutines for reads; callers serialise writes themselves
// (the orchestrator installs one package at a time, per §4.7/§5).
type Layout struct {
	Prefix string
}

// New builds a Layout rooted at prefix. An empty prefix resolves through
// DefaultPrefix().
func New(prefix string) *Layout {
	if prefix == "" {
		prefix = DefaultPrefix()
	}
	return &Layout{Prefix: prefix}
}

// DefaultPrefix resolves the prefix root: DefaultPrefixOverride (tests),
// then VELO_PREFIX, then "~/.velo".
func DefaultPrefix() string {
	if DefaultPrefixOverride != "" {
		return DefaultPrefixOverride
	}
	if v := os.Getenv(EnvPrefix); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".velo")
}

// CellarDir is <prefix>/Cellar, the root of all installed package trees.
func (l *Layout) CellarDir() string { return filepath.Join(l.Prefix, "Cellar") }

// BinDir is <prefix>/bin, where the symlink hierarchy lives.
func (l *Layout) BinDir() string { return filepath.Join(l.Prefix, "bin") }

// OptDir is <prefix>/opt, holding one default-version symlink per package.
func (l *Layout) OptDir() string { return filepath.Join(l.Prefix, "opt") }

// CacheDir is <prefix>/cache, the formula-cache and download-cache root.
func (l *Layout) CacheDir() string { return filepath.Join(l.Prefix, "cache") }

// TapsDir is <prefix>/taps, where tap metadata and formula files are kept.
func (l *Layout) TapsDir() string { return filepath.Join(l.Prefix, "taps") }

// ReceiptsDir is <prefix>/receipts, the receipt store root.
func (l *Layout) ReceiptsDir() string { return filepath.Join(l.Prefix, "receipts") }

// TmpDir is <prefix>/tmp, used for atomic extraction and download staging.
func (l *Layout) TmpDir() string { return filepath.Join(l.Prefix, "tmp") }

// LogsDir is <prefix>/logs.
func (l *Layout) LogsDir() string { return filepath.Join(l.Prefix, "logs") }

// EnsureSkeleton creates every subtree idempotently.
func (l *Layout) EnsureSkeleton() error {
	for _, dir := range []string{
		l.CellarDir(), l.BinDir(), l.OptDir(), l.CacheDir(),
		l.TapsDir(), l.ReceiptsDir(), l.TmpDir(), l.LogsDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("layout: creating %s: %w", dir, err)
		}
	}
	return nil
}

// PackageDir is <prefix>/Cellar/<name>/<version>.
func (l *Layout) PackageDir(name, version string) string {
	return filepath.Join(l.CellarDir(), name, version)
}

// OptPath is <prefix>/opt/<name>.
func (l *Layout) OptPath(name string) string {
	return filepath.Join(l.OptDir(), name)
}

// SymlinkPath is <prefix>/bin/<binary>.
func (l *Layout) SymlinkPath(binary string) string {
	return filepath.Join(l.BinDir(), binary)
}

// VersionedSymlinkPath is <prefix>/bin/<binary>@<version>.
func (l *Layout) VersionedSymlinkPath(binary, version string) string {
	return filepath.Join(l.BinDir(), binary+"@"+version)
}

// InstalledVersions returns the sorted list of non-hidden version
// directories under Cellar/<name>. A missing Cellar/<name> yields an empty
// slice, not an error.
func (l *Layout) InstalledVersions(name string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.CellarDir(), name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("layout: listing versions of %s: %w", name, err)
	}
	var versions []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		versions = append(versions, e.Name())
	}
	sort.Strings(versions)
	return versions, nil
}

// IsInstalled reports whether at least one version directory exists for
// name and is non-empty. A bare empty skeleton directory does not count.
func (l *Layout) IsInstalled(name string) (bool, error) {
	versions, err := l.InstalledVersions(name)
	if err != nil {
		return false, err
	}
	for _, v := range versions {
		entries, err := os.ReadDir(l.PackageDir(name, v))
		if err != nil {
			continue
		}
		if len(entries) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// SymlinkOutcome is the result of a single create_symlink_checked call.
type SymlinkOutcome int

const (
	// Created means the symlink now points at the requested source.
	Created SymlinkOutcome = iota
	// Skipped means an existing, non-conflicting or force-protected
	// destination was left untouched. Reason() explains why.
	Skipped
	// Failed means the filesystem operation itself errored.
	Failed
)

func (o SymlinkOutcome) String() string {
	switch o {
	case Created:
		return "Created"
	case Skipped:
		return "Skipped"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// SymlinkResult is the full outcome of CreateSymlinkChecked: an outcome tag
// plus the skip reason or failure error that produced it.
type SymlinkResult struct {
	Outcome SymlinkOutcome
	Reason  string
	Err     error
}

// CreateSymlinkChecked implements the §4.1 contract: it creates dest → source
// when safe, and otherwise reports why it declined, without ever leaving
// dest half-deleted. owningPackage is the canonical name the new symlink
// would belong to; it is compared against any existing target's owning
// package under package equivalence (Equivalent).
func CreateSymlinkChecked(source, dest, owningPackage string, force bool) SymlinkResult {
	info, err := os.Lstat(dest)
	if os.IsNotExist(err) {
		if err := os.Symlink(source, dest); err != nil {
			return SymlinkResult{Outcome: Failed, Err: fmt.Errorf("creating symlink %s: %w", dest, err)}
		}
		return SymlinkResult{Outcome: Created}
	}
	if err != nil {
		return SymlinkResult{Outcome: Failed, Err: fmt.Errorf("inspecting %s: %w", dest, err)}
	}

	if info.Mode()&os.ModeSymlink == 0 {
		// A regular file (or directory) occupies the destination.
		if !force {
			return SymlinkResult{Outcome: Skipped, Reason: "file already exists"}
		}
		if err := forceRemove(dest); err != nil {
			return SymlinkResult{Outcome: Failed, Err: err}
		}
		if err := os.Symlink(source, dest); err != nil {
			return SymlinkResult{Outcome: Failed, Err: fmt.Errorf("creating symlink %s: %w", dest, err)}
		}
		return SymlinkResult{Outcome: Created}
	}

	existingOwner, ok := ownerFromCellarTarget(dest)
	if ok && (existingOwner == owningPackage || Equivalent(existingOwner, owningPackage)) {
		if err := replaceSymlink(source, dest); err != nil {
			return SymlinkResult{Outcome: Failed, Err: err}
		}
		return SymlinkResult{Outcome: Created}
	}

	// Points at a different, non-equivalent package: a conflict.
	if !force {
		reason := "conflicts with another package"
		if ok {
			reason = fmt.Sprintf("conflicts with %s", existingOwner)
		}
		return SymlinkResult{Outcome: Skipped, Reason: reason}
	}
	if err := replaceSymlink(source, dest); err != nil {
		return SymlinkResult{Outcome: Failed, Err: err}
	}
	return SymlinkResult{Outcome: Created}
}

// replaceSymlink clears extended attributes and ensures write permission
// before removal, falling back to an external file-removal utility if the
// plain removal still fails under force (§4.1).
func replaceSymlink(source, dest string) error {
	if err := clearXattrsAndUnlock(dest); err != nil {
		return fmt.Errorf("preparing %s for replacement: %w", dest, err)
	}
	if err := os.Remove(dest); err != nil {
		if rmErr := forceRemoveExternal(dest); rmErr != nil {
			return fmt.Errorf("removing existing %s: %w (fallback also failed: %v)", dest, err, rmErr)
		}
	}
	if err := os.Symlink(source, dest); err != nil {
		return fmt.Errorf("creating symlink %s: %w", dest, err)
	}
	return nil
}

// forceRemove deletes a regular file or directory under force, applying
// the same attribute/permission clearing replaceSymlink does for symlinks.
func forceRemove(dest string) error {
	if err := clearXattrsAndUnlock(dest); err != nil {
		return fmt.Errorf("preparing %s for removal: %w", dest, err)
	}
	if err := os.RemoveAll(dest); err != nil {
		if rmErr := forceRemoveExternal(dest); rmErr != nil {
			return fmt.Errorf("removing %s: %w (fallback also failed: %v)", dest, err, rmErr)
		}
	}
	return nil
}

// ownerFromCellarTarget inspects the symlink at dest and, if it resolves
// into Cellar/<name>/..., returns that name.
func ownerFromCellarTarget(dest string) (string, bool) {
	target, err := os.Readlink(dest)
	if err != nil {
		return "", false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(dest), target)
	}
	idx := strings.Index(target, string(filepath.Separator)+"Cellar"+string(filepath.Separator))
	if idx < 0 {
		return "", false
	}
	rest := target[idx+len("/Cellar/"):]
	parts := strings.SplitN(rest, string(filepath.Separator), 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}

// SetDefaultVersion repoints opt/<name> and every bin/<binary> symlink for
// every binary in that version's bin/ directory to the chosen version.
func (l *Layout) SetDefaultVersion(name, version string) error {
	pkgDir := l.PackageDir(name, version)

	optSymlink := l.OptPath(name)
	if _, err := os.Lstat(optSymlink); err == nil {
		if err := os.Remove(optSymlink); err != nil {
			return fmt.Errorf("layout: removing old opt symlink for %s: %w", name, err)
		}
	}
	if err := os.Symlink(pkgDir, optSymlink); err != nil {
		return fmt.Errorf("layout: repointing opt/%s: %w", name, err)
	}

	binEntries, err := os.ReadDir(filepath.Join(pkgDir, "bin"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("layout: listing bin/ for %s@%s: %w", name, version, err)
	}
	for _, e := range binEntries {
		if e.IsDir() {
			continue
		}
		binary := e.Name()
		target := filepath.Join(pkgDir, "bin", binary)
		result := CreateSymlinkChecked(target, l.SymlinkPath(binary), name, true)
		if result.Outcome == Failed {
			return fmt.Errorf("layout: repointing bin/%s: %w", binary, result.Err)
		}
	}
	return nil
}
