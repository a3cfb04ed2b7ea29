// Package lockfile implements §3's Lockfile record: a reproducible,
// human-editable snapshot of exactly what got installed — resolved
// versions, the bottle URL and checksum that produced them, and the tap
// commit each formula came from — written as TOML the way this codebase
// writes every other hand-editable record (§9 supplements the data model
// with operations the distilled spec named but didn't detail).
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// Version is fixed at 1; a future incompatible format bumps it and
// Load rejects anything else outright rather than guessing.
const Version = 1

// Dependency is one resolved package's pinned install record.
type Dependency struct {
	Version     string   `toml:"version"`
	ResolvedURL string   `toml:"resolved_url"`
	SHA256      string   `toml:"sha256"`
	Tap         string   `toml:"tap"`
	Deps        []string `toml:"deps,omitempty"`
}

// TapPin records the commit a tap was at when the lockfile was written.
type TapPin struct {
	Commit string `toml:"commit,omitempty"`
}

// Lockfile is §3's reproducible-reinstallation record, written to
// velo.lock at the root of whatever project requested the install.
type Lockfile struct {
	LockfileVersion int                   `toml:"lockfile_version"`
	Dependencies    map[string]Dependency `toml:"dependencies"`
	Taps            map[string]TapPin     `toml:"taps"`
}

// New builds an empty Lockfile at the current format version.
func New() *Lockfile {
	return &Lockfile{
		LockfileVersion: Version,
		Dependencies:    make(map[string]Dependency),
		Taps:            make(map[string]TapPin),
	}
}

// Add records (or overwrites) one dependency's pinned install record.
func (l *Lockfile) Add(name string, dep Dependency) {
	if l.Dependencies == nil {
		l.Dependencies = make(map[string]Dependency)
	}
	l.Dependencies[name] = dep
}

// PinTap records the commit a tap was at.
func (l *Lockfile) PinTap(tap, commit string) {
	if l.Taps == nil {
		l.Taps = make(map[string]TapPin)
	}
	l.Taps[tap] = TapPin{Commit: commit}
}

// SortedDependencyNames returns dependency keys in sorted order, matching
// §6's "dependencies map is sorted by key" contract for the encoded file.
func (l *Lockfile) SortedDependencyNames() []string {
	names := make([]string, 0, len(l.Dependencies))
	for name := range l.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads and decodes a lockfile from path. A missing file is not an
// error: it returns a fresh empty Lockfile, the same convention the
// receipt store uses for "absent, not error".
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("lockfile: reading %s: %w", path, err)
	}

	var lf Lockfile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("lockfile: parsing %s: %w", path, err)
	}
	if lf.LockfileVersion != Version {
		return nil, fmt.Errorf("lockfile: %s has unsupported lockfile_version %d (want %d)", path, lf.LockfileVersion, Version)
	}
	if lf.Dependencies == nil {
		lf.Dependencies = make(map[string]Dependency)
	}
	if lf.Taps == nil {
		lf.Taps = make(map[string]TapPin)
	}
	return &lf, nil
}

// Save atomically writes the lockfile to path via a temp-file-then-rename
// in the same directory, so a crash mid-write never leaves a truncated
// velo.lock behind.
func (l *Lockfile) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("lockfile: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".velo-lock-*.tmp")
	if err != nil {
		return fmt.Errorf("lockfile: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if l.LockfileVersion == 0 {
		l.LockfileVersion = Version
	}
	if err := toml.NewEncoder(tmp).Encode(l); err != nil {
		return fmt.Errorf("lockfile: encoding: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("lockfile: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("lockfile: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("lockfile: renaming into place: %w", err)
	}
	success = true
	return nil
}

// FromPlan builds dependency entries for every installed node the
// orchestrator just resolved, keyed by canonical name. Callers add tap
// pins separately since the resolver doesn't track tap provenance itself.
func FromPlan(bottleURLs, bottleSHA256s map[string]string, versions map[string]string, deps map[string][]string, tap string) *Lockfile {
	lf := New()
	for name, version := range versions {
		lf.Add(name, Dependency{
			Version:     version,
			ResolvedURL: bottleURLs[name],
			SHA256:      bottleSHA256s[name],
			Tap:         tap,
			Deps:        deps[name],
		})
	}
	return lf
}
