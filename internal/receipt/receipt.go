// Package receipt implements the receipt store (§4.2): the durable record
// of why each installed package version exists, at
// <prefix>/receipts/<name>/<version>/receipt.json. Receipts are the
// reference-counting mechanism that lets uninstall distinguish a package the
// user asked for from one pulled in only as someone else's dependency.
package receipt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dimaosipa/velo/internal/filelock"
)

// InstalledAs classifies why a package is present.
type InstalledAs string

const (
	// Explicit means the user named this package directly.
	Explicit InstalledAs = "explicit"
	// Dependency means this package was pulled in to satisfy another
	// package's requirement.
	Dependency InstalledAs = "dependency"
)

// Receipt is the persisted record for one installed (package, version).
// Field order matches the JSON tag order so MarshalIndent produces stable,
// diffable output (§4.2, §5 "stable key ordering").
type Receipt struct {
	Package         string      `json:"package"`
	Version         string      `json:"version"`
	InstalledAt     time.Time   `json:"installedAt"`
	InstalledAs     InstalledAs `json:"installedAs"`
	RequestedBy     []string    `json:"requestedBy"`
	SymlinksCreated []string    `json:"symlinksCreated"`
}

// Store reads and writes receipts under <prefix>/receipts.
type Store struct {
	root string
}

// New builds a Store rooted at receiptsDir (typically Layout.ReceiptsDir()).
func New(receiptsDir string) *Store {
	return &Store{root: receiptsDir}
}

func (s *Store) dir(name, version string) string {
	return filepath.Join(s.root, name, version)
}

func (s *Store) path(name, version string) string {
	return filepath.Join(s.dir(name, version), "receipt.json")
}

func (s *Store) lockPath(name, version string) string {
	return filepath.Join(s.dir(name, version), "receipt.json.lock")
}

// Save persists r at its canonical location, creating parent directories as
// needed. The write is atomic (temp file + rename) and lock-protected so a
// concurrent Load never observes a partially written file.
func (s *Store) Save(r *Receipt) error {
	dir := s.dir(r.Package, r.Version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("receipt: creating %s: %w", dir, err)
	}

	lock := filelock.New(s.lockPath(r.Package, r.Version))
	if err := lock.LockExclusive(); err != nil {
		return fmt.Errorf("receipt: locking %s@%s: %w", r.Package, r.Version, err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("receipt: marshalling %s@%s: %w", r.Package, r.Version, err)
	}

	path := s.path(r.Package, r.Version)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("receipt: writing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("receipt: renaming %s: %w", tmpPath, err)
	}
	return nil
}

// Load reads the receipt for (name, version). It returns os.ErrNotExist
// (wrapped) if no receipt has been written.
func (s *Store) Load(name, version string) (*Receipt, error) {
	if _, err := os.Stat(s.dir(name, version)); err != nil {
		return nil, err
	}
	lock := filelock.New(s.lockPath(name, version))
	if err := lock.LockShared(); err != nil {
		return nil, fmt.Errorf("receipt: locking %s@%s: %w", name, version, err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(s.path(name, version))
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("receipt: parsing %s@%s: %w", name, version, err)
	}
	return &r, nil
}

// Update loads the current receipt, applies mutate, and saves the result.
// If no receipt exists yet, mutate receives a zero-valued Receipt with
// Package/Version pre-filled.
func (s *Store) Update(name, version string, mutate func(*Receipt)) error {
	r, err := s.Load(name, version)
	if os.IsNotExist(err) {
		r = &Receipt{Package: name, Version: version}
	} else if err != nil {
		return err
	}
	mutate(r)
	return s.Save(r)
}

// AddDependent appends requestedByName to RequestedBy if not already
// present, and persists the result. Used when a package already installed
// as a dependency gains another dependent.
func (s *Store) AddDependent(name, version, requestedByName string) error {
	return s.Update(name, version, func(r *Receipt) {
		for _, existing := range r.RequestedBy {
			if existing == requestedByName {
				return
			}
		}
		r.RequestedBy = append(r.RequestedBy, requestedByName)
	})
}

// RemoveDependent removes requestedByName from RequestedBy and reports
// whether the receipt is now eligible for garbage collection: a dependency
// receipt (InstalledAs == Dependency) whose RequestedBy list is now empty.
func (s *Store) RemoveDependent(name, version, requestedByName string) (collectable bool, err error) {
	r, loadErr := s.Load(name, version)
	if loadErr != nil {
		return false, loadErr
	}
	filtered := r.RequestedBy[:0]
	for _, existing := range r.RequestedBy {
		if existing != requestedByName {
			filtered = append(filtered, existing)
		}
	}
	r.RequestedBy = filtered
	if err := s.Save(r); err != nil {
		return false, err
	}
	return r.InstalledAs == Dependency && len(r.RequestedBy) == 0, nil
}

// Delete removes the receipt directory for (name, version) entirely.
func (s *Store) Delete(name, version string) error {
	if err := os.RemoveAll(s.dir(name, version)); err != nil {
		return fmt.Errorf("receipt: deleting %s@%s: %w", name, version, err)
	}
	return nil
}
