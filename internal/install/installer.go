// Package install implements the installer (§4.6): unpacking a downloaded
// bottle into the Cellar, relocating its embedded placeholder paths,
// wiring up symlinks through the prefix layout, writing a receipt, and
// reversing all of that on uninstall.
package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dimaosipa/velo/internal/layout"
	"github.com/dimaosipa/velo/internal/log"
	"github.com/dimaosipa/velo/internal/receipt"
)

// Options controls how a single package version is installed.
type Options struct {
	// InstalledAs records whether the user asked for this package by name
	// (Explicit) or it was pulled in to satisfy a dependency (Dependency).
	InstalledAs receipt.InstalledAs
	// RequestedBy lists the packages that depend on this one. Empty for an
	// Explicit install with no dependents yet.
	RequestedBy []string
	// Binaries are the binary names this package's bin/ directory exports;
	// every one of them gets a top-level bin/ symlink.
	Binaries []string
	// MakeDefault, when true, repoints opt/<name> and bin/ symlinks at this
	// version (the normal case: a freshly installed version becomes the
	// active one). A resolver-driven dependency install that finds a newer
	// compatible version already active should pass false.
	MakeDefault bool
	// Force allows symlink creation to override a conflicting file or a
	// symlink owned by a non-equivalent package.
	Force bool
}

// Installer unpacks bottles into a Layout-managed prefix and records the
// result in a receipt Store.
type Installer struct {
	layout   *layout.Layout
	receipts *receipt.Store
	log      log.Logger
}

// New builds an Installer over l, persisting receipts through store.
func New(l *layout.Layout, store *receipt.Store, logger log.Logger) *Installer {
	if logger == nil {
		logger = log.Default()
	}
	return &Installer{layout: l, receipts: store, log: logger}
}

// Install extracts the bottle archive at bottlePath into
// Cellar/<name>/<version>, relocates its placeholder paths, wires up
// symlinks, and writes a receipt. It is idempotent: installing the same
// (name, version) again re-extracts and re-relocates rather than erroring.
func (i *Installer) Install(name, version, bottlePath string, opts Options) error {
	pkgDir := i.layout.PackageDir(name, version)
	if err := os.MkdirAll(pkgDir, 0755); err != nil {
		return fmt.Errorf("install: creating %s: %w", pkgDir, err)
	}

	i.log.Debug("extracting bottle", "package", name, "version", version, "archive", bottlePath)
	if err := extractBottle(bottlePath, pkgDir); err != nil {
		return fmt.Errorf("install: extracting %s@%s: %w", name, version, err)
	}

	if err := relocate(i.layout, name, version, pkgDir); err != nil {
		return fmt.Errorf("install: relocating %s@%s: %w", name, version, err)
	}
	if err := verifyNoPlaceholderRpaths(pkgDir, i.layout.Prefix); err != nil {
		return fmt.Errorf("install: verifying relocation of %s@%s: %w", name, version, err)
	}

	created, err := i.linkBinaries(name, version, opts.Binaries, opts.Force)
	if err != nil {
		return fmt.Errorf("install: linking %s@%s: %w", name, version, err)
	}

	if opts.MakeDefault {
		if err := i.layout.SetDefaultVersion(name, version); err != nil {
			return fmt.Errorf("install: setting default version for %s: %w", name, err)
		}
	}

	r := &receipt.Receipt{
		Package:         name,
		Version:         version,
		InstalledAt:     time.Now().UTC(),
		InstalledAs:     opts.InstalledAs,
		RequestedBy:     opts.RequestedBy,
		SymlinksCreated: created,
	}
	if err := i.receipts.Save(r); err != nil {
		return fmt.Errorf("install: saving receipt for %s@%s: %w", name, version, err)
	}

	i.log.Info("installed package", "package", name, "version", version, "as", opts.InstalledAs)
	return nil
}

// binaryEntry describes one binary discovered under a package's installed
// tree, along with the extra context a Framework-resident binary needs to
// be wrapped rather than symlinked (§4.6).
type binaryEntry struct {
	name string
	// source is the absolute path to the real executable.
	source string
	// frameworksDir is non-empty when this binary lives under
	// Frameworks/<fw>.framework/Versions/<v>/bin; it is the package's
	// top-level Frameworks directory, exported as DYLD_FRAMEWORK_PATH.
	frameworksDir string
	// pythonHome is set for a Framework-resident Python interpreter
	// binary, to export as PYTHONHOME.
	pythonHome string
}

// wrapperOwnerMarker prefixes the comment line a wrapper script carries so
// Uninstall can tell which package wrote it, mirroring the way a symlink's
// target path identifies its owner.
const wrapperOwnerMarker = "# velo:owner="

// collectBinaries discovers every binary §4.6 wants linkBinaries to expose:
// pkgDir/bin, pkgDir/libexec/bin (skipping hidden files and .pyc bytecode),
// and pkgDir/Frameworks/<fw>.framework/Versions/<v>/bin.
func collectBinaries(pkgDir string) ([]binaryEntry, error) {
	var entries []binaryEntry

	addDir := func(dir string, fw binaryEntry) error {
		list, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, e := range list {
			n := e.Name()
			if e.IsDir() || strings.HasPrefix(n, ".") || strings.HasSuffix(n, ".pyc") {
				continue
			}
			entry := fw
			entry.name = n
			entry.source = filepath.Join(dir, n)
			if entry.frameworksDir != "" && strings.Contains(strings.ToLower(n), "python") {
				entry.pythonHome = filepath.Dir(dir)
			}
			entries = append(entries, entry)
		}
		return nil
	}

	if err := addDir(filepath.Join(pkgDir, "bin"), binaryEntry{}); err != nil {
		return nil, err
	}
	if err := addDir(filepath.Join(pkgDir, "libexec", "bin"), binaryEntry{}); err != nil {
		return nil, err
	}

	frameworksDir := filepath.Join(pkgDir, "Frameworks")
	fws, err := os.ReadDir(frameworksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("reading %s: %w", frameworksDir, err)
	}
	for _, fw := range fws {
		if !fw.IsDir() || !strings.HasSuffix(fw.Name(), ".framework") {
			continue
		}
		versionsDir := filepath.Join(frameworksDir, fw.Name(), "Versions")
		versions, err := os.ReadDir(versionsDir)
		if err != nil {
			continue
		}
		for _, v := range versions {
			if !v.IsDir() {
				continue
			}
			binDir := filepath.Join(versionsDir, v.Name(), "bin")
			if err := addDir(binDir, binaryEntry{frameworksDir: frameworksDir}); err != nil {
				return nil, err
			}
		}
	}
	return entries, nil
}

// linkBinaries creates the three-tier bin/ entries §4.6 requires for every
// discovered binary: bin/<binary>@<version> (versioned) and bin/<binary>
// (default), using a symlink for a plain bin/ or libexec/bin binary and a
// wrapper script for one that lives under Frameworks/. It returns the
// destination paths actually created (as opposed to skipped due to a
// conflict).
func (i *Installer) linkBinaries(name, version string, binaries []string, force bool) ([]string, error) {
	pkgDir := i.layout.PackageDir(name, version)
	all, err := collectBinaries(pkgDir)
	if err != nil {
		return nil, err
	}

	entries := all
	if len(binaries) > 0 {
		wanted := make(map[string]bool, len(binaries))
		for _, b := range binaries {
			wanted[b] = true
		}
		filtered := make([]binaryEntry, 0, len(binaries))
		for _, e := range all {
			if wanted[e.name] {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	var created []string
	for _, entry := range entries {
		dests := [2]string{i.layout.SymlinkPath(entry.name), i.layout.VersionedSymlinkPath(entry.name, version)}
		for _, dest := range dests {
			var result layout.SymlinkResult
			if entry.frameworksDir != "" {
				result = writeWrapperScript(entry, dest, name, force)
			} else {
				result = layout.CreateSymlinkChecked(entry.source, dest, name, force)
			}
			switch result.Outcome {
			case layout.Created:
				created = append(created, dest)
			case layout.Skipped:
				i.log.Warn("binary link skipped", "binary", entry.name, "dest", dest, "reason", result.Reason)
			case layout.Failed:
				return created, result.Err
			}
		}
	}
	return created, nil
}

// writeWrapperScript writes a shell wrapper at dest that execs a
// Framework-resident binary with DYLD_FRAMEWORK_PATH (and PYTHONHOME for a
// Python interpreter) set, applying the same conflict rules
// layout.CreateSymlinkChecked uses for plain symlinks.
func writeWrapperScript(entry binaryEntry, dest, owningPackage string, force bool) layout.SymlinkResult {
	if _, err := os.Lstat(dest); err == nil {
		owner, ok := ownerOfSymlink(dest)
		conflicting := !ok || (owner != owningPackage && !layout.Equivalent(owner, owningPackage))
		if conflicting && !force {
			reason := "file already exists"
			if ok {
				reason = fmt.Sprintf("conflicts with %s", owner)
			}
			return layout.SymlinkResult{Outcome: layout.Skipped, Reason: reason}
		}
		if err := os.RemoveAll(dest); err != nil {
			return layout.SymlinkResult{Outcome: layout.Failed, Err: fmt.Errorf("removing %s: %w", dest, err)}
		}
	} else if !os.IsNotExist(err) {
		return layout.SymlinkResult{Outcome: layout.Failed, Err: fmt.Errorf("inspecting %s: %w", dest, err)}
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString(wrapperOwnerMarker + owningPackage + "\n")
	fmt.Fprintf(&b, "export DYLD_FRAMEWORK_PATH=%q\n", entry.frameworksDir)
	if entry.pythonHome != "" {
		fmt.Fprintf(&b, "export PYTHONHOME=%q\n", entry.pythonHome)
	}
	fmt.Fprintf(&b, "exec %q \"$@\"\n", entry.source)

	if err := os.WriteFile(dest, []byte(b.String()), 0755); err != nil {
		return layout.SymlinkResult{Outcome: layout.Failed, Err: fmt.Errorf("writing wrapper %s: %w", dest, err)}
	}
	return layout.SymlinkResult{Outcome: layout.Created}
}

// Uninstall removes a package version's Cellar directory, the bin/
// symlinks it owns (repointed to the next-highest remaining version if
// this was the default one), and its receipt.
func (i *Installer) Uninstall(name, version string) error {
	versions, err := i.layout.InstalledVersions(name)
	if err != nil {
		return fmt.Errorf("uninstall: listing versions of %s: %w", name, err)
	}

	wasDefault, err := i.isDefaultVersion(name, version)
	if err != nil {
		return fmt.Errorf("uninstall: checking default version of %s: %w", name, err)
	}

	r, err := i.receipts.Load(name, version)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("uninstall: loading receipt for %s@%s: %w", name, version, err)
	}

	pkgDir := i.layout.PackageDir(name, version)
	if err := os.RemoveAll(pkgDir); err != nil {
		return fmt.Errorf("uninstall: removing %s: %w", pkgDir, err)
	}

	if r != nil {
		for _, link := range r.SymlinksCreated {
			if owner, ok := ownerOfSymlink(link); ok && owner == name {
				os.Remove(link)
			}
		}
	}

	if err := i.receipts.Delete(name, version); err != nil {
		return fmt.Errorf("uninstall: deleting receipt for %s@%s: %w", name, version, err)
	}

	remaining := removeVersion(versions, version)
	if wasDefault && len(remaining) > 0 {
		next := highestVersion(remaining)
		binaries, err := i.binariesOf(name, next)
		if err != nil {
			return fmt.Errorf("uninstall: determining binaries for %s@%s: %w", name, next, err)
		}
		if _, err := i.linkBinaries(name, next, binaries, true); err != nil {
			return fmt.Errorf("uninstall: relinking %s@%s: %w", name, next, err)
		}
		if err := i.layout.SetDefaultVersion(name, next); err != nil {
			return fmt.Errorf("uninstall: repointing default to %s@%s: %w", name, next, err)
		}
	} else if wasDefault {
		os.Remove(i.layout.OptPath(name))
	}

	i.log.Info("uninstalled package", "package", name, "version", version)
	return nil
}

func (i *Installer) isDefaultVersion(name, version string) (bool, error) {
	target, err := os.Readlink(i.layout.OptPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return filepath.Base(target) == version, nil
}

func (i *Installer) binariesOf(name, version string) ([]string, error) {
	entries, err := collectBinaries(i.layout.PackageDir(name, version))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for idx, e := range entries {
		names[idx] = e.name
	}
	return names, nil
}

// ownerOfSymlink reports the package that owns the bin/ entry at path,
// whether it is a plain symlink into the Cellar or a Framework wrapper
// script carrying a wrapperOwnerMarker comment.
func ownerOfSymlink(path string) (string, bool) {
	if target, err := os.Readlink(path); err == nil {
		// target looks like <prefix>/Cellar/<name>/<version>/.../<binary>.
		marker := string(filepath.Separator) + "Cellar" + string(filepath.Separator)
		idx := strings.Index(target, marker)
		if idx < 0 {
			return "", false
		}
		owner, _, _ := strings.Cut(target[idx+len(marker):], string(filepath.Separator))
		if owner == "" {
			return "", false
		}
		return owner, true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if owner, ok := strings.CutPrefix(line, wrapperOwnerMarker); ok {
			return strings.TrimSpace(owner), true
		}
	}
	return "", false
}

func removeVersion(versions []string, target string) []string {
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// highestVersion returns the lexicographically greatest version string.
// versions is already sorted by Layout.InstalledVersions, so the last
// surviving entry is the highest.
func highestVersion(versions []string) string {
	return versions[len(versions)-1]
}
