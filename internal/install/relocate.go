package install

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dimaosipa/velo/internal/layout"
	"github.com/dimaosipa/velo/internal/log"
)

// placeholderTokens are the tokens bottles embed in text files and
// Mach-O load commands in place of the eventual install prefix (§5).
var placeholderTokens = [][]byte{
	[]byte("@@HOMEBREW_PREFIX@@"),
	[]byte("@@HOMEBREW_CELLAR@@"),
	[]byte("/opt/homebrew"),
	[]byte("/usr/local/Cellar"),
	[]byte("/usr/local/opt"),
	[]byte("/usr/local"),
}

// relocate rewrites every placeholder token under packageDir with the real
// prefix and cellar paths, and fixes up Mach-O binaries so dynamic linking
// resolves against the new location (§5). name and version identify the
// package owning packageDir, needed to compute its own dylibs' @rpath id.
func relocate(l *layout.Layout, name, version, packageDir string) error {
	prefixPath, cellarPath := l.Prefix, l.CellarDir()
	return filepath.Walk(packageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		if isMachO(content) {
			return fixMachORelocation(l, name, version, path)
		}

		if !containsAnyPlaceholder(content) {
			return nil
		}
		return rewriteTextPlaceholders(path, content, info.Mode(), prefixPath, cellarPath)
	})
}

func containsAnyPlaceholder(content []byte) bool {
	for _, tok := range placeholderTokens {
		if bytes.Contains(content, tok) {
			return true
		}
	}
	return false
}

// rewriteTextPlaceholders replaces placeholder tokens in a text file,
// restoring its original mode (bottles frequently ship read-only files).
func rewriteTextPlaceholders(path string, content []byte, mode os.FileMode, prefixPath, cellarPath string) error {
	rewritten := bytes.ReplaceAll(content, []byte("@@HOMEBREW_CELLAR@@"), []byte(cellarPath))
	rewritten = bytes.ReplaceAll(rewritten, []byte("@@HOMEBREW_PREFIX@@"), []byte(prefixPath))
	rewritten = bytes.ReplaceAll(rewritten, []byte("/usr/local/Cellar"), []byte(cellarPath))
	rewritten = bytes.ReplaceAll(rewritten, []byte("/opt/homebrew"), []byte(prefixPath))
	rewritten = bytes.ReplaceAll(rewritten, []byte("/usr/local/opt"), []byte(filepath.Join(prefixPath, "opt")))
	rewritten = bytes.ReplaceAll(rewritten, []byte("/usr/local"), []byte(prefixPath))

	if bytes.Equal(rewritten, content) {
		return nil
	}

	if mode&0200 == 0 {
		if err := os.Chmod(path, mode|0200); err != nil {
			return fmt.Errorf("making %s writable: %w", path, err)
		}
	}
	if err := os.WriteFile(path, rewritten, mode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

var machOMagics = [][]byte{
	{0xfe, 0xed, 0xfa, 0xce},
	{0xce, 0xfa, 0xed, 0xfe},
	{0xfe, 0xed, 0xfa, 0xcf},
	{0xcf, 0xfa, 0xed, 0xfe},
	{0xca, 0xfe, 0xba, 0xbe},
	{0xbe, 0xba, 0xfe, 0xca},
}

func isMachO(content []byte) bool {
	if len(content) < 4 {
		return false
	}
	for _, magic := range machOMagics {
		if bytes.Equal(content[:4], magic) {
			return true
		}
	}
	return false
}

// fixMachORelocation rewrites a Mach-O binary's RPATH and library
// references away from the placeholder Cellar path, and re-signs it
// ad-hoc (required for execution on Apple Silicon). When install_name_tool
// or otool is absent the binary is left untouched; a signing failure is
// logged as a warning and does not fail the install.
func fixMachORelocation(l *layout.Layout, name, version, binaryPath string) error {
	installNameTool, err := exec.LookPath("install_name_tool")
	if err != nil {
		return nil
	}
	otool, err := exec.LookPath("otool")
	if err != nil {
		return nil
	}

	info, err := os.Stat(binaryPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", binaryPath, err)
	}
	mode := info.Mode()
	if mode&0200 == 0 {
		if err := os.Chmod(binaryPath, mode|0200); err != nil {
			return fmt.Errorf("making %s writable: %w", binaryPath, err)
		}
		defer os.Chmod(binaryPath, mode)
	}

	removePlaceholderRpaths(otool, installNameTool, binaryPath)
	_ = exec.Command(installNameTool, "-add_rpath", "@loader_path/../lib", binaryPath).Run()

	if strings.HasSuffix(binaryPath, ".dylib") {
		// The dylib's own id carries its own package's Cellar path, not
		// just its filename (§4.6 point 1).
		rel, err := filepath.Rel(l.PackageDir(name, version), binaryPath)
		if err == nil {
			newID := "@rpath/Cellar/" + name + "/" + version + "/" + filepath.ToSlash(rel)
			_ = exec.Command(installNameTool, "-id", newID, binaryPath).Run()
		}
	}
	rewriteLibraryReferences(l, otool, installNameTool, binaryPath)

	if codesign, err := exec.LookPath("codesign"); err == nil {
		if out, err := exec.Command(codesign, "-f", "-s", "-", binaryPath).CombinedOutput(); err != nil {
			log.Default().Warn("ad-hoc re-signing failed", "binary", filepath.Base(binaryPath), "output", strings.TrimSpace(string(out)), "error", err)
		}
	}
	return nil
}

func removePlaceholderRpaths(otool, installNameTool, binaryPath string) {
	output, err := exec.Command(otool, "-l", binaryPath).Output()
	if err != nil {
		return
	}
	inRpath := false
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "cmd LC_RPATH":
			inRpath = true
		case inRpath && strings.HasPrefix(line, "path "):
			path := strings.TrimPrefix(line, "path ")
			if idx := strings.Index(path, " (offset"); idx != -1 {
				path = path[:idx]
			}
			if strings.Contains(path, "HOMEBREW") || strings.Contains(path, "/usr/local") {
				_ = exec.Command(installNameTool, "-delete_rpath", path, binaryPath).Run()
			}
			inRpath = false
		}
	}
}

func rewriteLibraryReferences(l *layout.Layout, otool, installNameTool, binaryPath string) {
	output, err := exec.Command(otool, "-L", binaryPath).Output()
	if err != nil {
		return
	}
	lines := strings.Split(string(output), "\n")
	for _, line := range lines[1:] {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 1 {
			continue
		}
		libPath := fields[0]
		if !strings.Contains(libPath, "HOMEBREW") && !strings.Contains(libPath, "@@") && !strings.Contains(libPath, "/usr/local") {
			continue
		}
		newRef, ok := resolveCellarRpath(l, libPath)
		if !ok {
			newRef = "@rpath/" + filepath.Base(libPath)
		}
		_ = exec.Command(installNameTool, "-change", libPath, newRef, binaryPath).Run()
	}
}

// resolveCellarRpath maps a dependency's still-placeholder-prefixed install
// name into an "@rpath/Cellar/<name>/<version>/<rest>" reference (§4.6
// point 1), preserving the path segments between the opt/Cellar path and
// the library file rather than collapsing to the bare filename. A
// "…/opt/<name>/<rest>" form resolves <name>'s currently installed version
// through its opt/ symlink; a "…/Cellar/<name>/<version>/<rest>" form
// already carries its own version and is passed through unchanged.
func resolveCellarRpath(l *layout.Layout, installName string) (string, bool) {
	rest, ok := stripPlaceholderPrefix(installName)
	if !ok {
		return "", false
	}
	rest = strings.TrimPrefix(rest, "/")

	if tail, ok := strings.CutPrefix(rest, "opt/"); ok {
		depName, subpath, found := strings.Cut(tail, "/")
		if !found {
			return "", false
		}
		version, err := resolveOptVersion(l, depName)
		if err != nil {
			return "", false
		}
		return "@rpath/Cellar/" + depName + "/" + version + "/" + subpath, true
	}
	if tail, ok := strings.CutPrefix(rest, "Cellar/"); ok {
		return "@rpath/Cellar/" + tail, true
	}
	return "", false
}

// stripPlaceholderPrefix strips a known bottle placeholder or legacy
// Homebrew prefix off installName, returning the path relative to the
// prefix root (e.g. "/opt/foo/lib/libfoo.dylib" or "Cellar/foo/1.0/lib/…").
func stripPlaceholderPrefix(installName string) (string, bool) {
	switch {
	case strings.HasPrefix(installName, "@@HOMEBREW_PREFIX@@"):
		return strings.TrimPrefix(installName, "@@HOMEBREW_PREFIX@@"), true
	case strings.HasPrefix(installName, "@@HOMEBREW_CELLAR@@"):
		return "Cellar/" + strings.TrimPrefix(installName, "@@HOMEBREW_CELLAR@@/"), true
	case strings.HasPrefix(installName, "/opt/homebrew"):
		return strings.TrimPrefix(installName, "/opt/homebrew"), true
	case strings.HasPrefix(installName, "/usr/local/Cellar/"):
		return "Cellar/" + strings.TrimPrefix(installName, "/usr/local/Cellar/"), true
	case strings.HasPrefix(installName, "/usr/local"):
		return strings.TrimPrefix(installName, "/usr/local"), true
	}
	return "", false
}

func resolveOptVersion(l *layout.Layout, name string) (string, error) {
	target, err := os.Readlink(l.OptPath(name))
	if err != nil {
		return "", err
	}
	return filepath.Base(target), nil
}
