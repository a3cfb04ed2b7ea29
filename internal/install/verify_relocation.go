package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dimaosipa/velo/internal/verify"
)

// verifyNoPlaceholderRpaths walks packageDir after relocate has run and
// confirms no Mach-O binary's RPATH entries or dependency references still
// contain a placeholder (§8: "no Mach-O file under its Cellar directory
// contains those placeholder tokens in its dependency dump"), and that
// every @rpath-relative dependency actually expands to a path under the
// prefix. A file verify.ValidateHeader can't parse (not a Mach-O, or
// stripped of load commands) is skipped rather than treated as a failure —
// this is a post-relocation sanity check, not a second relocation pass.
func verifyNoPlaceholderRpaths(packageDir, prefixPath string) error {
	return filepath.Walk(packageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		header, err := verify.ValidateHeader(path)
		if err != nil {
			return nil // not a recognised binary format; nothing to check
		}

		rpaths, err := verify.ExtractRpaths(path)
		if err != nil {
			return nil
		}
		for _, rp := range rpaths {
			if tok, ok := containsPlaceholderToken(rp); ok {
				return fmt.Errorf("%s: rpath %q still references placeholder %q after relocation", path, rp, tok)
			}
		}

		for _, dep := range header.Dependencies {
			if tok, ok := containsPlaceholderToken(dep); ok {
				return fmt.Errorf("%s: dependency %q still references placeholder %q after relocation", path, dep, tok)
			}
			if !strings.HasPrefix(dep, "@rpath/") {
				continue
			}
			if _, err := verify.ExpandPathVariables(dep, path, rpaths, prefixPath); err != nil {
				return fmt.Errorf("%s: dependency %q does not resolve under %s after relocation: %w", path, dep, prefixPath, err)
			}
		}
		return nil
	})
}

func containsPlaceholderToken(s string) (string, bool) {
	for _, tok := range placeholderTokens {
		if strings.Contains(s, string(tok)) {
			return string(tok), true
		}
	}
	return "", false
}
