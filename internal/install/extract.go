package install

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	lzip "github.com/sorairolake/lzip-go"
	"github.com/ulikunitz/xz"
)

// bottleStripComponents is the number of leading path components every
// bottle archive entry carries and that extraction discards (§5: bottles
// are packed as "<formula>/<version>/...").
const bottleStripComponents = 2

// extractBottle unpacks a bottle archive into destDir, stripping the
// leading "<formula>/<version>/" path components every entry carries.
// Format is sniffed from the archive's magic bytes rather than its
// filename, since bottle URLs rarely carry a conventional extension.
func extractBottle(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening bottle archive: %w", err)
	}
	defer f.Close()

	reader, err := decompressReader(f)
	if err != nil {
		return fmt.Errorf("detecting bottle compression: %w", err)
	}

	return extractTar(tar.NewReader(reader), destDir)
}

// decompressReader sniffs the first bytes of f and returns a reader that
// decompresses gzip, zstd, xz, or lzip streams; an uncompressed tar stream
// is passed through unchanged. lzip is not a format the core bottle
// pipeline expects from homebrew/core, but some third-party taps mirror
// their bottles lzip-compressed, and sniffing it costs nothing extra.
func decompressReader(f *os.File) (io.Reader, error) {
	magic := make([]byte, 6)
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	magic = magic[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		return gzip.NewReader(f)
	case len(magic) >= 4 && magic[0] == 0x28 && magic[1] == 0xb5 && magic[2] == 0x2f && magic[3] == 0xfd:
		return zstd.NewReader(f)
	case len(magic) >= 6 && magic[0] == 0xfd && magic[1] == '7' && magic[2] == 'z' && magic[3] == 'X' && magic[4] == 'Z':
		return xz.NewReader(f)
	case len(magic) >= 4 && magic[0] == 'L' && magic[1] == 'Z' && magic[2] == 'I' && magic[3] == 'P':
		return lzip.NewReader(f)
	default:
		return f, nil
	}
}

// extractTar walks tr, stripping bottleStripComponents leading path
// components from every entry, and rejects entries that would escape
// destDir (path traversal or absolute symlink targets).
func extractTar(tr *tar.Reader, destDir string) error {
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar header: %w", err)
		}

		relPath, ok := stripComponents(header.Name, bottleStripComponents)
		if !ok {
			continue
		}
		target := filepath.Join(destDir, relPath)
		if !isWithinDir(target, destDir) {
			return fmt.Errorf("bottle entry escapes destination: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating directory %s: %w", relPath, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", relPath, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("creating %s: %w", relPath, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("writing %s: %w", relPath, err)
			}
			out.Close()
		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) {
				return fmt.Errorf("bottle entry has absolute symlink target: %s -> %s", relPath, header.Linkname)
			}
			resolved := filepath.Join(filepath.Dir(target), header.Linkname)
			if !isWithinDir(resolved, destDir) {
				return fmt.Errorf("bottle symlink escapes destination: %s -> %s", relPath, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", relPath, err)
			}
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", relPath, err)
			}
		}
	}
}

// stripComponents removes the first n slash-separated components of name,
// reporting ok=false if name has n or fewer components (nothing left).
func stripComponents(name string, n int) (string, bool) {
	clean := strings.TrimPrefix(name, "./")
	parts := strings.Split(clean, "/")
	if len(parts) <= n {
		return "", false
	}
	return filepath.Join(parts[n:]...), true
}

// isWithinDir reports whether target is base or a descendant of base.
func isWithinDir(target, base string) bool {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}
