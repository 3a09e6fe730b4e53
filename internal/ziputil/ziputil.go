// Package ziputil wraps zip creation and extraction for the pipeline.
// Extraction is the security boundary between uploaded archives and the
// storer's filesystem: entries must not escape the destination directory.
package ziputil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// UnsafeEntryError reports an archive entry that would escape the
// extraction directory via an absolute path or a ".." segment.
type UnsafeEntryError struct {
	Entry string
}

func (e *UnsafeEntryError) Error() string {
	return fmt.Sprintf("archive entry has unsafe path: %s", e.Entry)
}

func entrySafe(name string) bool {
	if name == "" {
		return false
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return false
	}
	// Windows-style absolute paths and drive letters in archives built
	// elsewhere.
	if strings.Contains(name, ":") || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// ExtractSafely expands srcZip into destDir. Every entry is validated
// before anything is written, so a rejected archive leaves no partial
// expansion behind.
func ExtractSafely(srcZip, destDir string) error {
	r, err := zip.OpenReader(srcZip)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", srcZip, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if !entrySafe(f.Name) {
			return &UnsafeEntryError{Entry: f.Name}
		}
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create extraction dir %s: %w", destDir, err)
	}

	for _, f := range r.File {
		if err := extractEntry(f, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(f.Name))

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create dir %s: %w", target, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", target, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0644)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return nil
}

// ManifestEntry maps a name inside the archive to a file on disk.
type ManifestEntry struct {
	Name string
	Src  string
}

// CreateFromManifest writes a zip containing exactly the manifest entries,
// in order, to w.
func CreateFromManifest(w io.Writer, entries []ManifestEntry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := addEntry(zw, e); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func addEntry(zw *zip.Writer, e ManifestEntry) error {
	in, err := os.Open(e.Src)
	if err != nil {
		return fmt.Errorf("failed to open %s for bundling: %w", e.Src, err)
	}
	defer in.Close()

	f, err := zw.Create(e.Name)
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", e.Name, err)
	}
	if _, err := io.Copy(f, in); err != nil {
		return fmt.Errorf("failed to write %s into archive: %w", e.Name, err)
	}
	return nil
}
