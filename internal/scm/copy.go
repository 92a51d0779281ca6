package scm

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFile duplicates src into dstDir under its base name and returns the
// written path.
func CopyFile(src, dstDir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("scm: open %s: %w", src, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("scm: stat %s: %w", src, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("scm: %s is a directory", src)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("scm: create %s: %w", dstDir, err)
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return "", fmt.Errorf("scm: create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("scm: copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("scm: close %s: %w", dst, err)
	}
	return dst, nil
}
