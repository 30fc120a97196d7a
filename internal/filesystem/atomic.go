// Package filesystem holds file helpers shared by the key file and export
// writers. All IO goes through afero so callers can test against memory.
package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// WriteFileAtomic writes data to target so that readers see either the old
// content or the new content, never a partial file.
//
// Steps:
//  1. Write data to <target>.tmp and sync it
//  2. If <target> exists, rename it to <target>.bak
//  3. Rename <target>.tmp to <target>
//  4. Remove <target>.bak
//
// If a rename fails (e.g., cross-mount point), it falls back to copy+delete.
func WriteFileAtomic(fs afero.Fs, target string, data []byte, perm os.FileMode) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmpPath := target + ".tmp"
	bakPath := target + ".bak"

	if err := writeSynced(fs, tmpPath, data, perm); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}

	if _, err := fs.Stat(target); err == nil {
		if err := renameSafe(fs, target, bakPath); err != nil {
			_ = fs.Remove(tmpPath)
			return fmt.Errorf("backing up existing file: %w", err)
		}
	}

	if err := renameSafe(fs, tmpPath, target); err != nil {
		if _, bakErr := fs.Stat(bakPath); bakErr == nil {
			_ = renameSafe(fs, bakPath, target)
		}
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("renaming temp to target: %w", err)
	}

	_ = fs.Remove(bakPath)
	return nil
}

func writeSynced(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

// renameSafe attempts a rename first, then falls back to copy+delete.
func renameSafe(fs afero.Fs, oldPath, newPath string) error {
	err := fs.Rename(oldPath, newPath)
	if err == nil {
		return nil
	}
	if copyErr := copyFile(fs, oldPath, newPath); copyErr != nil {
		return fmt.Errorf("copy fallback: %w (rename error: %w)", copyErr, err)
	}
	_ = fs.Remove(oldPath)
	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}
