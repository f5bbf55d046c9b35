package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data next to path and renames it into place.
func WriteFileAtomic(ctx context.Context, path string, data []byte) error {
	if path == "" {
		return errors.New("utils: required path")
	} else if err := ctx.Err(); err != nil {
		return err
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("utils: create dir: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(
		tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC,
		0o644,
	)
	if err != nil {
		return fmt.Errorf("utils: open tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("utils: write: %w", err)
	} else if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("utils: fsync: %w", err)
	} else if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("utils: close: %w", err)
	} else if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("utils: rename tmp: %w", err)
	}
	return nil
}

// MoveFile replaces dst with src. A plain rename is tried first; when src
// lives on another filesystem the content is copied into a sibling of dst
// and renamed over it, so dst is never observed half written.
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("utils: open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("utils: create sibling: %w", err)
	}
	tmpPath := tmp.Name()

	_, copyErr := io.Copy(tmp, in)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, syncErr, closeErr); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("utils: copy: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("utils: rename sibling: %w", err)
	}
	_ = in.Close()
	_ = os.Remove(src)
	return nil
}
