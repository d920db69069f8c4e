// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

package pipeline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// writeAtomic lets fill write a temporary file next to path and renames it
// over path once it is complete and synced.
func writeAtomic(path string, fill func(io.Writer) (int64, error)) (n int64, err error) {
	f, err := os.CreateTemp(filepath.Dir(path), ".sesame-*")
	if err != nil {
		return 0, err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if n, err = fill(f); err != nil {
		return n, err
	}
	if err = f.Sync(); err != nil {
		return n, err
	}
	if err = f.Close(); err != nil {
		return n, err
	}
	return n, os.Rename(tmp, path)
}

// replace moves src to dst. Files replace files in a single rename. When
// either side is a directory the old dst is first moved into trash, which
// must be on the same file system, and restored if the second rename fails.
func replace(src, dst, trash string) error {
	old, err := os.Lstat(dst)
	if errors.Is(err, fs.ErrNotExist) {
		return os.Rename(src, dst)
	}
	if err != nil {
		return err
	}
	fresh, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !old.IsDir() && !fresh.IsDir() {
		return os.Rename(src, dst)
	}

	aside := filepath.Join(trash, filepath.Base(dst))
	if err := os.Rename(dst, aside); err != nil {
		return fmt.Errorf("moving %s aside: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		if rerr := os.Rename(aside, dst); rerr != nil {
			return fmt.Errorf("%w (previous content left at %s: %v)", err, aside, rerr)
		}
		return err
	}
	return nil
}
