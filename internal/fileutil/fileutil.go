// Package fileutil holds file naming and copy helpers.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// UniqueName returns name if no entry by that name exists in dir, else the
// first free "stem_N.ext" for N = 1, 2, ... Names listed in reserved are
// treated as taken. It only checks existence; the caller creates the file.
func UniqueName(dir, name string, reserved ...string) (string, error) {
	free, err := isFreeName(dir, name, reserved)
	if err != nil || free {
		return name, err
	}
	stem, ext := SplitExt(name)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		free, err := isFreeName(dir, candidate, reserved)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
}

// SplitExt splits name into stem and extension. A leading dot does not
// start an extension, so ".hidden" is all stem.
func SplitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if strings.Trim(stem, ".") == "" {
		return name, ""
	}
	return stem, ext
}

// ReplaceExt swaps the extension of name for ext.
func ReplaceExt(name, ext string) string {
	stem, _ := SplitExt(name)
	return stem + ext
}

func isFreeName(dir, name string, reserved []string) (bool, error) {
	for _, r := range reserved {
		if strings.EqualFold(r, name) {
			return false, nil
		}
	}
	return isFree(filepath.Join(dir, name))
}

func isFree(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	return false, err
}

// Exists reports whether path is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteAtomic streams write's output into a temp file beside dst and
// renames it into place. On any error the temp file is removed and dst is
// left untouched.
func WriteAtomic(dst string, mode os.FileMode, write func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// CopyFile copies src to dst byte for byte through WriteAtomic and carries
// over the source modification time.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	err = WriteAtomic(dst, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
	if err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
