// Package securefile writes secret material (identity keys, pin databases)
// with owner-only permissions.
package securefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ErrTooOpen is returned when a secret file is readable by group or others.
var ErrTooOpen = errors.New("securefile: permissions too open")

// MkdirAllOwnerOnly creates dir (and parents) and tightens it to 0700 on unix.
func MkdirAllOwnerOnly(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	// MkdirAll leaves existing directories untouched.
	return os.Chmod(dir, 0o700)
}

// CheckOwnerOnly returns ErrTooOpen if path grants any group or other bits.
// Always nil on Windows.
func CheckOwnerOnly(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := st.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrTooOpen, path, perm)
	}
	return nil
}

// WriteFileAtomic writes data next to filename and renames it into place,
// so readers never observe a partial file and perm applies on overwrite too.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".tmp.*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		_ = f.Close()
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if runtime.GOOS != "windows" {
		if err = f.Chmod(perm); err != nil {
			return err
		}
	}
	if _, err = f.Write(data); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		// Rename does not replace an existing file there.
		_ = os.Remove(filename)
	}
	return os.Rename(tmp, filename)
}
