package cmdutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// UsageError marks a configuration or flag mistake; commands exit with 2.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// ExitCode maps a command error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case IsUsage(err):
		return 2
	default:
		return 1
	}
}

// RefuseOverwrite fails when path exists and overwrite is false.
func RefuseOverwrite(path string, overwrite bool) error {
	if path == "" || overwrite {
		return nil
	}
	_, err := os.Stat(path)
	if err == nil {
		return &UsageError{Msg: fmt.Sprintf("refusing to overwrite existing file: %s (use --overwrite)", path)}
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
