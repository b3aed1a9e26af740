// Package pid keeps a single process per unit.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/h2station/internal/errors"
)

// Path is the PID file of unit inside dir.
func Path(dir, unit string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "h2station-"+unit+".pid")
}

// Write writes the current process ID to the unit's PID file. It fails
// with ErrAlreadyRunning while another live process holds the file.
func Write(dir, unit string) error {
	errFactory := errors.New()
	pid := os.Getpid()
	path := Path(dir, unit)

	if _, err := os.Stat(path); err == nil {
		// PID file exists, check if the process is running
		bytes, err := os.ReadFile(path)
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		// A garbled file is stale
		if other, err := strconv.Atoi(strings.TrimSpace(string(bytes))); err == nil && other != pid && alive(other) {
			return errFactory.WithData(errors.ErrAlreadyRunning, struct {
				Unit string
				PID  int
			}{unit, other})
		}
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

// Remove removes the unit's PID file.
func Remove(dir, unit string) error {
	errFactory := errors.New()
	path := Path(dir, unit)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
