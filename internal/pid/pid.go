package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/gec/sensord/internal/errors"
)

const (
	pidFile = "sensord.pid"
)

// File is a single-instance lock backed by a file holding the owner's PID.
type File struct {
	path string
}

// New returns the PID file at path.
func New(path string) *File {
	return &File{path: path}
}

// Default returns the PID file in the system temp directory.
func Default() *File {
	return New(filepath.Join(os.TempDir(), pidFile))
}

// Path returns the location of the PID file.
func (f *File) Path() string {
	return f.path
}

// Write writes the current process ID to the PID file. It fails with
// ErrAlreadyRunning while the recorded process is alive; a stale or
// unreadable file is replaced.
func (f *File) Write() error {
	errFactory := errors.New()

	if running, err := f.running(); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	} else if running {
		return errFactory.New(errors.ErrAlreadyRunning)
	}

	err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func (f *File) running() (bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}

	return process.Signal(syscall.Signal(0)) == nil, nil
}

// Remove removes the PID file.
func (f *File) Remove() error {
	errFactory := errors.New()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
