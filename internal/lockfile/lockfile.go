// Package lockfile keeps two SupportPipe processes from sharing a state
// directory. Both would log in with the same WhatsApp device and race on
// the same SQLite files.
//
// The lock is an flock on a file in the state directory, so the kernel
// drops it when the process dies.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "supportpipe.lock"

// ErrLocked is matched by errors.Is on a LockError.
var ErrLocked = errors.New("state directory is locked by another SupportPipe process")

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// LockError reports the process holding the lock when it can be read.
type LockError struct {
	LockPath string
	PID      int
	Running  bool
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another SupportPipe instance holds %s", e.LockPath)
	switch {
	case e.PID > 0 && e.Running:
		fmt.Fprintf(&b, " (pid %d, running)", e.PID)
	case e.PID > 0:
		fmt.Fprintf(&b, " (pid %d, not running; remove the file if no instance is up)", e.PID)
	}
	return b.String()
}

func (e *LockError) Is(target error) bool { return target == ErrLocked }

func (e *LockError) Unwrap() error { return e.Cause }

// Acquire takes the lock of stateDir, creating the directory if needed.
func Acquire(stateDir string) (*Lock, error) {
	path := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		pid := holderPID(f)
		f.Close()
		lockErr := &LockError{LockPath: path, PID: pid, Running: pid > 0 && processRunning(pid), Cause: err}
		slog.Error("lockfile.Acquire: state directory in use", "lock_path", path, "pid", pid, "running", lockErr.Running)
		return nil, lockErr
	}

	if err := writePID(f); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}
	slog.Info("lockfile.Acquire: state directory locked", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes the file. It is safe to call twice.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	l.file = nil
	slog.Info("lockfile.Release: state directory unlocked", "lock_path", l.path)
	return errors.Join(errs...)
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0); err != nil {
		return err
	}
	return f.Sync()
}

// holderPID reads the pid line of a lock file, or 0.
func holderPID(f *os.File) int {
	if _, err := f.Seek(0, 0); err != nil {
		return 0
	}
	return parsePID(bufio.NewScanner(f))
}

func parsePID(sc *bufio.Scanner) int {
	for sc.Scan() {
		if v, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "pid="); ok {
			if pid, err := strconv.Atoi(v); err == nil && pid > 0 {
				return pid
			}
		}
	}
	return 0
}

// processRunning sends signal 0 to pid.
func processRunning(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
