// Package lockfile guards an IntakePipe state directory against concurrent use.
//
// The lock is an flock on a file inside the directory, so the kernel drops it when the
// holding process exits, cleanly or not.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the state directory.
const LockFileName = "intakepipe.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes an exclusive, non-blocking lock on stateDir, creating it if needed.
// A *LockError is returned when another process holds the lock.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	// O_TRUNC is deferred until the lock is held so a losing process keeps the owner's info intact.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner := describeOwner(path)
		slog.Error("lockfile.AcquireLock: state directory in use", "path", path, "owner", owner, "error", err)
		return nil, &LockError{Path: path, Owner: owner, Cause: err}
	}

	info := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := file.Truncate(0); err == nil {
		_, err = file.WriteAt([]byte(info), 0)
	}
	if err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.AcquireLock: sync failed", "path", path, "error", err)
	}

	slog.Info("lockfile.AcquireLock: acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the file. Calling it more than once is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the lock so no other process can lock the old inode in between.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: remove failed", "path", l.path, "error", err)
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	slog.Info("lockfile.Release: released", "path", l.path)
	return err
}

// LockError reports that another process owns the state directory.
type LockError struct {
	Path  string
	Owner string
	Cause error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another IntakePipe instance is using this state directory (lock file %s", e.Path)
	if e.Owner != "" {
		fmt.Fprintf(&b, ", owner %s", e.Owner)
	}
	b.WriteString("); stop it or point INTAKEPIPE_STATE_DIR elsewhere")
	return b.String()
}

func (e *LockError) Unwrap() error { return e.Cause }

// describeOwner summarizes the lock file contents for error messages.
func describeOwner(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	pid := ownerPID(string(data))
	if pid <= 0 {
		return strings.TrimSpace(string(data))
	}
	state := "not running"
	if processAlive(pid) {
		state = "running"
	}
	return fmt.Sprintf("pid %d (%s)", pid, state)
}

// ownerPID extracts the pid= line, or returns 0.
func ownerPID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		if pid, err := strconv.Atoi(v); err == nil {
			return pid
		}
	}
	return 0
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
