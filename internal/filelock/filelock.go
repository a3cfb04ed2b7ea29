// Package filelock provides advisory file locking for the state files this
// core serialises to disk (receipts, the formula cache's metadata
// sidecars). It exists because the installer runs package-by-package but
// the CLI and any concurrent invocation of this core share one prefix;
// locking the sidecar file, not the data file itself, keeps readers never
// blocked on a writer's atomic temp-then-rename swap.
package filelock

import (
	"fmt"
	"os"
	"syscall"
)

// FileLock is an advisory lock backed by a dedicated lock file (flock(2)).
// The zero value is not usable; construct with New.
type FileLock struct {
	path string
	file *os.File
}

// New returns a FileLock guarding path. The lock file is created on first
// use and never removed — only its lock state matters.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// LockExclusive blocks until an exclusive (write) lock is acquired.
func (l *FileLock) LockExclusive() error {
	return l.lock(syscall.LOCK_EX)
}

// LockShared blocks until a shared (read) lock is acquired.
func (l *FileLock) LockShared() error {
	return l.lock(syscall.LOCK_SH)
}

func (l *FileLock) lock(how int) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("filelock: opening %s: %w", l.path, err)
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return fmt.Errorf("filelock: locking %s: %w", l.path, err)
	}
	l.file = f
	return nil
}

// Unlock releases the lock and closes the underlying file handle.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("filelock: unlocking %s: %w", l.path, err)
	}
	return closeErr
}
