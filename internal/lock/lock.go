// Package lock serializes runs on a host through a lock file. The file's
// existence is the whole contract: operators inspect it, stale locks are
// cleared by removing it, and acquisition is an atomic create-exclusive.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ErrHeld reports that another run owns the lock file.
var ErrHeld = errors.New("lock already held")

// Manager owns one lock file path.
type Manager struct {
	path string
	mu   sync.Mutex
	exit func(int)
}

func NewManager(path string) *Manager {
	return &Manager{path: path, exit: os.Exit}
}

// Acquire creates the lock file exclusively and writes the owning PID
// into it. A file that already exists means another run is in flight:
// ErrHeld, no waiting, no retry.
func (m *Manager) Acquire() error {
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrHeld, m.path)
		}
		return fmt.Errorf("create lock file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		os.Remove(m.path)
		return fmt.Errorf("write pid to lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(m.path)
		return fmt.Errorf("close lock file: %w", err)
	}
	return nil
}

// Release removes the lock file. Releasing an already-released (or
// never-acquired) lock is a no-op.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLockFile()
}

// ForceClear removes a stale lock file left behind by a dead run so the
// caller can acquire afresh.
func (m *Manager) ForceClear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLockFile()
}

func (m *Manager) removeLockFile() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// ReleaseOnSignal arms a handler for SIGINT, SIGTERM and SIGHUP that
// releases the lock and exits non-zero, so an interrupted run never
// leaves the host permanently locked. onSignal, if non-nil, runs first
// (callers use it to log the interruption). The in-flight child process
// is not killed here; it shares the terminal session and receives the
// same signal from the OS.
func (m *Manager) ReleaseOnSignal(onSignal func(os.Signal)) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		signal.Stop(sigCh)
		if onSignal != nil {
			onSignal(sig)
		}
		_ = m.Release()
		m.exit(1)
	}()
}
