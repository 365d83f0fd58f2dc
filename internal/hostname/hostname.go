// Package hostname reconciles the host's persisted and live hostnames
// with the value declared in the host configuration store.
package hostname

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/hostwright/drover/internal/config"
	"github.com/hostwright/drover/internal/runlog"
)

// Options holds everything one set_hostname run needs.
type Options struct {
	Host   *config.Host
	Logger *runlog.Logger
	File   string // persisted hostname file, e.g. /etc/hostname

	// setLive and live are the kernel hostname accessors, replaceable
	// in tests.
	setLive func(string) error
	live    func() (string, error)
}

// Sync brings the persisted hostname file and the live kernel hostname
// to the declared value. The two updates are independent: a failure in
// one does not stop the other and nothing is rolled back, so a partial
// update stays in place for the next run to finish. Only values that
// differ are touched.
func Sync(opts Options) error {
	if opts.setLive == nil {
		opts.setLive = func(name string) error { return unix.Sethostname([]byte(name)) }
	}
	if opts.live == nil {
		opts.live = os.Hostname
	}

	declared, err := opts.Host.Require(config.KeyHostname)
	if err != nil {
		return err
	}

	return errors.Join(
		syncFile(opts, declared),
		syncLive(opts, declared),
	)
}

func syncFile(opts Options, declared string) error {
	current, err := os.ReadFile(opts.File)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		opts.Logger.Log(fmt.Sprintf("cannot read hostname file %s: %v", opts.File, err))
		return fmt.Errorf("read hostname file: %w", err)
	}
	if strings.TrimSpace(string(current)) == declared {
		opts.Logger.Log(fmt.Sprintf("hostname file %s already declares %s", opts.File, declared))
		return nil
	}

	if err := writeFileAtomic(opts.File, declared+"\n"); err != nil {
		opts.Logger.Log(fmt.Sprintf("failed to update hostname file %s: %v", opts.File, err))
		return fmt.Errorf("update hostname file: %w", err)
	}
	opts.Logger.Log(fmt.Sprintf("updated hostname file %s to %s", opts.File, declared))
	return nil
}

func syncLive(opts Options, declared string) error {
	live, err := opts.live()
	if err != nil {
		opts.Logger.Log(fmt.Sprintf("cannot read live hostname: %v", err))
		return fmt.Errorf("read live hostname: %w", err)
	}
	if live == declared {
		opts.Logger.Log(fmt.Sprintf("live hostname already %s", declared))
		return nil
	}

	if err := opts.setLive(declared); err != nil {
		opts.Logger.Log(fmt.Sprintf("failed to set live hostname to %s: %v", declared, err))
		return fmt.Errorf("set live hostname: %w", err)
	}
	opts.Logger.Log(fmt.Sprintf("live hostname changed from %s to %s", live, declared))
	return nil
}

// writeFileAtomic writes content through a temp file in the same
// directory and renames it into place, so the hostname file is never
// observed half-written.
func writeFileAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".hostname-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.WriteString(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
