// Package logtail implements the drover log subcommand: print the tail
// of a run log and optionally follow lines as they are appended.
package logtail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// DefaultLines is how many trailing lines are printed when --lines is
// not given.
const DefaultLines = 10

// rescanInterval is the fallback poll for appended lines the watcher
// missed.
const rescanInterval = 2 * time.Second

// Options selects the log and how to print it.
type Options struct {
	Path   string
	Lines  int
	Follow bool
	Out    io.Writer
}

// Run prints the last Lines lines of the log. With Follow it then
// keeps printing appended lines until ctx is canceled. A missing log
// is an error unless following, in which case Run waits for the file
// to appear.
func Run(ctx context.Context, opts Options) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Lines <= 0 {
		opts.Lines = DefaultLines
	}
	opts.Path = filepath.Clean(opts.Path)

	offset, err := tailLines(opts.Path, opts.Lines, opts.Out)
	if err != nil {
		if !opts.Follow || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read log %s: %w", opts.Path, err)
		}
	}
	if !opts.Follow {
		return nil
	}
	return follow(ctx, opts.Path, offset, opts.Out)
}

// tailLines prints the last n lines and reports the file size, which
// becomes the follow offset.
func tailLines(path string, n int, out io.Writer) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	trimmed := strings.TrimSuffix(string(data), "\n")
	if trimmed != "" {
		lines := strings.Split(trimmed, "\n")
		if len(lines) > n {
			lines = lines[len(lines)-n:]
		}
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
	}
	return int64(len(data)), nil
}

// follow watches the log's directory rather than the file: the file
// may not exist yet, and rotation replaces it under the same name.
// Watcher events and a periodic rescan both feed the same drain.
func follow(ctx context.Context, path string, offset int64, out io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	f := &follower{path: path, offset: offset, out: out}
	// Catch up on lines appended between the initial tail and the
	// watch being armed.
	if err := f.drain(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if event.Name != f.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					if err := f.drain(); err != nil {
						return err
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				return fmt.Errorf("watch %s: %w", f.path, err)
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(rescanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := f.drain(); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}

// follower prints complete appended lines, holding anything after the
// last newline until the rest arrives.
type follower struct {
	path string
	out  io.Writer

	mu      sync.Mutex
	offset  int64
	partial []byte
}

func (f *follower) drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < f.offset {
		// Truncated, start over.
		f.offset = 0
		f.partial = f.partial[:0]
	}
	if info.Size() == f.offset {
		return nil
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	f.offset += int64(len(data))
	f.partial = append(f.partial, data...)
	for {
		i := bytes.IndexByte(f.partial, '\n')
		if i < 0 {
			return nil
		}
		fmt.Fprintf(f.out, "%s\n", f.partial[:i])
		f.partial = f.partial[i+1:]
	}
}
