// Package runner executes a shell command attached to a pseudo-terminal
// and streams its output line by line. The engine behaves like most
// CLIs: when stdout is a pipe it block-buffers and output arrives in
// bursts long after the fact, but when stdout is a terminal it
// line-buffers, so a PTY is what makes live log streaming possible.
package runner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/creack/pty"
)

// Command describes one shell invocation.
type Command struct {
	Line string   // passed to /bin/sh -c
	Dir  string   // working directory, empty inherits drover's
	Env  []string // extra KEY=value entries appended to the inherited environment
}

// ErrStart distinguishes a child that never started from one that
// failed while running.
var ErrStart = errors.New("start command")

// Run starts the command on a PTY, delivers each output line to onLine
// (synchronously, in order, trailing carriage returns stripped), then
// reaps the child and returns its real exit code. A child that cannot
// be started at all is an error; a child that starts and exits non-zero
// is not. Run blocks until the child finishes: no timeout, no watchdog.
func Run(cmd Command, onLine func(string)) (int, error) {
	execCmd := exec.Command("/bin/sh", "-c", cmd.Line)
	execCmd.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		execCmd.Env = append(os.Environ(), cmd.Env...)
	}

	f, err := pty.Start(execCmd)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %w", ErrStart, cmd.Line, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Engine diff output can produce very long lines.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		onLine(strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil && !isExpectedClose(err) {
		execCmd.Process.Kill()
		execCmd.Wait()
		return 0, fmt.Errorf("read output: %w", err)
	}

	if err := execCmd.Wait(); err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return ee.ExitCode(), nil
		}
		return 0, fmt.Errorf("wait for %q: %w", cmd.Line, err)
	}
	return 0, nil
}

// isExpectedClose reports the normal end-of-stream conditions for a PTY
// master: Linux returns EIO once the child side is closed.
func isExpectedClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO)
}
