// Package runlog writes and re-reads drover's two product log files:
// the detailed log (every line of every run) and the summary log (one
// start and one finish line per run). Both are plain text with the line
// format
//
//	<Mon> <day> <HH:MM:SS> <hostname>: <message>
//
// which operators grep and downstream tooling parses, so the format is
// a contract, not a presentation choice.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TimeLayout is the timestamp prefix of every log line.
const TimeLayout = "Jan 2 15:04:05"

// Tag routes a log line to additional sinks.
type Tag string

// TagSummary sends the line to the summary log as well as the detailed log.
const TagSummary Tag = "summary"

// Logger appends to the detailed and summary logs and mirrors every
// line to the console.
type Logger struct {
	// Console receives a copy of every line. Defaults to stdout;
	// callers may redirect it before the first Log call.
	Console io.Writer

	mu       sync.Mutex
	hostname string
	detailed *os.File
	summary  *os.File
	now      func() time.Time
}

// Open creates missing log directories and opens both sinks for append.
func Open(detailedPath, summaryPath string) (*Logger, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("resolve hostname: %w", err)
	}

	detailed, err := openSink(detailedPath)
	if err != nil {
		return nil, err
	}
	summary, err := openSink(summaryPath)
	if err != nil {
		detailed.Close()
		return nil, err
	}

	return &Logger{
		hostname: hostname,
		detailed: detailed,
		summary:  summary,
		Console:  os.Stdout,
		now:      time.Now,
	}, nil
}

func openSink(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

// Log writes one line to the detailed log and the console. With
// TagSummary the line also lands in the summary log, which is synced
// immediately: summary lines are what later runs read back.
func (l *Logger) Log(msg string, tags ...Tag) error {
	line := fmt.Sprintf("%s %s: %s\n", l.now().Format(TimeLayout), l.hostname, strings.TrimSpace(msg))

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprint(l.Console, line)
	if _, err := l.detailed.WriteString(line); err != nil {
		return fmt.Errorf("write detailed log: %w", err)
	}
	if !hasTag(tags, TagSummary) {
		return nil
	}
	if _, err := l.summary.WriteString(line); err != nil {
		return fmt.Errorf("write summary log: %w", err)
	}
	if err := l.summary.Sync(); err != nil {
		return fmt.Errorf("sync summary log: %w", err)
	}
	return nil
}

// Close flushes and closes both sinks.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range []*os.File{l.detailed, l.summary} {
		if f == nil {
			continue
		}
		if err := f.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.detailed = nil
	l.summary = nil
	return firstErr
}

func hasTag(tags []Tag, want Tag) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
