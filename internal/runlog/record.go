package runlog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"
)

// Summary marker prefixes. A run writes exactly one start line and one
// finish (or abort) line around each engine invocation.
const (
	markerStart  = "STARTING APPLY"
	markerFinish = "APPLY COMPLETE"
	markerAbort  = "APPLY ABORTED"
)

// KeyPlatform is the metadata key carrying the declared platform
// version, the one key drover itself interprets.
const KeyPlatform = "platform"

// InvalidFormat is the sentinel value recorded when a run's --info
// string could not be parsed. Malformed metadata is never fatal.
const InvalidFormat = "INVALID_FORMAT"

// Event classifies a summary log line.
type Event int

const (
	EventOther Event = iota
	EventStart
	EventFinish
	EventAbort
)

// String names the event for human output.
func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventFinish:
		return "finish"
	case EventAbort:
		return "abort"
	default:
		return "other"
	}
}

// Record is one parsed log line.
type Record struct {
	// Timestamp is the raw "<Mon> <day> <HH:MM:SS>" prefix. The layout
	// carries no year, so it stays text.
	Timestamp   string
	Hostname    string
	Event       Event
	Message     string
	Description string            // finish/abort parenthetical, e.g. "changes made"
	Info        map[string]string // marker metadata, nil for other lines
}

// StartMarker renders the summary line opening a run.
func StartMarker(info map[string]string) string {
	return markerStart + " " + FormatInfo(info)
}

// FinishMarker renders the summary line closing a completed run.
func FinishMarker(description string, info map[string]string) string {
	return fmt.Sprintf("%s (%s) %s", markerFinish, description, FormatInfo(info))
}

// AbortMarker renders the summary line closing a run whose engine never
// started.
func AbortMarker(reason string, info map[string]string) string {
	return fmt.Sprintf("%s (%s) %s", markerAbort, reason, FormatInfo(info))
}

// FormatInfo renders metadata as "{k: v, k: v}" with keys sorted, so
// identical metadata always produces identical summary lines.
func FormatInfo(info map[string]string) string {
	if len(info) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+": "+info[k])
	}
	return "{" + strings.Join(pairs, ", ") + "}"
}

// ParseInfo parses a user-supplied "k: v, k: v" metadata string. Any
// malformed pair degrades the whole value to the INVALID_FORMAT
// sentinel; the run proceeds and the summary log records what happened
// to the metadata.
func ParseInfo(s string) map[string]string {
	info, ok := splitPairs(s)
	if !ok {
		return map[string]string{KeyPlatform: InvalidFormat}
	}
	return info
}

// splitPairs parses a comma-separated "k: v" list. Every piece must
// contain a colon and a non-empty key.
func splitPairs(s string) (map[string]string, bool) {
	info := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, false
		}
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, false
		}
		info[k] = strings.TrimSpace(v)
	}
	return info, true
}

// ParseRecord parses one log line back into a Record. Lines that do not
// match the log line format report ok=false.
func ParseRecord(line string) (Record, bool) {
	line = strings.TrimRight(line, "\r\n")

	fields := strings.SplitN(line, " ", 4)
	if len(fields) != 4 {
		return Record{}, false
	}
	timestamp := strings.Join(fields[:3], " ")
	if _, err := time.Parse(TimeLayout, timestamp); err != nil {
		return Record{}, false
	}

	hostname, message, ok := strings.Cut(fields[3], ": ")
	if !ok || hostname == "" {
		return Record{}, false
	}

	rec := Record{
		Timestamp: timestamp,
		Hostname:  hostname,
		Event:     EventOther,
		Message:   message,
	}

	switch {
	case strings.HasPrefix(message, markerStart):
		rec.Event = EventStart
		rec.Info = parseBraces(message)
	case strings.HasPrefix(message, markerFinish):
		rec.Event = EventFinish
		rec.Description = parseParens(message)
		rec.Info = parseBraces(message)
	case strings.HasPrefix(message, markerAbort):
		rec.Event = EventAbort
		rec.Description = parseParens(message)
		rec.Info = parseBraces(message)
	}
	return rec, true
}

// parseParens extracts the first parenthesized description.
func parseParens(message string) string {
	open := strings.Index(message, "(")
	if open < 0 {
		return ""
	}
	end := strings.Index(message[open:], ")")
	if end < 0 {
		return ""
	}
	return message[open+1 : open+end]
}

// parseBraces extracts and parses the "{k: v, ...}" metadata block.
func parseBraces(message string) map[string]string {
	open := strings.Index(message, "{")
	last := strings.LastIndex(message, "}")
	if open < 0 || last < open {
		return nil
	}
	inner := strings.TrimSpace(message[open+1 : last])
	if inner == "" {
		return map[string]string{}
	}
	info, ok := splitPairs(inner)
	if !ok {
		return nil
	}
	return info
}

// LastRecordWith scans the summary log backwards for the most recent
// record whose metadata carries key. A missing log file is not an
// error: there is simply no record yet.
func LastRecordWith(path, key string) (Record, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read summary log: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		rec, ok := ParseRecord(lines[i])
		if !ok {
			continue
		}
		if _, present := rec.Info[key]; present {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}
