// Package status implements the drover last subcommand: report the most
// recent apply recorded in the summary log.
package status

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hostwright/drover/internal/runlog"
)

// LastApply is the reportable view of the newest summary record that
// carries platform metadata.
type LastApply struct {
	Timestamp string            `json:"timestamp"`
	Hostname  string            `json:"hostname"`
	Event     string            `json:"event"`
	Result    string            `json:"result,omitempty"`
	Platform  string            `json:"platform"`
	Info      map[string]string `json:"info,omitempty"`
}

// Run prints the last recorded apply, as text or JSON. No recorded
// apply is an error: the caller treats it as a failed lookup.
func Run(summaryPath string, jsonOutput bool) error {
	last, ok, err := Gather(summaryPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no apply recorded in %s", summaryPath)
	}
	out, err := Render(last, jsonOutput)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// Gather scans the summary log for the newest record with platform
// metadata, the same scan the version guard uses.
func Gather(summaryPath string) (LastApply, bool, error) {
	rec, ok, err := runlog.LastRecordWith(summaryPath, runlog.KeyPlatform)
	if err != nil {
		return LastApply{}, false, fmt.Errorf("read summary log: %w", err)
	}
	if !ok {
		return LastApply{}, false, nil
	}
	return LastApply{
		Timestamp: rec.Timestamp,
		Hostname:  rec.Hostname,
		Event:     rec.Event.String(),
		Result:    rec.Description,
		Platform:  rec.Info[runlog.KeyPlatform],
		Info:      rec.Info,
	}, true, nil
}

// Render formats one report.
func Render(last LastApply, jsonOutput bool) (string, error) {
	if jsonOutput {
		out, err := json.MarshalIndent(last, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out) + "\n", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %s\n", "event:", last.Event)
	fmt.Fprintf(&b, "%-10s %s\n", "when:", last.Timestamp)
	fmt.Fprintf(&b, "%-10s %s\n", "host:", last.Hostname)
	fmt.Fprintf(&b, "%-10s %s\n", "platform:", last.Platform)
	if last.Result != "" {
		fmt.Fprintf(&b, "%-10s %s\n", "result:", last.Result)
	}
	fmt.Fprintf(&b, "%-10s %s\n", "info:", runlog.FormatInfo(last.Info))
	return b.String(), nil
}
