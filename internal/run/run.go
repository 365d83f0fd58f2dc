// Package run drives a full drover invocation: argument parsing, lock
// acquisition, the log lifecycle and the ordered execution of the
// requested commands.
package run

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hostwright/drover/internal/apply"
	"github.com/hostwright/drover/internal/config"
	"github.com/hostwright/drover/internal/hostname"
	"github.com/hostwright/drover/internal/lock"
	"github.com/hostwright/drover/internal/runlog"
)

// Commands drover can run. A single invocation may name several, and
// they execute strictly in the order given.
const (
	CommandApply       = "apply"
	CommandSetHostname = "set_hostname"
)

// Request is one parsed drover invocation.
type Request struct {
	Commands  []string
	Verbosity int
	Force     bool
	Tags      string
	Info      map[string]string
	Downgrade bool
}

// ParseArgs turns a raw argument vector into a Request. Positional
// words are commands, kept in order with duplicates allowed. A
// malformed --info value is not an error: it degrades to the
// INVALID_FORMAT metadata sentinel so the run itself still happens.
func ParseArgs(args []string) (Request, error) {
	var req Request
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--verbosity":
			if i+1 >= len(args) {
				return Request{}, errors.New("--verbosity requires a value")
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 0 || n > 5 {
				return Request{}, fmt.Errorf("invalid --verbosity value: %s (want 0-5)", args[i])
			}
			req.Verbosity = n
		case "--force":
			req.Force = true
		case "--tags":
			if i+1 >= len(args) {
				return Request{}, errors.New("--tags requires a value")
			}
			i++
			req.Tags = args[i]
		case "--info":
			if i+1 >= len(args) {
				return Request{}, errors.New("--info requires a value")
			}
			i++
			req.Info = runlog.ParseInfo(args[i])
		case "--downgrade":
			req.Downgrade = true
		case CommandApply, CommandSetHostname:
			req.Commands = append(req.Commands, args[i])
		default:
			if strings.HasPrefix(args[i], "-") {
				return Request{}, fmt.Errorf("unknown flag: %s", args[i])
			}
			return Request{}, fmt.Errorf("unknown command: %s", args[i])
		}
	}
	if len(req.Commands) == 0 {
		return Request{}, fmt.Errorf("no command given (want %s and/or %s)", CommandApply, CommandSetHostname)
	}
	return req, nil
}

// Execute carries a Request through the whole run: acquire the lock,
// open the logs, arm the signal hook, run each command in sequence,
// then release and close. The first command to fail stops the run;
// later commands do not execute. A version-guard refusal also stops
// the run, but cleanly: Execute returns nil and the process exits 0.
// The lock is released before the logs close on every path except
// signal delivery, where the handler's own release is the only
// guaranteed cleanup.
func Execute(req Request) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}

	m := lock.NewManager(settings.LockFile)
	if req.Force {
		if err := m.ForceClear(); err != nil {
			return fmt.Errorf("clear stale lock: %w", err)
		}
	}
	if err := m.Acquire(); err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return fmt.Errorf("%w (another run may be active; re-run with --force if it is stale)", err)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	logger, err := runlog.Open(settings.DetailedLog, settings.SummaryLog)
	if err != nil {
		m.Release()
		return fmt.Errorf("open logs: %w", err)
	}
	defer logger.Close()
	defer m.Release()

	m.ReleaseOnSignal(func(sig os.Signal) {
		logger.Log(fmt.Sprintf("caught %s, releasing lock and exiting", sig))
	})

	host, err := config.LoadHost(settings.HostFile)
	if err != nil {
		logger.Log(fmt.Sprintf("cannot load host config: %v", err))
		return fmt.Errorf("load host config: %w", err)
	}

	for _, name := range req.Commands {
		var err error
		switch name {
		case CommandApply:
			err = apply.Run(apply.Options{
				Settings:  settings,
				Host:      host,
				Logger:    logger,
				Verbosity: req.Verbosity,
				Tags:      req.Tags,
				Info:      req.Info,
				Downgrade: req.Downgrade,
			})
		case CommandSetHostname:
			err = hostname.Sync(hostname.Options{
				Host:   host,
				Logger: logger,
				File:   settings.HostnameFile,
			})
		}
		if errors.Is(err, apply.ErrDowngradeBlocked) {
			// The refusal is already in the summary log; nothing
			// after it executes and the run counts as a success.
			return nil
		}
		if err != nil {
			logger.Log(fmt.Sprintf("%s failed: %v", name, err))
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
