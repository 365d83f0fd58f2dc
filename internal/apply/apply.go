// Package apply composes and runs one engine invocation: version
// guard, start marker, streamed engine output, finish marker.
package apply

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hostwright/drover/internal/config"
	"github.com/hostwright/drover/internal/runlog"
	"github.com/hostwright/drover/internal/runner"
	"github.com/hostwright/drover/internal/version"
)

// ErrDowngradeBlocked reports that the version guard refused to apply
// an older platform version. The refusal ends the run; it is not a
// failure.
var ErrDowngradeBlocked = errors.New("downgrade blocked")

// Options holds everything one apply run needs.
type Options struct {
	Settings  config.Settings
	Host      *config.Host
	Logger    *runlog.Logger
	Verbosity int
	Tags      string
	Info      map[string]string
	Downgrade bool

	// run is the subprocess entry point, replaceable in tests.
	run func(runner.Command, func(string)) (int, error)
}

// Run performs one apply. The engine's own exit code is recorded in the
// summary log, never propagated: a run whose engine started and
// finished is a successful run from drover's point of view, whatever
// the engine thought of the catalog. A blocked version guard records
// the refusal and returns ErrDowngradeBlocked; the caller ends the run
// there without treating it as a failure.
func Run(opts Options) error {
	if opts.run == nil {
		opts.run = runner.Run
	}
	info := opts.Info
	if info == nil {
		info = map[string]string{}
	}

	if opts.Downgrade {
		if err := opts.Logger.Log("downgrade override enabled, skipping version check"); err != nil {
			return err
		}
	} else {
		guard := version.Guard{SummaryLog: opts.Settings.SummaryLog}
		decision := guard.Check(info[runlog.KeyPlatform])
		if !decision.Proceed {
			if err := opts.Logger.Log(decision.Reason+", refusing to apply (re-run with --downgrade to override)", runlog.TagSummary); err != nil {
				return err
			}
			return ErrDowngradeBlocked
		}
		if decision.Reason != "" {
			if err := opts.Logger.Log(decision.Reason); err != nil {
				return err
			}
		}
	}

	cmd, err := composeCommand(opts.Settings.Engine, opts.Host, opts.Verbosity, opts.Tags)
	if err != nil {
		return err
	}

	if err := opts.Logger.Log(runlog.StartMarker(info), runlog.TagSummary); err != nil {
		return err
	}
	if err := opts.Logger.Log("running: " + cmd.Line); err != nil {
		return err
	}

	code, err := opts.run(cmd, func(line string) { opts.Logger.Log(line) })
	if err != nil {
		// The abort reason tells the two cases apart: a child that
		// never started versus a run whose output stream broke.
		reason := "engine run failed"
		if errors.Is(err, runner.ErrStart) {
			reason = "engine failed to start"
		}
		opts.Logger.Log(runlog.AbortMarker(reason, info), runlog.TagSummary)
		return fmt.Errorf("run engine: %w", err)
	}

	return opts.Logger.Log(runlog.FinishMarker(Describe(code), info), runlog.TagSummary)
}

// composeCommand assembles the engine command line, working directory
// and environment from settings and the host configuration store.
func composeCommand(e config.EngineSettings, host *config.Host, verbosity int, tags string) (runner.Command, error) {
	hostname, err := host.Require(config.KeyHostname)
	if err != nil {
		return runner.Command{}, err
	}

	parts := []string{e.Binary, e.Subcommand}
	if e.ExitcodesFlag != "" {
		parts = append(parts, e.ExitcodesFlag)
	}
	if e.ExtraArgs != "" {
		parts = append(parts, e.ExtraArgs)
	}
	if e.ModulePath != "" {
		parts = append(parts, "--modulepath", e.ModulePath)
	}
	if verbosity >= 3 && e.VerboseFlag != "" {
		parts = append(parts, e.VerboseFlag)
	}
	if verbosity >= 4 && e.DebugFlag != "" {
		parts = append(parts, e.DebugFlag)
	}
	if verbosity >= 5 && e.TraceFlag != "" {
		parts = append(parts, e.TraceFlag)
	}
	if tags != "" {
		parts = append(parts, "--tags", tags)
	}
	if e.Manifest != "" {
		parts = append(parts, e.Manifest)
	}

	env, err := engineEnv(e, hostname, host)
	if err != nil {
		return runner.Command{}, err
	}

	return runner.Command{
		Line: strings.Join(parts, " "),
		Dir:  e.WorkDir,
		Env:  env,
	}, nil
}

// engineEnv builds the extra environment for the engine: entries from
// the configured env file first, then the fact variables derived from
// the host store. Facts come last so they win over any env file entry
// of the same name.
func engineEnv(e config.EngineSettings, hostname string, host *config.Host) ([]string, error) {
	var env []string
	if e.EnvFile != "" {
		fileVars, err := godotenv.Read(e.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read engine env file: %w", err)
		}
		keys := make([]string, 0, len(fileVars))
		for k := range fileVars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+fileVars[k])
		}
	}

	env = append(env, e.FactPrefix+config.KeyHostname+"="+hostname)
	for _, key := range []string{config.KeyDomainName, config.KeyDomainSuffix} {
		if v := host.Get(key); v != "" {
			env = append(env, e.FactPrefix+key+"="+v)
		}
	}
	return env, nil
}

// Describe maps an engine --detailed-exitcodes status to the phrase
// recorded in the summary log. Unknown codes are recorded verbatim.
func Describe(code int) string {
	switch code {
	case 0:
		return "no changes"
	case 1, 4:
		return "failed"
	case 2:
		return "changes made"
	case 6:
		return "changes and failures"
	default:
		return strconv.Itoa(code)
	}
}
