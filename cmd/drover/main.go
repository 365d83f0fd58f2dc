package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hostwright/drover/internal/config"
	"github.com/hostwright/drover/internal/logtail"
	"github.com/hostwright/drover/internal/run"
	"github.com/hostwright/drover/internal/setup"
	"github.com/hostwright/drover/internal/status"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "log":
		runLog(os.Args[2:])
	case "last":
		runLast(os.Args[2:])
	case "setup":
		runSetup(os.Args[2:])
	case "version":
		fmt.Printf("drover %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		// Everything else is the run surface: apply / set_hostname
		// commands mixed with their flags.
		runRun(os.Args[1:])
	}
}

func runRun(args []string) {
	req, err := run.ParseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		printUsage()
		os.Exit(2)
	}
	if err := run.Execute(req); err != nil {
		fmt.Fprintf(os.Stderr, "drover: %v\n", err)
		os.Exit(1)
	}
}

func runLog(args []string) {
	var summary, follow bool
	lines := logtail.DefaultLines
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--summary":
			summary = true
		case "--follow", "-f":
			follow = true
		case "--lines":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--lines requires a value")
				os.Exit(2)
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 1 {
				fmt.Fprintf(os.Stderr, "invalid --lines value: %s\n", args[i])
				os.Exit(2)
			}
			lines = n
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: drover log [--summary] [--follow] [--lines N]\n", args[i])
			os.Exit(2)
		}
	}

	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: %v\n", err)
		os.Exit(1)
	}
	path := settings.DetailedLog
	if summary {
		path = settings.SummaryLog
	}

	opts := logtail.Options{Path: path, Lines: lines, Follow: follow}
	if err := logtail.Run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "log: %v\n", err)
		os.Exit(1)
	}
}

func runLast(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: drover last [--json]\n", a)
			os.Exit(2)
		}
	}

	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "last: %v\n", err)
		os.Exit(1)
	}
	if err := status.Run(settings.SummaryLog, jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "last: %v\n", err)
		os.Exit(1)
	}
}

func runSetup(args []string) {
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "usage: drover setup [dir]")
		os.Exit(2)
	}
	dir := filepath.Dir(config.DefaultSettingsPath)
	if len(args) == 1 {
		dir = args[0]
	}

	res, err := setup.Run(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	for _, path := range res.Written {
		fmt.Printf("wrote %s\n", path)
	}
	for _, path := range res.Skipped {
		fmt.Printf("kept %s\n", path)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `drover %s — serialized apply-engine runs for one host

Usage: drover <command> [options]

Run commands (combinable, executed in the order given):
  apply            Run the apply engine once under the host lock
  set_hostname     Sync the declared hostname to the host

Run options:
  --verbosity N    Engine verbosity 0-5 (3 verbose, 4 debug, 5 trace)
  --force          Clear a stale lock file before acquiring
  --tags LIST      Comma-separated engine tags
  --info "k: v"    Metadata recorded in the summary markers
  --downgrade      Apply even if the declared platform version is older

Utilities:
  log [--summary] [--follow] [--lines N]   Print (and follow) a run log
  last [--json]                            Show the last recorded apply
  setup [dir]                              Install default config files
  version                                  Show version
  help                                     Show this help

`, version)
}
