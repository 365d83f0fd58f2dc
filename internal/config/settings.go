// Package config loads drover's own settings file and the per-server
// host configuration store consulted by runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultSettingsPath is where drover looks for its settings file
	// unless the DROVER_CONFIG environment variable points elsewhere.
	DefaultSettingsPath = "/etc/drover/drover.toml"

	// SettingsEnv overrides the settings file location.
	SettingsEnv = "DROVER_CONFIG"
)

// Settings holds drover's own configuration. Every field has a built-in
// default; a missing settings file is not an error.
type Settings struct {
	LockFile     string `toml:"lock_file"`
	DetailedLog  string `toml:"detailed_log"`
	SummaryLog   string `toml:"summary_log"`
	HostFile     string `toml:"host_file"`
	HostnameFile string `toml:"hostname_file"`

	Engine EngineSettings `toml:"engine"`
}

// EngineSettings describes how to invoke the external apply engine.
// The switch strings are passed through verbatim so the settings file
// can track whatever CLI surface the installed engine version exposes.
type EngineSettings struct {
	Binary        string `toml:"binary"`
	Subcommand    string `toml:"subcommand"`
	WorkDir       string `toml:"work_dir"`
	ModulePath    string `toml:"module_path"`
	Manifest      string `toml:"manifest"`
	FactPrefix    string `toml:"fact_prefix"`
	EnvFile       string `toml:"env_file"`
	ExtraArgs     string `toml:"extra_args"`
	ExitcodesFlag string `toml:"exitcodes_flag"`
	VerboseFlag   string `toml:"verbose_flag"`
	DebugFlag     string `toml:"debug_flag"`
	TraceFlag     string `toml:"trace_flag"`
}

// DefaultSettings returns the built-in configuration used when no
// settings file exists.
func DefaultSettings() Settings {
	return Settings{
		LockFile:     "/var/run/drover.lock",
		DetailedLog:  "/var/log/drover/apply.log",
		SummaryLog:   "/var/log/drover/summary.log",
		HostFile:     "/etc/drover/host.yaml",
		HostnameFile: "/etc/hostname",
		Engine: EngineSettings{
			Binary:        "puppet",
			Subcommand:    "apply",
			WorkDir:       "/var/lib/drover",
			ModulePath:    "modules",
			Manifest:      "manifests/site.pp",
			FactPrefix:    "FACTER_",
			ExitcodesFlag: "--detailed-exitcodes",
			VerboseFlag:   "--verbose",
			DebugFlag:     "--debug",
			TraceFlag:     "--trace",
		},
	}
}

// LoadSettings resolves the settings path (DROVER_CONFIG, then the
// default location) and loads it.
func LoadSettings() (Settings, error) {
	path := os.Getenv(SettingsEnv)
	if path == "" {
		path = DefaultSettingsPath
	}
	return LoadSettingsFile(path)
}

// LoadSettingsFile reads a TOML settings file on top of the defaults.
// Keys absent from the file keep their default values. A file that does
// not exist yields the defaults.
func LoadSettingsFile(path string) (Settings, error) {
	s := DefaultSettings()
	if _, err := toml.DecodeFile(path, &s); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return Settings{}, fmt.Errorf("load settings %s: %w", path, err)
	}
	return s, nil
}
