package run

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hostwright/drover/internal/config"
	"github.com/hostwright/drover/internal/lock"
	"github.com/hostwright/drover/internal/runlog"
)

func TestParseArgs_SingleCommand(t *testing.T) {
	req, err := ParseArgs([]string{"apply"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if !reflect.DeepEqual(req.Commands, []string{CommandApply}) {
		t.Errorf("Commands = %v, want [apply]", req.Commands)
	}
	if req.Verbosity != 0 || req.Force || req.Downgrade || req.Tags != "" || req.Info != nil {
		t.Errorf("unexpected non-zero defaults: %+v", req)
	}
}

func TestParseArgs_OrderAndDuplicates(t *testing.T) {
	req, err := ParseArgs([]string{"set_hostname", "apply", "apply"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	want := []string{CommandSetHostname, CommandApply, CommandApply}
	if !reflect.DeepEqual(req.Commands, want) {
		t.Errorf("Commands = %v, want %v", req.Commands, want)
	}
}

func TestParseArgs_AllFlags(t *testing.T) {
	req, err := ParseArgs([]string{
		"--verbosity", "4", "--force", "--tags", "web,db",
		"--info", "user: alice, platform: 0.6.1", "--downgrade", "apply",
	})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if req.Verbosity != 4 {
		t.Errorf("Verbosity = %d, want 4", req.Verbosity)
	}
	if !req.Force || !req.Downgrade {
		t.Errorf("Force = %v, Downgrade = %v, want both true", req.Force, req.Downgrade)
	}
	if req.Tags != "web,db" {
		t.Errorf("Tags = %q, want web,db", req.Tags)
	}
	wantInfo := map[string]string{"user": "alice", "platform": "0.6.1"}
	if !reflect.DeepEqual(req.Info, wantInfo) {
		t.Errorf("Info = %v, want %v", req.Info, wantInfo)
	}
}

func TestParseArgs_FlagsInterleaveCommands(t *testing.T) {
	req, err := ParseArgs([]string{"apply", "--tags", "ssh", "set_hostname", "--force"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	want := []string{CommandApply, CommandSetHostname}
	if !reflect.DeepEqual(req.Commands, want) {
		t.Errorf("Commands = %v, want %v", req.Commands, want)
	}
	if req.Tags != "ssh" || !req.Force {
		t.Errorf("Tags = %q, Force = %v", req.Tags, req.Force)
	}
}

func TestParseArgs_MalformedInfoDegrades(t *testing.T) {
	req, err := ParseArgs([]string{"--info", "garbage", "apply"})
	if err != nil {
		t.Fatalf("malformed --info should not fail the parse: %v", err)
	}
	want := map[string]string{runlog.KeyPlatform: runlog.InvalidFormat}
	if !reflect.DeepEqual(req.Info, want) {
		t.Errorf("Info = %v, want %v", req.Info, want)
	}
}

func TestParseArgs_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"NoArgs", nil, "no command"},
		{"FlagsOnly", []string{"--force"}, "no command"},
		{"UnknownFlag", []string{"--bogus", "apply"}, "unknown flag"},
		{"UnknownCommand", []string{"teleport"}, "unknown command"},
		{"VerbosityMissingValue", []string{"apply", "--verbosity"}, "requires a value"},
		{"VerbosityNotANumber", []string{"--verbosity", "high", "apply"}, "invalid --verbosity"},
		{"VerbosityTooHigh", []string{"--verbosity", "6", "apply"}, "invalid --verbosity"},
		{"VerbosityNegative", []string{"--verbosity", "-1", "apply"}, "invalid --verbosity"},
		{"TagsMissingValue", []string{"apply", "--tags"}, "requires a value"},
		{"InfoMissingValue", []string{"apply", "--info"}, "requires a value"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseArgs(tc.args)
			if err == nil {
				t.Fatalf("ParseArgs(%v) succeeded, want error", tc.args)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

const testHostYAML = "hostname: web03\ndomain_name: internal.example.net\ndomain_suffix: example.net\n"

type runEnv struct {
	lockPath     string
	detailedPath string
	summaryPath  string
	hostPath     string
}

// newRunEnv points DROVER_CONFIG at a settings file whose engine is
// /bin/echo, so Execute drives the real lock, log and runner machinery
// against a harmless child.
func newRunEnv(t *testing.T, hostYAML string) runEnv {
	t.Helper()
	dir := t.TempDir()
	env := runEnv{
		lockPath:     filepath.Join(dir, "drover.lock"),
		detailedPath: filepath.Join(dir, "apply.log"),
		summaryPath:  filepath.Join(dir, "summary.log"),
		hostPath:     filepath.Join(dir, "host.yaml"),
	}
	settings := fmt.Sprintf(`lock_file = %q
detailed_log = %q
summary_log = %q
host_file = %q
hostname_file = %q

[engine]
binary = "echo"
subcommand = "engine-run"
work_dir = ""
module_path = ""
manifest = ""
`, env.lockPath, env.detailedPath, env.summaryPath, env.hostPath, filepath.Join(dir, "hostname"))
	cfgPath := filepath.Join(dir, "drover.toml")
	if err := os.WriteFile(cfgPath, []byte(settings), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	t.Setenv(config.SettingsEnv, cfgPath)
	if hostYAML != "" {
		if err := os.WriteFile(env.hostPath, []byte(hostYAML), 0o644); err != nil {
			t.Fatalf("write host config: %v", err)
		}
	}
	return env
}

func summaryRecords(t *testing.T, path string) []runlog.Record {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary log: %v", err)
	}
	var records []runlog.Record
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		rec, ok := runlog.ParseRecord(line)
		if !ok {
			t.Fatalf("unparsable summary line: %q", line)
		}
		records = append(records, rec)
	}
	return records
}

func TestExecute_ApplyWritesMarkersAndReleasesLock(t *testing.T) {
	env := newRunEnv(t, testHostYAML)
	req, err := ParseArgs([]string{"apply", "--info", "user: alice"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if err := Execute(req); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	recs := summaryRecords(t, env.summaryPath)
	if len(recs) != 2 {
		t.Fatalf("summary records = %d, want 2", len(recs))
	}
	if recs[0].Event != runlog.EventStart {
		t.Errorf("first record event = %v, want start", recs[0].Event)
	}
	if recs[0].Info["user"] != "alice" {
		t.Errorf("start marker info = %v, want user: alice", recs[0].Info)
	}
	if recs[1].Event != runlog.EventFinish {
		t.Errorf("second record event = %v, want finish", recs[1].Event)
	}
	if recs[1].Description != "no changes" {
		t.Errorf("finish description = %q, want \"no changes\"", recs[1].Description)
	}

	if _, err := os.Stat(env.lockPath); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("lock file still present after run")
	}

	detailed, err := os.ReadFile(env.detailedPath)
	if err != nil {
		t.Fatalf("read detailed log: %v", err)
	}
	if !strings.Contains(string(detailed), "running: echo engine-run") {
		t.Errorf("detailed log missing engine command line:\n%s", detailed)
	}
	if !strings.Contains(string(detailed), "engine-run --detailed-exitcodes") {
		t.Errorf("engine output not streamed to detailed log:\n%s", detailed)
	}
}

func TestExecute_CommandsRunInSequence(t *testing.T) {
	env := newRunEnv(t, testHostYAML)
	if err := Execute(Request{Commands: []string{CommandApply, CommandApply}}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	recs := summaryRecords(t, env.summaryPath)
	want := []runlog.Event{runlog.EventStart, runlog.EventFinish, runlog.EventStart, runlog.EventFinish}
	if len(recs) != len(want) {
		t.Fatalf("summary records = %d, want %d", len(recs), len(want))
	}
	for i, ev := range want {
		if recs[i].Event != ev {
			t.Errorf("record %d event = %v, want %v", i, recs[i].Event, ev)
		}
	}
}

func TestExecute_LockConflict(t *testing.T) {
	env := newRunEnv(t, testHostYAML)
	if err := os.WriteFile(env.lockPath, []byte("12345\n"), 0o644); err != nil {
		t.Fatalf("seed lock file: %v", err)
	}

	err := Execute(Request{Commands: []string{CommandApply}})
	if !errors.Is(err, lock.ErrHeld) {
		t.Fatalf("Execute error = %v, want lock conflict", err)
	}
	if _, err := os.Stat(env.lockPath); err != nil {
		t.Errorf("foreign lock file was removed: %v", err)
	}
	if _, err := os.Stat(env.detailedPath); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("logs opened despite lock conflict")
	}
}

func TestExecute_ForceClearsStaleLock(t *testing.T) {
	env := newRunEnv(t, testHostYAML)
	if err := os.WriteFile(env.lockPath, []byte("99999\n"), 0o644); err != nil {
		t.Fatalf("seed lock file: %v", err)
	}

	if err := Execute(Request{Commands: []string{CommandApply}, Force: true}); err != nil {
		t.Fatalf("Execute with force: %v", err)
	}
	if _, err := os.Stat(env.lockPath); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("lock file still present after forced run")
	}
}

func TestExecute_FatalCommandStopsSequence(t *testing.T) {
	env := newRunEnv(t, "domain_name: internal.example.net\n")

	err := Execute(Request{Commands: []string{CommandSetHostname, CommandApply}})
	if !errors.Is(err, config.ErrMissingField) {
		t.Fatalf("Execute error = %v, want missing host config field", err)
	}

	if data, err := os.ReadFile(env.summaryPath); err == nil && strings.Contains(string(data), "STARTING APPLY") {
		t.Errorf("apply ran after fatal set_hostname:\n%s", data)
	}
	detailed, err := os.ReadFile(env.detailedPath)
	if err != nil {
		t.Fatalf("read detailed log: %v", err)
	}
	if !strings.Contains(string(detailed), "set_hostname failed") {
		t.Errorf("fatal command not recorded in detailed log:\n%s", detailed)
	}
	if _, err := os.Stat(env.lockPath); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("lock file not released on the fatal path")
	}
}

func TestExecute_GuardSkipIsNotAnError(t *testing.T) {
	env := newRunEnv(t, testHostYAML)
	seed := "Mar 7 09:05:02 web03: STARTING APPLY {platform: 9.9.9}\n"
	if err := os.WriteFile(env.summaryPath, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed summary log: %v", err)
	}

	req, err := ParseArgs([]string{"apply", "--info", "platform: 1.0.0"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if err := Execute(req); err != nil {
		t.Fatalf("a guard skip should finish clean: %v", err)
	}

	data, err := os.ReadFile(env.summaryPath)
	if err != nil {
		t.Fatalf("read summary log: %v", err)
	}
	if got := strings.Count(string(data), "STARTING APPLY"); got != 1 {
		t.Errorf("engine ran despite version guard: %d start markers", got)
	}
	if !strings.Contains(string(data), "refusing to apply") {
		t.Errorf("guard refusal not recorded:\n%s", data)
	}
	if _, err := os.Stat(env.lockPath); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("lock file still present after guarded run")
	}
}

func TestExecute_GuardRefusalStopsSequence(t *testing.T) {
	env := newRunEnv(t, testHostYAML)
	seed := "Mar 7 09:05:02 web03: STARTING APPLY {platform: 9.9.9}\n"
	if err := os.WriteFile(env.summaryPath, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed summary log: %v", err)
	}

	err := Execute(Request{
		Commands: []string{CommandApply, CommandApply},
		Info:     map[string]string{"platform": "1.0.0"},
	})
	if err != nil {
		t.Fatalf("a guard refusal should end the run clean: %v", err)
	}

	data, err := os.ReadFile(env.summaryPath)
	if err != nil {
		t.Fatalf("read summary log: %v", err)
	}
	if got := strings.Count(string(data), "refusing to apply"); got != 1 {
		t.Errorf("run continued past the guard refusal: %d refusal lines, want 1", got)
	}
	if got := strings.Count(string(data), "STARTING APPLY"); got != 1 {
		t.Errorf("a command still ran after the refusal:\n%s", data)
	}
	if _, err := os.Stat(env.lockPath); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("lock file still present after refused run")
	}
}

func TestExecute_MalformedSettings(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "drover.toml")
	if err := os.WriteFile(cfgPath, []byte("lock_file = [not toml\n"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	t.Setenv(config.SettingsEnv, cfgPath)

	if err := Execute(Request{Commands: []string{CommandApply}}); err == nil {
		t.Fatal("Execute accepted a malformed settings file")
	}
}

func TestExecute_MissingHostConfigReleasesLock(t *testing.T) {
	env := newRunEnv(t, "")

	err := Execute(Request{Commands: []string{CommandApply}})
	if err == nil {
		t.Fatal("Execute succeeded without a host config file")
	}
	if _, err := os.Stat(env.lockPath); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("lock file not released after host config failure")
	}
	detailed, err := os.ReadFile(env.detailedPath)
	if err != nil {
		t.Fatalf("read detailed log: %v", err)
	}
	if !strings.Contains(string(detailed), "cannot load host config") {
		t.Errorf("host config failure not logged:\n%s", detailed)
	}
}
