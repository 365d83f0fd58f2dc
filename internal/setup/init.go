// Package setup handles first-time drover host initialization.
package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hostwright/drover/internal/config"
	"github.com/hostwright/drover/templates"
)

// Result lists what Run materialized and what it left untouched.
type Result struct {
	Written []string
	Skipped []string
}

// Run materializes the embedded default settings file and an example
// host config under dir, then creates the log directories the
// resulting settings name. Files already present are never
// overwritten, so re-running setup on a configured host is harmless.
func Run(dir string) (Result, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve config dir: %w", err)
	}

	res, settings, err := materialize(absDir)
	if err != nil {
		return res, err
	}
	if err := ensureLogDirs(settings); err != nil {
		return res, err
	}
	return res, nil
}

// materialize installs the template files and loads the settings that
// end up governing this host, whether freshly written or pre-existing.
func materialize(dir string) (Result, config.Settings, error) {
	var res Result

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, config.Settings{}, fmt.Errorf("create config dir %s: %w", dir, err)
	}

	for _, name := range []string{"drover.toml", "host.yaml"} {
		dst := filepath.Join(dir, name)
		written, err := install(name, dst)
		if err != nil {
			return res, config.Settings{}, err
		}
		if written {
			res.Written = append(res.Written, dst)
		} else {
			res.Skipped = append(res.Skipped, dst)
		}
	}

	settings, err := config.LoadSettingsFile(filepath.Join(dir, "drover.toml"))
	if err != nil {
		return res, config.Settings{}, err
	}
	return res, settings, nil
}

// install copies one embedded template to dst unless dst exists.
func install(name, dst string) (bool, error) {
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", dst, err)
	}

	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return false, fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", dst, err)
	}
	return true, nil
}

func ensureLogDirs(s config.Settings) error {
	for _, path := range []string{s.DetailedLog, s.SummaryLog} {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}
	return nil
}
