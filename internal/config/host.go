package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
)

// Well-known host configuration keys.
const (
	KeyHostname     = "hostname"
	KeyDomainName   = "domain_name"
	KeyDomainSuffix = "domain_suffix"
)

// ErrMissingField reports a host configuration key that a command
// requires but the store does not provide.
var ErrMissingField = errors.New("host config field missing")

// Host is the per-server configuration store: a flat YAML mapping
// maintained outside drover (provisioning writes it, drover only reads
// it). It is read once per run and cached.
type Host struct {
	path   string
	values map[string]string
}

// LoadHost reads and parses the host configuration store. An unreadable
// or unparsable store is a fatal condition for the commands that need
// it, so both surface as errors here.
func LoadHost(path string) (*Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host config: %w", err)
	}
	values := make(map[string]string)
	if err := yamlv3.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse host config %s: %w", path, err)
	}
	return &Host{path: path, values: values}, nil
}

// Get returns the value for key, or "" when absent.
func (h *Host) Get(key string) string {
	return h.values[key]
}

// Require returns the value for key, or ErrMissingField when the key is
// absent or blank.
func (h *Host) Require(key string) (string, error) {
	v, ok := h.values[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %q in %s", ErrMissingField, key, h.path)
	}
	return v, nil
}
