// Package config loads persisted defaults for the har CLI from a YAML file,
// so a deployment does not have to repeat the same flags on every
// invocation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the subset of serve/capture flags worth persisting across
// invocations. Zero values mean "not set"; callers fall back to their own
// flag defaults.
type Config struct {
	Port              int           `yaml:"port"`
	Bucket            string        `yaml:"bucket"`
	StorePath         string        `yaml:"store_path"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	TotalTimeout      time.Duration `yaml:"total_timeout"`
	CaptureBodies     bool          `yaml:"capture_bodies"`
}

// Load reads and decodes a YAML config file. KnownFields is enabled so a
// typo'd key fails loudly instead of being silently ignored. An empty file
// yields a zero-value Config.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	d := yaml.NewDecoder(bytes.NewReader(raw))
	d.KnownFields(true)
	if err := d.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return &cfg, nil
}
