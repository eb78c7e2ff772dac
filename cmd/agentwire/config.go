package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig holds settings from ~/.agentwire.yaml (or --config).
// Command-line flags override file values.
type fileConfig struct {
	Executable string   `yaml:"executable"`
	Args       []string `yaml:"args"`
	Remote     string   `yaml:"remote"`
	Transport  string   `yaml:"transport"`
	Model      string   `yaml:"model"`
}

// loadConfig reads the config file. A missing default file is not an
// error; a missing explicit --config path is.
func loadConfig(path string) (*fileConfig, error) {
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return &fileConfig{}, nil
		}
		path = filepath.Join(home, ".agentwire.yaml")
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !explicit {
		return &fileConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyFlags overlays non-empty command-line flags onto the file config.
func (c *fileConfig) applyFlags() {
	if executable != "" {
		c.Executable = executable
	}
	if remote != "" {
		c.Remote = remote
	}
	if transport != "" {
		c.Transport = transport
	}
	if model != "" {
		c.Model = model
	}
}
