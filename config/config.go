// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads Scribe configuration from the config file and
// environment.
//
// Precedence, lowest to highest: built-in defaults, then
// ~/.scribe/config.yaml, then SCRIBE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration.
type Config struct {
	// RuntimeURL is the local inference server address.
	RuntimeURL string `yaml:"runtime_url" validate:"required,url"`

	// Model is the on-device model identifier.
	Model string `yaml:"model" validate:"required"`

	// DataDir holds the note database and logs.
	DataDir string `yaml:"data_dir" validate:"required"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		RuntimeURL: "http://localhost:11434",
		Model:      "gemma3:4b",
		DataDir:    "~/.scribe",
		LogLevel:   "info",
	}
}

// Load reads configuration with the documented precedence and
// validates the result. A missing config file is not an error.
func Load() (Config, error) {
	cfg := Defaults()

	path, err := configPath()
	if err == nil {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if cfg.DataDir, err = expandHome(cfg.DataDir); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NotesDir returns the note database directory.
func (c Config) NotesDir() string {
	return filepath.Join(c.DataDir, "notes")
}

// LogDir returns the log directory.
func (c Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".scribe", "config.yaml"), nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SCRIBE_RUNTIME_URL"); v != "" {
		cfg.RuntimeURL = v
	}
	if v := os.Getenv("SCRIBE_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("SCRIBE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SCRIBE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func expandHome(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	return filepath.Join(home, path[1:]), nil
}
