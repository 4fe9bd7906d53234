// Package config loads application configuration from environment
// variables with defaults, optionally layered under a local YAML
// overlay. Precedence: defaults < YAML overlay < environment variables.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/archiveforge/gitarchiver/internal/model"
)

// Config is every setting the daemon needs at startup.
type Config struct {
	Addr                     string
	DataDir                  string
	DatabasePath             string
	MaxConcurrentTasks       int
	AutoCheckIntervalMinutes int
	GitHubBaseURL            string
}

// overlay is the shape of the optional archiver.yaml file.
type overlay struct {
	Addr                     string `yaml:"addr"`
	DataDir                  string `yaml:"data_dir"`
	DatabasePath             string `yaml:"database_path"`
	MaxConcurrentTasks       int    `yaml:"max_concurrent_tasks"`
	AutoCheckIntervalMinutes int    `yaml:"auto_check_interval_minutes"`
}

// Load builds a Config from defaults, an optional ./archiver.yaml
// overlay, and ARCHIVER_* environment variables, in that precedence order.
func Load() (Config, error) {
	cfg := Config{
		Addr:                     ":8080",
		DataDir:                  "data",
		DatabasePath:             "data/archiver.sqlite",
		MaxConcurrentTasks:       4,
		AutoCheckIntervalMinutes: 60,
		GitHubBaseURL:            "https://api.github.com",
	}

	if ov, err := loadOverlay("archiver.yaml"); err == nil {
		applyOverlay(&cfg, ov)
	} else if !os.IsNotExist(err) {
		return Config{}, model.IO(err, "failed to read archiver.yaml")
	}

	cfg.Addr = env("ARCHIVER_ADDR", cfg.Addr)
	cfg.DataDir = env("ARCHIVER_DATA_DIR", cfg.DataDir)
	cfg.DatabasePath = env("ARCHIVER_DB_PATH", cfg.DatabasePath)
	cfg.GitHubBaseURL = strings.TrimRight(env("ARCHIVER_GITHUB_BASE_URL", cfg.GitHubBaseURL), "/")

	if v := strings.TrimSpace(os.Getenv("ARCHIVER_MAX_CONCURRENT_TASKS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, model.BadInput("ARCHIVER_MAX_CONCURRENT_TASKS must be an integer")
		}
		cfg.MaxConcurrentTasks = n
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVER_AUTO_CHECK_INTERVAL_MINUTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, model.BadInput("ARCHIVER_AUTO_CHECK_INTERVAL_MINUTES must be an integer")
		}
		cfg.AutoCheckIntervalMinutes = n
	}

	return cfg, nil
}

func loadOverlay(path string) (overlay, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return overlay{}, err
	}
	var ov overlay
	if err := yaml.Unmarshal(raw, &ov); err != nil {
		return overlay{}, err
	}
	return ov, nil
}

func applyOverlay(cfg *Config, ov overlay) {
	if ov.Addr != "" {
		cfg.Addr = ov.Addr
	}
	if ov.DataDir != "" {
		cfg.DataDir = ov.DataDir
	}
	if ov.DatabasePath != "" {
		cfg.DatabasePath = ov.DatabasePath
	}
	if ov.MaxConcurrentTasks != 0 {
		cfg.MaxConcurrentTasks = ov.MaxConcurrentTasks
	}
	if ov.AutoCheckIntervalMinutes != 0 {
		cfg.AutoCheckIntervalMinutes = ov.AutoCheckIntervalMinutes
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
