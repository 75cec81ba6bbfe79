// Package config provides configuration management for phosflow.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/ini.v1"
)

// Config is the immutable controller configuration. It is built once at
// startup and passed by reference into the batch controller and the
// per-molecule pipeline engines.
//
// INI format:
//
//	[paths]
//	source_dir = molecules
//	results_dir = results
//	status_file = status_report.csv
//
//	[scheduler]
//	max_concurrent = 10
//	poll_interval_seconds = 300
//
//	[watchdog]
//	timeout_threshold_hours = 48
//
//	[alerts]
//	enabled = true
//	webhook_url = https://open.feishu.cn/open-apis/bot/v2/hook/...
//
//	[exit]
//	auto_exit = false
//	idle_cycles = 3
type Config struct {
	// SourceDir holds one .xyz structure file per molecule; the filename
	// stem is the molecule name.
	SourceDir string

	// ResultsDir is the root under which each molecule owns a subtree.
	ResultsDir string

	// StatusFile is the path of the CSV progress record.
	StatusFile string

	// MaxConcurrent caps the number of molecules in RUNNING at once.
	MaxConcurrent int

	// PollInterval is the pause between scheduling cycles.
	PollInterval time.Duration

	// TimeoutThreshold is the stall-watchdog alert threshold.
	TimeoutThreshold time.Duration

	// AlertsEnabled gates all outbound webhook notifications.
	AlertsEnabled bool

	// WebhookURL is the alert endpoint. Empty disables alerting even
	// when AlertsEnabled is set.
	WebhookURL string

	// AutoExit terminates the process after IdleCycles consecutive cycles
	// with no RUNNING molecules.
	AutoExit bool

	// IdleCycles is the consecutive-idle-cycle threshold for AutoExit.
	IdleCycles int
}

// Validation errors.
var (
	ErrMissingSourceDir    = errors.New("source_dir is required")
	ErrMissingResultsDir   = errors.New("results_dir is required")
	ErrMissingStatusFile   = errors.New("status_file is required")
	ErrInvalidConcurrency  = errors.New("max_concurrent must be between 1 and 1000")
	ErrInvalidPollInterval = errors.New("poll_interval_seconds must be between 1 and 86400")
	ErrInvalidIdleCycles   = errors.New("idle_cycles must be at least 1 when auto_exit is enabled")
)

// Default returns a configuration with the production defaults.
func Default() *Config {
	return &Config{
		SourceDir:        "molecules",
		ResultsDir:       "results",
		StatusFile:       "status_report.csv",
		MaxConcurrent:    10,
		PollInterval:     5 * time.Minute,
		TimeoutThreshold: 48 * time.Hour,
		AlertsEnabled:    true,
		WebhookURL:       "",
		AutoExit:         false,
		IdleCycles:       3,
	}
}

// Load reads configuration from an INI file. A missing file returns the
// defaults without error; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	paths := iniFile.Section("paths")
	cfg.SourceDir = paths.Key("source_dir").MustString(cfg.SourceDir)
	cfg.ResultsDir = paths.Key("results_dir").MustString(cfg.ResultsDir)
	cfg.StatusFile = paths.Key("status_file").MustString(cfg.StatusFile)

	sched := iniFile.Section("scheduler")
	cfg.MaxConcurrent = sched.Key("max_concurrent").MustInt(cfg.MaxConcurrent)
	pollSec := sched.Key("poll_interval_seconds").MustInt(int(cfg.PollInterval.Seconds()))
	cfg.PollInterval = time.Duration(pollSec) * time.Second

	watchdog := iniFile.Section("watchdog")
	timeoutHours := watchdog.Key("timeout_threshold_hours").MustFloat64(cfg.TimeoutThreshold.Hours())
	cfg.TimeoutThreshold = time.Duration(timeoutHours * float64(time.Hour))

	alerts := iniFile.Section("alerts")
	cfg.AlertsEnabled = alerts.Key("enabled").MustBool(cfg.AlertsEnabled)
	cfg.WebhookURL = alerts.Key("webhook_url").String()

	exit := iniFile.Section("exit")
	cfg.AutoExit = exit.Key("auto_exit").MustBool(cfg.AutoExit)
	cfg.IdleCycles = exit.Key("idle_cycles").MustInt(cfg.IdleCycles)

	return cfg, nil
}

// Save writes the configuration to an INI file, creating parent
// directories as needed. The write is atomic (temp file + rename).
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	paths, err := iniFile.NewSection("paths")
	if err != nil {
		return fmt.Errorf("failed to create paths section: %w", err)
	}
	paths.Key("source_dir").SetValue(cfg.SourceDir)
	paths.Key("results_dir").SetValue(cfg.ResultsDir)
	paths.Key("status_file").SetValue(cfg.StatusFile)

	sched, err := iniFile.NewSection("scheduler")
	if err != nil {
		return fmt.Errorf("failed to create scheduler section: %w", err)
	}
	sched.Key("max_concurrent").SetValue(fmt.Sprintf("%d", cfg.MaxConcurrent))
	sched.Key("poll_interval_seconds").SetValue(fmt.Sprintf("%d", int(cfg.PollInterval.Seconds())))

	watchdog, err := iniFile.NewSection("watchdog")
	if err != nil {
		return fmt.Errorf("failed to create watchdog section: %w", err)
	}
	watchdog.Key("timeout_threshold_hours").SetValue(fmt.Sprintf("%g", cfg.TimeoutThreshold.Hours()))

	alerts, err := iniFile.NewSection("alerts")
	if err != nil {
		return fmt.Errorf("failed to create alerts section: %w", err)
	}
	alerts.Key("enabled").SetValue(fmt.Sprintf("%t", cfg.AlertsEnabled))
	alerts.Key("webhook_url").SetValue(cfg.WebhookURL)

	exit, err := iniFile.NewSection("exit")
	if err != nil {
		return fmt.Errorf("failed to create exit section: %w", err)
	}
	exit.Key("auto_exit").SetValue(fmt.Sprintf("%t", cfg.AutoExit))
	exit.Key("idle_cycles").SetValue(fmt.Sprintf("%d", cfg.IdleCycles))

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks the configuration for obviously broken values.
func (cfg *Config) Validate() error {
	if cfg.SourceDir == "" {
		return ErrMissingSourceDir
	}
	if cfg.ResultsDir == "" {
		return ErrMissingResultsDir
	}
	if cfg.StatusFile == "" {
		return ErrMissingStatusFile
	}
	if cfg.MaxConcurrent < 1 || cfg.MaxConcurrent > 1000 {
		return ErrInvalidConcurrency
	}
	if cfg.PollInterval < time.Second || cfg.PollInterval > 24*time.Hour {
		return ErrInvalidPollInterval
	}
	if cfg.AutoExit && cfg.IdleCycles < 1 {
		return ErrInvalidIdleCycles
	}
	return nil
}
