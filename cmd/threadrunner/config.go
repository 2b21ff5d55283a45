package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

// threadrunner config.toml key mapping to run settings.
type fileConfig struct {
	Handles     int    `toml:"handles"`
	Tasks       int    `toml:"tasks"`
	Delay       string `toml:"delay"`
	MetricsAddr string `toml:"metrics_addr"`
	LogLevel    string `toml:"log_level"`
}

type runConfig struct {
	Handles     int
	Tasks       int
	Delay       time.Duration
	MetricsAddr string
	LogLevel    string
}

func defaultRunConfig() runConfig {
	return runConfig{
		Handles:  4,
		Tasks:    100,
		Delay:    10 * time.Millisecond,
		LogLevel: "info",
	}
}

// loadRunConfig overlays the keys present in path onto cfg.
func loadRunConfig(path string, cfg runConfig) (runConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runConfig{}, fmt.Errorf("load threadrunner config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runConfig{}, fmt.Errorf("load threadrunner config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("handles") {
		cfg.Handles = raw.Handles
	}
	if meta.IsDefined("tasks") {
		cfg.Tasks = raw.Tasks
	}
	if meta.IsDefined("delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Delay))
		if err != nil {
			return runConfig{}, fmt.Errorf("load threadrunner config: delay: %w", err)
		}
		cfg.Delay = d
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return cfg, nil
}

// applyFlags overlays flags the user set explicitly; flags win over the file.
func applyFlags(flags *pflag.FlagSet, cfg runConfig) (runConfig, error) {
	var err error
	if flags.Changed("handles") {
		cfg.Handles, err = flags.GetInt("handles")
		if err != nil {
			return runConfig{}, err
		}
	}
	if flags.Changed("tasks") {
		cfg.Tasks, err = flags.GetInt("tasks")
		if err != nil {
			return runConfig{}, err
		}
	}
	if flags.Changed("delay") {
		cfg.Delay, err = flags.GetDuration("delay")
		if err != nil {
			return runConfig{}, err
		}
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, err = flags.GetString("metrics-addr")
		if err != nil {
			return runConfig{}, err
		}
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, err = flags.GetString("log-level")
		if err != nil {
			return runConfig{}, err
		}
	}
	return cfg, nil
}

func (c runConfig) validate() error {
	var errs []error
	if c.Handles < 1 {
		errs = append(errs, fmt.Errorf("handles must be at least 1, got %d", c.Handles))
	}
	if c.Tasks < 0 {
		errs = append(errs, fmt.Errorf("tasks must not be negative, got %d", c.Tasks))
	}
	if c.Delay < 0 {
		errs = append(errs, fmt.Errorf("delay must not be negative, got %s", c.Delay))
	}
	return errors.Join(errs...)
}
