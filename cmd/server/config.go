package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/warp/dues-engine/api"
	"github.com/warp/dues-engine/engine"
	"gopkg.in/yaml.v3"
)

// Config holds server settings. Precedence: flags, then the YAML file named
// by -config or DUES_CONFIG, then environment defaults.
type Config struct {
	Port           int             `yaml:"port"`
	DBPath         string          `yaml:"db_path"`
	SeedFile       string          `yaml:"seed_file"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	Demo           bool            `yaml:"demo"`
	Scheduler      SchedulerConfig `yaml:"scheduler"`
}

// SchedulerConfig controls the penalty refresh scheduler.
type SchedulerConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Interval string         `yaml:"interval"`
	Targets  []TargetConfig `yaml:"targets"`
}

// TargetConfig is one client/module the scheduler refreshes.
type TargetConfig struct {
	ClientID string `yaml:"client_id"`
	Module   string `yaml:"module"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		Port:           getenvIntDefault("DUES_PORT", 8080),
		DBPath:         getenvDefault("DUES_DB", "dues.db"),
		SeedFile:       os.Getenv("DUES_SEED"),
		AllowedOrigins: splitCSV(os.Getenv("DUES_ALLOWED_ORIGINS")),
		Demo:           os.Getenv("DUES_DEMO") == "true",
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: getenvDefault("DUES_REFRESH_INTERVAL", "1h"),
		},
	}

	if path == "" {
		path = os.Getenv("DUES_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if cfg.Port <= 0 {
		return cfg, errors.New("config: port must be positive")
	}
	if cfg.DBPath == "" {
		return cfg, errors.New("config: db_path required")
	}
	if _, err := cfg.RefreshInterval(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// RefreshInterval parses the scheduler interval.
func (c Config) RefreshInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Scheduler.Interval)
	if err != nil {
		return 0, fmt.Errorf("config: scheduler.interval: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("config: scheduler.interval must be positive")
	}
	return d, nil
}

// RefreshTargets converts the configured targets.
func (c Config) RefreshTargets() []api.RefreshTarget {
	out := make([]api.RefreshTarget, 0, len(c.Scheduler.Targets))
	for _, t := range c.Scheduler.Targets {
		out = append(out, api.RefreshTarget{
			ClientID: engine.ClientID(t.ClientID),
			Module:   engine.ModuleKind(t.Module),
		})
	}
	return out
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
