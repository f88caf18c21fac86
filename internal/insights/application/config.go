package application

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds defines deny-spike firing thresholds.
type Thresholds struct {
	SpikeMultiplier float64 `yaml:"spike_multiplier"`
	MinDenyCount    int64   `yaml:"min_deny_count"`
}

// Config defines detection configuration.
type Config struct {
	Defaults        Thresholds            `yaml:"defaults"`
	Locations       map[string]Thresholds `yaml:"locations"`
	MaxPerTenant    int                   `yaml:"max_per_tenant"`
	IntervalSeconds int                   `yaml:"interval_seconds"`
	CooldownMinutes int                   `yaml:"cooldown_minutes"`
	FeedTTLMinutes  int                   `yaml:"feed_ttl_minutes"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Defaults: Thresholds{
			SpikeMultiplier: 1.5,
			MinDenyCount:    3,
		},
		MaxPerTenant:    getenvIntDefault("INSIGHTS_MAX_PER_TENANT", 5),
		IntervalSeconds: getenvIntDefault("INSIGHTS_INTERVAL_SECONDS", 30),
		CooldownMinutes: getenvIntDefault("INSIGHTS_COOLDOWN_MINUTES", 10),
		FeedTTLMinutes:  getenvIntDefault("INSIGHTS_FEED_TTL_MINUTES", 90),
	}

	if path := os.Getenv("INSIGHTS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Defaults.SpikeMultiplier <= 0 {
		return cfg, errors.New("insights: spike multiplier must be positive")
	}
	if cfg.Defaults.MinDenyCount <= 0 {
		return cfg, errors.New("insights: min deny count must be positive")
	}
	if cfg.MaxPerTenant <= 0 {
		cfg.MaxPerTenant = 5
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 30
	}
	if cfg.CooldownMinutes < 0 {
		cfg.CooldownMinutes = 0
	}
	if cfg.FeedTTLMinutes <= 0 {
		cfg.FeedTTLMinutes = 90
	}
	return cfg, nil
}

// ThresholdsForLocation returns thresholds for a location.
func (c Config) ThresholdsForLocation(locationID string) Thresholds {
	if c.Locations != nil {
		if override, ok := c.Locations[locationID]; ok {
			return mergeThresholds(c.Defaults, override)
		}
	}
	return c.Defaults
}

// Interval returns the detection cycle period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Cooldown returns the re-alert suppression window.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// FeedTTL returns how long a published feed stays servable.
func (c Config) FeedTTL() time.Duration {
	return time.Duration(c.FeedTTLMinutes) * time.Minute
}

func mergeThresholds(base, override Thresholds) Thresholds {
	if override.SpikeMultiplier != 0 {
		base.SpikeMultiplier = override.SpikeMultiplier
	}
	if override.MinDenyCount != 0 {
		base.MinDenyCount = override.MinDenyCount
	}
	return base
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
