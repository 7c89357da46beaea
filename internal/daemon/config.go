// Package daemon manages the MediaGate daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Bot         BotConfig         `toml:"bot"`
	API         APIConfig         `toml:"api"`
	Entitlement EntitlementConfig `toml:"entitlement"`
	Shortlink   ShortlinkConfig   `toml:"shortlink"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Logging     LoggingConfig     `toml:"logging"`
}

// BotConfig identifies the bot the deep links point at.
type BotConfig struct {
	Username string `toml:"username"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// EntitlementConfig controls gate policy. Durations are Go duration strings.
type EntitlementConfig struct {
	FreeDailyLimit    int    `toml:"free_daily_limit"`
	VerifyWindow      string `toml:"verify_window"`
	TokenTTL          string `toml:"token_ttl"`
	ReferralReward    int64  `toml:"referral_reward"`
	PremiumThreshold  int64  `toml:"premium_threshold"`
	PremiumRewardDays int    `toml:"premium_reward_days"`
	Timezone          string `toml:"timezone"`
}

// ShortlinkConfig points at the monetized redirect service. Empty URL or key
// disables wrapping — deep links go out unwrapped.
type ShortlinkConfig struct {
	URL     string `toml:"url"`
	APIKey  string `toml:"api_key"`
	Timeout string `toml:"timeout"`
}

// TelemetryConfig controls observability endpoints.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns the shipped defaults: 5 free files a day, a
// 10-minute challenge unlocking 6 hours, 50 points per referral, 1500 points
// for a premium month. Quota days roll over at midnight in the configured
// zone.
func DefaultConfig() Config {
	return Config{
		Bot: BotConfig{
			Username: "MediaGateBot",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8480,
		},
		Entitlement: EntitlementConfig{
			FreeDailyLimit:    5,
			VerifyWindow:      "6h",
			TokenTTL:          "10m",
			ReferralReward:    50,
			PremiumThreshold:  1500,
			PremiumRewardDays: 30,
			Timezone:          "Asia/Kolkata",
		},
		Shortlink: ShortlinkConfig{
			Timeout: "10s",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(gateHome(), "mediagate.log"),
		},
	}
}

// LoadConfig reads config from ~/.mediagate/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(gateHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.mediagate/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(gateHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// VerifyWindowDuration parses the verify window, defaulting to 6h.
func (c EntitlementConfig) VerifyWindowDuration() time.Duration {
	return parseDuration(c.VerifyWindow, 6*time.Hour)
}

// TokenTTLDuration parses the token TTL, defaulting to 10m.
func (c EntitlementConfig) TokenTTLDuration() time.Duration {
	return parseDuration(c.TokenTTL, 10*time.Minute)
}

// TimeoutDuration parses the shortlink timeout, defaulting to 10s.
func (c ShortlinkConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// gateHome returns the MediaGate data directory.
func gateHome() string {
	if env := os.Getenv("MEDIAGATE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mediagate")
}

// GateHome is exported for use by other packages.
func GateHome() string {
	return gateHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
