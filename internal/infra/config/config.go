// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Spotify SpotifyConfig `yaml:"spotify"`
	Sync    SyncConfig    `yaml:"sync"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig represents the coordination service connection.
type ServerConfig struct {
	URL              string `yaml:"url" validate:"required"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms" default:"2000" validate:"gte=100,lte=60000"`
}

// SpotifyConfig represents Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	RefreshToken string `yaml:"refresh_token" validate:"required"`
	DeviceName   string `yaml:"device_name"`
}

// SyncConfig represents listen-along synchronization tuning.
type SyncConfig struct {
	ToleranceSec        float64 `yaml:"tolerance_sec" default:"3" validate:"gt=0"`
	CooldownMs          int     `yaml:"cooldown_ms" default:"2000" validate:"gte=0"`
	PollIntervalMs      int     `yaml:"poll_interval_ms" default:"1000" validate:"gte=100"`
	AdPollIntervalMs    int     `yaml:"ad_poll_interval_ms" default:"100" validate:"gte=10"`
	BroadcastIntervalMs int     `yaml:"broadcast_interval_ms" default:"200" validate:"gte=200"`
	StatusRefreshMs     int     `yaml:"status_refresh_ms" default:"1000" validate:"gte=100"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("SPOTALONG_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// Tolerance returns the drift tolerance as seconds.
func (c *Config) Tolerance() float64 {
	return c.Sync.ToleranceSec
}

// Cooldown returns the correction cooldown window.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Sync.CooldownMs) * time.Millisecond
}

// PollInterval returns the steady-state sync loop cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sync.PollIntervalMs) * time.Millisecond
}

// AdPollInterval returns the ad-wait poll cadence.
func (c *Config) AdPollInterval() time.Duration {
	return time.Duration(c.Sync.AdPollIntervalMs) * time.Millisecond
}

// BroadcastInterval returns the minimum delay between state broadcasts.
func (c *Config) BroadcastInterval() time.Duration {
	return time.Duration(c.Sync.BroadcastIntervalMs) * time.Millisecond
}

// ReconnectDelay returns the websocket reconnect delay.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Server.ReconnectDelayMs) * time.Millisecond
}
