// Package config provides configuration loading from YAML files.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Spotify  SpotifyConfig  `yaml:"spotify"`
	Playback PlaybackConfig `yaml:"playback"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ServerConfig represents the control API server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr" default:"127.0.0.1:8090"`
}

// SpotifyConfig represents Spotify API configuration. The app is a public
// (PKCE) client: only the client ID and the registered redirect target are
// needed, and both are required before any auth flow begins.
type SpotifyConfig struct {
	ClientID    string `yaml:"client_id" validate:"required"`
	RedirectURI string `yaml:"redirect_uri" validate:"required,url"`
}

// PlaybackConfig represents polling and session timing configuration.
type PlaybackConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms" default:"5000" validate:"gte=1000,lte=60000"`
	TickIntervalMs int `yaml:"tick_interval_ms" default:"500" validate:"gte=100,lte=5000"`
}

// StorageConfig represents where persisted state lives.
type StorageConfig struct {
	CredentialFile string `yaml:"credential_file" default:"data/credential.json"`
	PlanFile       string `yaml:"plan_file" default:"data/plan.json"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
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
	if v := os.Getenv("SPOTIFY_REDIRECT_URI"); v != "" {
		c.Spotify.RedirectURI = v
	}
}

// Validate validates the configuration. Missing Spotify settings are fatal
// here, before any auth flow is attempted.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}
