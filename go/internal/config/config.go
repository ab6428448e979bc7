// Package config loads gateway settings from the environment, with an
// optional YAML file layered on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration
type Config struct {
	Port      string `env:"GATEWAY_PORT" envDefault:"8081" yaml:"port"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console" yaml:"log_format"`

	// Empty NATSURL disables snapshot publishing
	NATSURL           string `env:"NATS_URL" yaml:"nats_url"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"herobyte.rooms" yaml:"nats_subject_prefix"`

	BroadcastQuantum time.Duration `env:"BROADCAST_QUANTUM" envDefault:"16ms" yaml:"broadcast_quantum"`
	MailboxSize      int           `env:"ROOM_MAILBOX_SIZE" envDefault:"1024" yaml:"room_mailbox_size"`
	SaveTimeout      time.Duration `env:"SAVE_TIMEOUT" envDefault:"5s" yaml:"save_timeout"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*" yaml:"allowed_origins"`

	// File is the YAML overlay path; it is never read from the file itself
	File string `env:"ROOMS_CONFIG" yaml:"-"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the environment, applies the YAML file named by ROOMS_CONFIG
// if set, and validates the result
func Load() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}

	if cfg.File != "" {
		if err := cfg.overlay(cfg.File); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overlay applies keys present in the YAML file over the current values
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate reports settings the gateway cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log format %q: want console or json", c.LogFormat))
	}
	if c.BroadcastQuantum <= 0 {
		errs = append(errs, fmt.Errorf("broadcast quantum must be positive, got %s", c.BroadcastQuantum))
	}
	if c.MailboxSize <= 0 {
		errs = append(errs, fmt.Errorf("room mailbox size must be positive, got %d", c.MailboxSize))
	}
	if c.SaveTimeout <= 0 {
		errs = append(errs, fmt.Errorf("save timeout must be positive, got %s", c.SaveTimeout))
	}
	return errors.Join(errs...)
}

// AllowsAnyOrigin reports whether CORS and the websocket origin check are open
func (c *Config) AllowsAnyOrigin() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return len(c.AllowedOrigins) == 0
}
