// Package config handles edge node configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level edge node configuration.
type Config struct {
	Edge    EdgeConfig    `json:"edge"`
	Logic   LogicConfig   `json:"logic"`
	Auth    AuthConfig    `json:"auth"`
	Logging LoggingConfig `json:"logging"`
}

// EdgeConfig identifies this node and its client listener.
type EdgeConfig struct {
	Name string `json:"name"` // defaults to the hostname
	Addr string `json:"addr"`
}

// LogicConfig defines how the edge reaches the logic tier: the agent link
// WebSocket targets and the HTTP API.
type LogicConfig struct {
	LinkTargets  string   `json:"link_targets"` // comma-separated ws:// URLs
	APIURL       string   `json:"api_url"`
	ServiceToken string   `json:"service_token"`
	BackoffMin   Duration `json:"backoff_min,omitempty"`
	BackoffMax   Duration `json:"backoff_max,omitempty"`
}

// AuthConfig selects client token validation. Mode "none" accepts anonymous
// connections only.
type AuthConfig struct {
	Mode       string `json:"mode"` // "hs256" (default), "jwks", or "none"
	JWTSecret  string `json:"jwt_secret,omitempty"`
	JWKSIssuer string `json:"jwks_issuer,omitempty"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Duration is a JSON-friendly time.Duration (accepts strings like "30s", "5m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Logic.LinkTargets == "" {
		return fmt.Errorf("logic.link_targets is required")
	}
	if c.Logic.APIURL == "" {
		return fmt.Errorf("logic.api_url is required")
	}
	if c.Logic.ServiceToken == "" {
		return fmt.Errorf("logic.service_token is required")
	}
	switch c.Auth.Mode {
	case "hs256":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required for hs256 mode")
		}
	case "jwks":
		if c.Auth.JWKSIssuer == "" {
			return fmt.Errorf("auth.jwks_issuer is required for jwks mode")
		}
	case "none":
	default:
		return fmt.Errorf("auth.mode must be hs256, jwks, or none")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Edge.Name == "" {
		if host, err := os.Hostname(); err == nil {
			c.Edge.Name = host
		} else {
			c.Edge.Name = "edge"
		}
	}
	if c.Edge.Addr == "" {
		c.Edge.Addr = ":7070"
	}
	if c.Logic.BackoffMin.Duration == 0 {
		c.Logic.BackoffMin.Duration = 1 * time.Second
	}
	if c.Logic.BackoffMax.Duration == 0 {
		c.Logic.BackoffMax.Duration = 30 * time.Second
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "hs256"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
