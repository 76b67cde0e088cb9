// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from
// switchboard.yaml.
type Config struct {
	Site       string           `yaml:"site"` // chat server base URL, e.g. https://chat.example.com
	Channel    string           `yaml:"channel"`
	Identities IdentitiesConfig `yaml:"identities"`
	DB         DBConfig         `yaml:"db"`
	Bridge     BridgeConfig     `yaml:"bridge"`
}

// IdentitiesConfig holds the two credential sets the bridge switches
// between: the human operator and the service agent bot.
type IdentitiesConfig struct {
	Operator CredentialConfig `yaml:"operator"`
	Agent    CredentialConfig `yaml:"agent"`
}

// CredentialConfig is one email/API-key pair for the chat server.
type CredentialConfig struct {
	Email  string `yaml:"email"`
	APIKey string `yaml:"api_key"`
}

// DBConfig selects and configures the store backend.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// BridgeConfig tunes the daemon: listener polling, wait retry cadence,
// digest schedule, and the operational API port.
type BridgeConfig struct {
	PollWaitSec     int    `yaml:"poll_wait_sec"`    // long-poll bound for the listener
	WaitIntervalMs  int    `yaml:"wait_interval_ms"` // store re-check cadence for input waits
	RegisterRetries int    `yaml:"register_retries"` // registration attempts before Failed
	DigestCron      string `yaml:"digest_cron"`      // 5-field cron; empty disables digests
	APIPort         int    `yaml:"api_port"`
	DevOverride     bool   `yaml:"dev_override"` // force delivery regardless of presence
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Channel == "" {
		c.Channel = "agents"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Driver == "sqlite" && c.DB.Path == "" {
		c.DB.Path = "switchboard.db"
	}
	if c.DB.Driver == "mysql" {
		if c.DB.Host == "" {
			c.DB.Host = "127.0.0.1"
		}
		if c.DB.Port == 0 {
			c.DB.Port = 3306
		}
		if c.DB.Database == "" {
			c.DB.Database = "switchboard"
		}
	}
	if c.Bridge.PollWaitSec == 0 {
		c.Bridge.PollWaitSec = 30
	}
	if c.Bridge.WaitIntervalMs == 0 {
		c.Bridge.WaitIntervalMs = 500
	}
	if c.Bridge.RegisterRetries == 0 {
		c.Bridge.RegisterRetries = 5
	}
	if c.Bridge.APIPort == 0 {
		c.Bridge.APIPort = 8484
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Site == "" {
		errs = append(errs, "site is required")
	}
	if c.Identities.Agent.Email == "" {
		errs = append(errs, "identities.agent.email is required")
	}
	if c.Identities.Agent.APIKey == "" {
		errs = append(errs, "identities.agent.api_key is required")
	}
	if c.DB.Driver != "sqlite" && c.DB.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("db.driver must be sqlite or mysql, got %q", c.DB.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
