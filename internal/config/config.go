package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Session   SessionConfig   `yaml:"session"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig points at the history database. An empty host keeps
// history in memory.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

// SessionConfig holds the defaults applied to sessions created without
// explicit targets.
type SessionConfig struct {
	Reps      int     `yaml:"reps"`
	Sets      int     `yaml:"sets"`
	Countdown int     `yaml:"countdown_seconds"`
	MinScore  float64 `yaml:"min_score"`
	// MaxLive caps the number of concurrently running sessions.
	MaxLive int `yaml:"max_live"`
}

type CatalogConfig struct {
	// Path to a YAML exercise catalog. Empty uses the built-in catalog.
	Path string `yaml:"path"`
}

// Enabled reports whether a history database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Load reads config from a YAML file, then applies environment variable overrides.
// Env vars use the prefix REHABREPS_ and underscore-separated paths:
//
//	REHABREPS_SERVER_HOST, REHABREPS_SERVER_PORT,
//	REHABREPS_DB_HOST, REHABREPS_DB_PORT, REHABREPS_DB_NAME,
//	REHABREPS_DB_USER, REHABREPS_DB_PASSWORD, REHABREPS_DB_SSLMODE,
//	REHABREPS_AUTH_API_KEY,
//	REHABREPS_TAILSCALE_ENABLED, REHABREPS_TAILSCALE_HOSTNAME, REHABREPS_TAILSCALE_STATE_DIR,
//	REHABREPS_SESSION_REPS, REHABREPS_SESSION_SETS, REHABREPS_CATALOG_PATH
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REHABREPS_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("REHABREPS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REHABREPS_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("REHABREPS_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("REHABREPS_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("REHABREPS_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("REHABREPS_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("REHABREPS_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("REHABREPS_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("REHABREPS_TAILSCALE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = enabled
		}
	}
	if v := os.Getenv("REHABREPS_TAILSCALE_HOSTNAME"); v != "" {
		cfg.Tailscale.Hostname = v
	}
	if v := os.Getenv("REHABREPS_TAILSCALE_STATE_DIR"); v != "" {
		cfg.Tailscale.StateDir = v
	}
	if v := os.Getenv("REHABREPS_SESSION_REPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.Reps = n
		}
	}
	if v := os.Getenv("REHABREPS_SESSION_SETS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.Sets = n
		}
	}
	if v := os.Getenv("REHABREPS_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
}

func (c *Config) applyDefaults() {
	if c.Session.Reps == 0 {
		c.Session.Reps = 5
	}
	if c.Session.Sets == 0 {
		c.Session.Sets = 3
	}
	if c.Session.Countdown == 0 {
		c.Session.Countdown = 3
	}
	if c.Session.MinScore == 0 {
		c.Session.MinScore = 0.5
	}
	if c.Session.MaxLive == 0 {
		c.Session.MaxLive = 32
	}
	if c.Tailscale.Hostname == "" {
		c.Tailscale.Hostname = "rehabreps"
	}
}

func (c *Config) validate() error {
	if c.Server.Port == 0 && !c.Tailscale.Enabled {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Enabled() {
		if c.Database.Port == 0 {
			return fmt.Errorf("database.port is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Tailscale.Enabled && c.Tailscale.StateDir == "" {
		return fmt.Errorf("tailscale.state_dir is required when tailscale is enabled")
	}
	if c.Session.Reps < 0 || c.Session.Sets < 0 || c.Session.Countdown < 0 {
		return fmt.Errorf("session defaults must not be negative")
	}
	if c.Session.MinScore < 0 || c.Session.MinScore > 1 {
		return fmt.Errorf("session.min_score must be within [0, 1]")
	}
	return nil
}
