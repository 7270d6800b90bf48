package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Backend      string             `yaml:"backend"` // memory, postgres; inferred from DATABASE_URL when empty
	Database     DatabaseConfig     `yaml:"database"`
	Electric     ElectricConfig     `yaml:"electric"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"` // Must outlast proxied long polls
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type ElectricConfig struct {
	URL          string `yaml:"url"`
	SourceID     string `yaml:"source_id"`
	SourceSecret string `yaml:"source_secret"`
}

type ConfirmationConfig struct {
	Timeout time.Duration `yaml:"timeout"` // 0 waits forever
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // Optional: also write to a rotated file
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":3000",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database:     DatabaseConfig{MaxConns: 10},
		Confirmation: ConfirmationConfig{Timeout: 30 * time.Second},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path uses defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	for name, target := range map[string]*string{
		"DATABASE_URL":           &c.Database.URL,
		"ELECTRIC_URL":           &c.Electric.URL,
		"ELECTRIC_SOURCE_ID":     &c.Electric.SourceID,
		"ELECTRIC_SOURCE_SECRET": &c.Electric.SourceSecret,
	} {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*target = v
		}
	}

	// A database URL without an explicit backend means postgres.
	if c.Backend == "" {
		c.Backend = BackendMemory
		if c.Database.URL != "" {
			c.Backend = BackendPostgres
		}
	}
}

// Validate reports every problem with the config at once.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.Server.Addr == "" {
		errs = multierror.Append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ReadHeaderTimeout < 0 {
		errs = multierror.Append(errs, errors.New("server.read_header_timeout must not be negative"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = multierror.Append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = multierror.Append(errs, errors.New("database.url (or DATABASE_URL) is required for the postgres backend"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Backend))
	}
	if c.Database.MaxConns < 0 {
		errs = multierror.Append(errs, errors.New("database.max_conns must not be negative"))
	}

	if c.Electric.URL != "" {
		if c.Electric.SourceID == "" {
			errs = multierror.Append(errs, errors.New("electric.source_id (or ELECTRIC_SOURCE_ID) is required with electric.url"))
		}
		if c.Electric.SourceSecret == "" {
			errs = multierror.Append(errs, errors.New("electric.source_secret (or ELECTRIC_SOURCE_SECRET) is required with electric.url"))
		}
	}

	if c.Confirmation.Timeout < 0 {
		errs = multierror.Append(errs, errors.New("confirmation.timeout must not be negative"))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errs.ErrorOrNil()
}
