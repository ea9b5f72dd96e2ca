// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the editions server configuration.
//
// Configuration comes from a YAML or TOML file (picked by extension),
// then SQE_* environment variables, and is validated before use. Every
// field has a default, so the server also runs without a file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/pkg/validation"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/realtime"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/resilience"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage/badger"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage/sqlite"
)

// Environment overrides.
const (
	EnvPort           = "SQE_PORT"
	EnvStorageBackend = "SQE_STORAGE_BACKEND"
	EnvStoragePath    = "SQE_STORAGE_PATH"
	EnvLogLevel       = "SQE_LOG_LEVEL"
	EnvOTelEndpoint   = "SQE_OTEL_ENDPOINT"
)

// Storage backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig             `yaml:"server" toml:"server"`
	Storage   StorageConfig            `yaml:"storage" toml:"storage"`
	Editions  editions.ServiceConfig   `yaml:"editions" toml:"editions"`
	Retry     resilience.RetryConfig   `yaml:"retry" toml:"retry"`
	Breaker   resilience.BreakerConfig `yaml:"breaker" toml:"breaker"`
	Realtime  realtime.Config          `yaml:"realtime" toml:"realtime"`
	Auth      AuthConfig               `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig            `yaml:"logging" toml:"logging"`
	Telemetry TelemetryConfig          `yaml:"telemetry" toml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port" validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" validate:"gt=0"`
}

// StorageConfig selects and configures the store.
type StorageConfig struct {
	Backend string        `yaml:"backend" toml:"backend" validate:"oneof=badger sqlite"`
	Badger  badger.Config `yaml:"badger" toml:"badger"`
	SQLite  sqlite.Config `yaml:"sqlite" toml:"sqlite"`
}

// Path returns the data path of the selected backend.
func (s StorageConfig) Path() string {
	if s.Backend == BackendSQLite {
		return s.SQLite.Path
	}
	return s.Badger.Path
}

// AuthConfig configures edition permissions.
//
// Mode "open" lets everyone write. Mode "editors" allows writes only to
// the listed grants; reads stay open.
type AuthConfig struct {
	Mode   string        `yaml:"mode" toml:"mode" validate:"oneof=open editors"`
	Grants []EditorGrant `yaml:"grants,omitempty" toml:"grants,omitempty" validate:"dive"`
}

// EditorGrant gives a user access to one edition.
type EditorGrant struct {
	Edition uint64 `yaml:"edition" toml:"edition" validate:"gte=1"`
	User    string `yaml:"user" toml:"user" validate:"required"`
	Access  string `yaml:"access" toml:"access" validate:"oneof=read write admin"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=auto text json"`
	Dir    string `yaml:"dir" toml:"dir"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	// ServiceName is reported on every span.
	ServiceName string `yaml:"service_name" toml:"service_name" validate:"required"`

	// OTLPEndpoint is a gRPC collector address. Empty disables OTLP.
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`

	// Stdout prints spans and metrics to stdout when no collector is set.
	Stdout bool `yaml:"stdout" toml:"stdout"`
}

// Default returns a configuration that runs a Badger store under
// ./data/editions on port 12310.
func Default() Config {
	bcfg := badger.DefaultConfig()
	bcfg.Path = filepath.Join("data", "editions")
	return Config{
		Server: ServerConfig{
			Port:            12310,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Backend: BackendBadger,
			Badger:  bcfg,
			SQLite:  sqlite.DefaultConfig(),
		},
		Editions: editions.DefaultServiceConfig(),
		Retry:    resilience.DefaultRetryConfig(),
		Breaker:  resilience.DefaultBreakerConfig(),
		Realtime: realtime.DefaultConfig(),
		Auth:     AuthConfig{Mode: "open"},
		Logging:  LoggingConfig{Level: "info", Format: "auto"},
		Telemetry: TelemetryConfig{
			ServiceName: "sqe-editions",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvPort); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := os.LookupEnv(EnvStorageBackend); ok {
		cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := os.LookupEnv(EnvStoragePath); ok {
		if cfg.Storage.Backend == BackendSQLite {
			cfg.Storage.SQLite.Path = v
		} else {
			cfg.Storage.Badger.Path = v
		}
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := os.LookupEnv(EnvOTelEndpoint); ok {
		cfg.Telemetry.OTLPEndpoint = strings.TrimSpace(v)
	}
	return nil
}

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if c.Storage.Backend == BackendBadger && !c.Storage.Badger.InMemory && c.Storage.Badger.Path == "" {
		return fmt.Errorf("invalid configuration: storage.badger.path is required")
	}
	for _, g := range c.Auth.Grants {
		if _, err := editions.ParseAccess(g.Access); err != nil {
			return fmt.Errorf("invalid configuration: grant for %s: %w", g.User, err)
		}
	}
	return nil
}

// Authorizer builds the authorizer described by Auth.
func (c *Config) Authorizer() editions.Authorizer {
	if c.Auth.Mode != "editors" {
		return editions.AllowAll{}
	}
	acl := editions.NewEditorList()
	for _, g := range c.Auth.Grants {
		access, _ := editions.ParseAccess(g.Access)
		acl.Grant(g.Edition, g.User, access)
	}
	return acl
}

// WriteDefault writes the default configuration to path, creating the
// directory. The format follows the extension.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	cfg := Default()
	var buf bytes.Buffer
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	case ".toml":
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
