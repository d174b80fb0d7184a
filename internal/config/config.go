// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

// Package config loads process configuration and owns the runtime
// (operator-mutable) warehouse connection settings.
//
// Process configuration is layered with Koanf: struct defaults, then an
// optional YAML file, then environment variables. The warehouse connection
// is different: it is persisted in BadgerDB by RuntimeStore and can be
// replaced at runtime without a restart. The MYSQL_* environment variables
// only provide the seed used until an operator saves a configuration.
package config

import (
	"time"
)

// Config is the top-level process configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Warehouse WarehouseConfig `koanf:"warehouse"`
	Query     QueryConfig     `koanf:"query"`
	Cache     CacheConfig     `koanf:"cache"`
	Pivot     PivotConfig     `koanf:"pivot"`
	Store     StoreConfig     `koanf:"store"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	ServiceName     string        `koanf:"service_name"`
	Environment     string        `koanf:"environment"` // development, staging, production
}

// IsProduction reports whether the server runs in production mode.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// WarehouseConfig is the environment seed for the warehouse connection.
// It is only used while no runtime configuration has been saved.
type WarehouseConfig struct {
	Driver           string `koanf:"driver"`
	Host             string `koanf:"host"`
	Port             int    `koanf:"port"`
	User             string `koanf:"user"`
	Password         string `koanf:"password"`
	Database         string `koanf:"database"`
	TLS              bool   `koanf:"tls"`
	TLSSkipVerify    bool   `koanf:"tls_skip_verify"`
	ConnectionLimit  int    `koanf:"connection_limit"`
	QueueLimit       int    `koanf:"queue_limit"`
	ConnectTimeoutMs int    `koanf:"connect_timeout_ms"`
	Charset          string `koanf:"charset"`
}

// QueryConfig holds per-call deadlines for warehouse queries, in milliseconds.
type QueryConfig struct {
	// DefaultTimeoutMs applies when a caller passes no timeout (MYSQL_QUERY_TIMEOUT).
	DefaultTimeoutMs int `koanf:"default_timeout_ms"`

	// LookupTimeoutMs bounds catalog lookups (years, dimension values).
	LookupTimeoutMs int `koanf:"lookup_timeout_ms"`

	// PivotTimeoutMs bounds pivot aggregations.
	PivotTimeoutMs int `koanf:"pivot_timeout_ms"`

	// InitRetryInterval throttles lazy pool initialization after a failure.
	InitRetryInterval time.Duration `koanf:"init_retry_interval"`
}

// DefaultTimeout returns DefaultTimeoutMs as a duration.
func (q QueryConfig) DefaultTimeout() time.Duration {
	return time.Duration(q.DefaultTimeoutMs) * time.Millisecond
}

// LookupTimeout returns LookupTimeoutMs as a duration.
func (q QueryConfig) LookupTimeout() time.Duration {
	return time.Duration(q.LookupTimeoutMs) * time.Millisecond
}

// PivotTimeout returns PivotTimeoutMs as a duration.
func (q QueryConfig) PivotTimeout() time.Duration {
	return time.Duration(q.PivotTimeoutMs) * time.Millisecond
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	SweepInterval       time.Duration `koanf:"sweep_interval"`
	CatalogTTL          time.Duration `koanf:"catalog_ttl"`
	YearsTTL            time.Duration `koanf:"years_ttl"`
	StaticDimensionTTL  time.Duration `koanf:"static_dimension_ttl"`
	DynamicDimensionTTL time.Duration `koanf:"dynamic_dimension_ttl"`
	QueryTTL            time.Duration `koanf:"query_ttl"`
}

// PivotConfig describes the warehouse schema the pivot engine queries.
type PivotConfig struct {
	FactTable string `koanf:"fact_table"`
}

// StoreConfig configures the BadgerDB store holding runtime configuration.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// SecurityConfig holds CORS, rate limiting and secret settings.
type SecurityConfig struct {
	// Secret derives the key that encrypts stored warehouse passwords.
	Secret string `koanf:"secret"`

	CORSOrigins []string `koanf:"cors_origins"`

	RateLimitGlobal   int           `koanf:"rate_limit_global"`
	RateLimitCatalog  int           `koanf:"rate_limit_catalog"`
	RateLimitPivot    int           `koanf:"rate_limit_pivot"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// developmentSecret is used outside production when CUBO_SECRET is unset.
const developmentSecret = "cubo-development-secret-do-not-use-in-production"

// EncryptionSecret returns the configured secret, falling back to a fixed
// development value outside production. Validate rejects an empty secret
// in production.
func (c *Config) EncryptionSecret() string {
	if c.Security.Secret != "" {
		return c.Security.Secret
	}
	return developmentSecret
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration using the layered Koanf loader.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
