// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/saludbi/cubo/internal/validation"
)

// minProductionSecretLength is the minimum CUBO_SECRET length in production.
const minProductionSecretLength = 32

// Validate checks that the loaded configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateWarehouse(); err != nil {
		return err
	}
	if err := c.validateQuery(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validatePivot(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Environment {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("ENVIRONMENT must be one of development, staging, production, test, got %q", c.Server.Environment)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

// validateWarehouse only checks shapes; an empty host simply means there is
// no seed and the service starts unconfigured.
func (c *Config) validateWarehouse() error {
	w := c.Warehouse
	if w.Driver != DriverMySQL && w.Driver != DriverDuckDB {
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverMySQL, DriverDuckDB, w.Driver)
	}
	if w.ConnectionLimit < 1 {
		return fmt.Errorf("MYSQL_CONNECTION_LIMIT must be at least 1, got %d", w.ConnectionLimit)
	}
	if w.QueueLimit < 0 {
		return fmt.Errorf("MYSQL_QUEUE_LIMIT must not be negative, got %d", w.QueueLimit)
	}
	if w.ConnectTimeoutMs < minConnectTimeoutMs {
		return fmt.Errorf("MYSQL_CONNECT_TIMEOUT must be at least %dms, got %d", minConnectTimeoutMs, w.ConnectTimeoutMs)
	}
	return nil
}

func (c *Config) validateQuery() error {
	q := c.Query
	if q.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("MYSQL_QUERY_TIMEOUT must be positive, got %d", q.DefaultTimeoutMs)
	}
	if q.LookupTimeoutMs <= 0 || q.PivotTimeoutMs <= 0 {
		return fmt.Errorf("lookup and pivot query timeouts must be positive")
	}
	if q.LookupTimeoutMs > q.PivotTimeoutMs {
		return fmt.Errorf("LOOKUP_QUERY_TIMEOUT (%dms) must not exceed PIVOT_QUERY_TIMEOUT (%dms)",
			q.LookupTimeoutMs, q.PivotTimeoutMs)
	}
	if q.InitRetryInterval < 0 {
		return fmt.Errorf("POOL_INIT_RETRY_INTERVAL must not be negative")
	}
	return nil
}

func (c *Config) validateCache() error {
	ttls := map[string]time.Duration{
		"CACHE_SWEEP_INTERVAL":        c.Cache.SweepInterval,
		"CACHE_CATALOG_TTL":           c.Cache.CatalogTTL,
		"CACHE_YEARS_TTL":             c.Cache.YearsTTL,
		"CACHE_STATIC_DIMENSION_TTL":  c.Cache.StaticDimensionTTL,
		"CACHE_DYNAMIC_DIMENSION_TTL": c.Cache.DynamicDimensionTTL,
		"CACHE_QUERY_TTL":             c.Cache.QueryTTL,
	}
	for name, d := range ttls {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	return nil
}

func (c *Config) validatePivot() error {
	// The table name is interpolated into SQL, so it must be a plain identifier.
	if !validation.IsIdentifier(c.Pivot.FactTable) {
		return fmt.Errorf("PIVOT_FACT_TABLE must be a lower snake case identifier, got %q", c.Pivot.FactTable)
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required unless STORE_IN_MEMORY=true")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	s := c.Security
	if c.Server.IsProduction() && len(s.Secret) < minProductionSecretLength {
		return fmt.Errorf("CUBO_SECRET must be at least %d characters in production", minProductionSecretLength)
	}
	if !s.RateLimitDisabled {
		if s.RateLimitGlobal < 1 || s.RateLimitCatalog < 1 || s.RateLimitPivot < 1 {
			return fmt.Errorf("rate limits must be at least 1 request per window")
		}
		if s.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
		}
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive")
	}
	if c.Server.IsProduction() {
		for _, o := range s.CORSOrigins {
			if o == "*" {
				return fmt.Errorf("CORS_ORIGINS must list explicit origins in production")
			}
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
