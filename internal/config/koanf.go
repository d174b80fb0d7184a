// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cubo/config.yaml",
	"/etc/cubo/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            4000,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ServiceName:     "cubo-api",
			Environment:     "development",
		},
		Warehouse: WarehouseConfig{
			Driver:           DriverMySQL,
			Host:             "",
			Port:             3306,
			ConnectionLimit:  50,
			QueueLimit:       200,
			ConnectTimeoutMs: 20000,
			Charset:          "utf8mb4",
		},
		Query: QueryConfig{
			DefaultTimeoutMs:  300000,
			LookupTimeoutMs:   30000,
			PivotTimeoutMs:    300000,
			InitRetryInterval: 5 * time.Second,
		},
		Cache: CacheConfig{
			SweepInterval:       5 * time.Minute,
			CatalogTTL:          30 * time.Minute,
			YearsTTL:            10 * time.Minute,
			StaticDimensionTTL:  15 * time.Minute,
			DynamicDimensionTTL: 5 * time.Minute,
			QueryTTL:            2 * time.Minute,
		},
		Pivot: PivotConfig{
			FactTable: "atenciones",
		},
		Store: StoreConfig{
			Path: "/data/cubo",
		},
		Security: SecurityConfig{
			CORSOrigins:      []string{"*"},
			RateLimitGlobal:  300,
			RateLimitCatalog: 60,
			RateLimitPivot:   10,
			RateLimitWindow:  time.Minute,
			MaxBodyBytes:     1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads configuration from three layers, later layers winning:
//  1. defaultConfig
//  2. optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. environment variables mapped by envTransformFunc
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			continue
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// The MYSQL_* names are the ones the warehouse operators already use.
var envMappings = map[string]string{
	// Server
	"http_port":        "server.port",
	"http_host":        "server.host",
	"http_timeout":     "server.timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"service_name":     "server.service_name",
	"environment":      "server.environment",
	"node_env":         "server.environment",

	// Warehouse seed
	"db_driver":              "warehouse.driver",
	"mysql_host":             "warehouse.host",
	"mysql_port":             "warehouse.port",
	"mysql_user":             "warehouse.user",
	"mysql_password":         "warehouse.password",
	"mysql_database":         "warehouse.database",
	"mysql_ssl":              "warehouse.tls",
	"mysql_ssl_skip_verify":  "warehouse.tls_skip_verify",
	"mysql_connection_limit": "warehouse.connection_limit",
	"mysql_queue_limit":      "warehouse.queue_limit",
	"mysql_connect_timeout":  "warehouse.connect_timeout_ms",
	"mysql_charset":          "warehouse.charset",

	// Query deadlines
	"mysql_query_timeout":     "query.default_timeout_ms",
	"lookup_query_timeout":    "query.lookup_timeout_ms",
	"pivot_query_timeout":     "query.pivot_timeout_ms",
	"pool_init_retry_interval": "query.init_retry_interval",

	// Cache
	"cache_sweep_interval":        "cache.sweep_interval",
	"cache_catalog_ttl":           "cache.catalog_ttl",
	"cache_years_ttl":             "cache.years_ttl",
	"cache_static_dimension_ttl":  "cache.static_dimension_ttl",
	"cache_dynamic_dimension_ttl": "cache.dynamic_dimension_ttl",
	"cache_query_ttl":             "cache.query_ttl",

	// Pivot
	"pivot_fact_table": "pivot.fact_table",

	// Store
	"store_path":      "store.path",
	"store_in_memory": "store.in_memory",

	// Security
	"cubo_secret":         "security.secret",
	"cors_origins":        "security.cors_origins",
	"rate_limit_global":   "security.rate_limit_global",
	"rate_limit_catalog":  "security.rate_limit_catalog",
	"rate_limit_pivot":    "security.rate_limit_pivot",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"max_body_bytes":      "security.max_body_bytes",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc returns the koanf path for an environment variable, or ""
// to ignore it. Unmapped variables are dropped so unrelated environment does
// not leak into the config tree.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
