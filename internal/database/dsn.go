// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package database

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/saludbi/cubo/internal/config"
)

// duckDBMemoryDSN opens an in-memory DuckDB without runtime extension
// downloads.
const duckDBMemoryDSN = ":memory:?autoinstall_known_extensions=false&autoload_known_extensions=false"

// driverName maps a configured driver to its database/sql name.
func driverName(cfg config.RuntimeDBConfig) (string, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		return "mysql", nil
	case config.DriverDuckDB:
		return "duckdb", nil
	default:
		return "", fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

// BuildDSN returns the connection string for cfg.
//
// For mysql, TLSEnabled selects "true" (verified) or "skip-verify" when
// TLSSkipVerify is set. For duckdb, Database is the file path and an empty
// value opens an in-memory database.
func BuildDSN(cfg config.RuntimeDBConfig) (string, error) {
	switch cfg.Driver {
	case config.DriverDuckDB:
		if cfg.Database == "" {
			return duckDBMemoryDSN, nil
		}
		return cfg.Database, nil
	case config.DriverMySQL:
		return mysqlConfig(cfg).FormatDSN(), nil
	default:
		return "", fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func mysqlConfig(cfg config.RuntimeDBConfig) *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Timeout = time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond

	if cfg.Charset != "" {
		mc.Params = map[string]string{"charset": cfg.Charset}
	}
	if cfg.TLSEnabled {
		if cfg.TLSSkipVerify {
			mc.TLSConfig = "skip-verify"
		} else {
			mc.TLSConfig = "true"
		}
	}
	return mc
}
