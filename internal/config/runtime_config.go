// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package config

import (
	"errors"
	"fmt"

	"github.com/saludbi/cubo/internal/validation"
)

// Supported warehouse drivers.
const (
	DriverMySQL  = "mysql"
	DriverDuckDB = "duckdb"
)

const minConnectTimeoutMs = 100

var (
	// ErrConfigMissing means no warehouse configuration was saved and no
	// environment seed is present. The pool must stay unconfigured.
	ErrConfigMissing = errors.New("warehouse configuration missing")

	// ErrConfigInvalid means a configuration exists but cannot be used:
	// it failed to decode, decrypt, or validate.
	ErrConfigInvalid = errors.New("warehouse configuration invalid")
)

// RuntimeDBConfig is the warehouse connection the pool is built from.
// Exactly one instance is current at a time; see RuntimeStore.
type RuntimeDBConfig struct {
	Driver   string `json:"driver" validate:"required,oneof=mysql duckdb"`
	Host     string `json:"host" validate:"max=255"`
	Port     int    `json:"port" validate:"gte=0,lte=65535"`
	Username string `json:"username" validate:"max=128"`
	Password string `json:"password,omitempty" validate:"max=256"`

	// Database is the schema name for mysql and the file path for duckdb
	// (empty means in-memory).
	Database string `json:"database" validate:"max=1024"`

	TLSEnabled bool `json:"tls_enabled"`

	// TLSSkipVerify accepts self-signed certificates. Ignored unless TLSEnabled.
	TLSSkipVerify bool `json:"tls_skip_verify"`

	MaxConnections   int    `json:"max_connections" validate:"gte=1,lte=1000"`
	MaxQueueDepth    int    `json:"max_queue_depth" validate:"gte=0,lte=100000"`
	ConnectTimeoutMs int    `json:"connect_timeout_ms" validate:"gte=100,lte=600000"`
	Charset          string `json:"charset" validate:"omitempty,alphanum,max=32"`
}

// Validate checks field ranges and driver specific requirements.
// Failures wrap ErrConfigInvalid.
func (c RuntimeDBConfig) Validate() error {
	if verr := validation.ValidateStruct(&c); verr != nil {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, verr.Error())
	}
	if c.Driver == DriverMySQL {
		switch {
		case c.Host == "":
			return fmt.Errorf("%w: host is required for mysql", ErrConfigInvalid)
		case c.Port == 0:
			return fmt.Errorf("%w: port is required for mysql", ErrConfigInvalid)
		case c.Username == "":
			return fmt.Errorf("%w: username is required for mysql", ErrConfigInvalid)
		case c.Database == "":
			return fmt.Errorf("%w: database is required for mysql", ErrConfigInvalid)
		}
	}
	return nil
}

// Target describes where the config points, without credentials.
func (c RuntimeDBConfig) Target() string {
	if c.Driver == DriverDuckDB {
		if c.Database == "" {
			return "duckdb::memory:"
		}
		return "duckdb:" + c.Database
	}
	return fmt.Sprintf("mysql://%s@%s:%d/%s", c.Username, c.Host, c.Port, c.Database)
}

// Redacted returns a copy with the password removed.
func (c RuntimeDBConfig) Redacted() RuntimeDBConfig {
	c.Password = ""
	return c
}

// Seed converts the environment warehouse settings into a runtime config.
// ok is false when the environment does not describe a warehouse at all.
func (w WarehouseConfig) Seed() (cfg RuntimeDBConfig, ok bool) {
	if w.Driver == DriverMySQL && w.Host == "" {
		return RuntimeDBConfig{}, false
	}
	return RuntimeDBConfig{
		Driver:           w.Driver,
		Host:             w.Host,
		Port:             w.Port,
		Username:         w.User,
		Password:         w.Password,
		Database:         w.Database,
		TLSEnabled:       w.TLS,
		TLSSkipVerify:    w.TLSSkipVerify,
		MaxConnections:   w.ConnectionLimit,
		MaxQueueDepth:    w.QueueLimit,
		ConnectTimeoutMs: w.ConnectTimeoutMs,
		Charset:          w.Charset,
	}, true
}
