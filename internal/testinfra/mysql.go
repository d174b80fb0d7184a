// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saludbi/cubo/internal/config"
	"github.com/saludbi/cubo/internal/database"
)

const (
	// DefaultMySQLImage is the MySQL server image used for warehouse tests.
	DefaultMySQLImage = "mysql:8.4"

	// DefaultMySQLPort is the server port inside the container.
	DefaultMySQLPort = "3306/tcp"

	DefaultMySQLDatabase = "salud_bi"
	DefaultMySQLUser     = "cubo"
	DefaultMySQLPassword = "cubo-test-password"
)

// FactTableSeed creates and fills a small atenciones fact table. Each entry
// is one statement; the mysql driver rejects multi-statement strings.
var FactTableSeed = []string{`
CREATE TABLE atenciones (
	id INT AUTO_INCREMENT PRIMARY KEY,
	anio INT NOT NULL,
	mes INT NOT NULL,
	region VARCHAR(64) NOT NULL,
	establecimiento VARCHAR(128) NOT NULL,
	sexo CHAR(1) NOT NULL,
	grupo_edad VARCHAR(16) NOT NULL,
	diagnostico VARCHAR(16) NOT NULL,
	paciente_id INT NOT NULL,
	edad INT NOT NULL,
	dias_estancia INT NOT NULL
)`, `
INSERT INTO atenciones
	(anio, mes, region, establecimiento, sexo, grupo_edad, diagnostico, paciente_id, edad, dias_estancia)
VALUES
	(2023, 1, 'Norte',  'Hospital Norte',  'F', '30-44', 'J06', 1, 35, 0),
	(2023, 2, 'Norte',  'Hospital Norte',  'M', '0-4',   'J06', 2, 3,  2),
	(2023, 5, 'Sur',    'Hospital Sur',    'F', '60+',   'I10', 3, 70, 5),
	(2024, 1, 'Sur',    'Posta Sur',       'M', '15-29', 'J06', 3, 71, 1),
	(2022, 3, 'Centro', 'Hospital Centro', 'F', '5-14',  'A09', 4, 8,  0)`,
}

// MySQLContainer is a running MySQL server plus the runtime config that
// reaches it from the test process.
type MySQLContainer struct {
	testcontainers.Container
	Config config.RuntimeDBConfig
}

// MySQLOption configures the MySQL container.
type MySQLOption func(*mysqlConfig)

type mysqlConfig struct {
	image        string
	seed         []string
	startTimeout time.Duration
	logger       log.Logger
}

// WithMySQLImage sets a custom MySQL image.
func WithMySQLImage(image string) MySQLOption {
	return func(c *mysqlConfig) {
		c.image = image
	}
}

// WithSeedStatements runs stmts, in order, once the server accepts
// connections.
func WithSeedStatements(stmts ...string) MySQLOption {
	return func(c *mysqlConfig) {
		c.seed = append(c.seed, stmts...)
	}
}

// WithStartTimeout bounds the wait for the server to come up.
func WithStartTimeout(timeout time.Duration) MySQLOption {
	return func(c *mysqlConfig) {
		c.startTimeout = timeout
	}
}

// WithLogger routes testcontainers output, typically to a ContainerLogger.
func WithLogger(logger log.Logger) MySQLOption {
	return func(c *mysqlConfig) {
		c.logger = logger
	}
}

// NewMySQLContainer creates and starts a MySQL server, then applies any
// seed statements as the application user.
func NewMySQLContainer(ctx context.Context, opts ...MySQLOption) (*MySQLContainer, error) {
	cfg := &mysqlConfig{
		image:        DefaultMySQLImage,
		startTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.image,
		ExposedPorts: []string{DefaultMySQLPort},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": DefaultMySQLPassword,
			"MYSQL_DATABASE":      DefaultMySQLDatabase,
			"MYSQL_USER":          DefaultMySQLUser,
			"MYSQL_PASSWORD":      DefaultMySQLPassword,
			"TZ":                  "UTC",
		},
		// The entrypoint runs a temporary server on port 0 first; only the
		// final server logs its real port.
		WaitingFor: wait.ForAll(
			wait.ForLog("port: 3306  MySQL Community Server"),
			wait.ForListeningPort(DefaultMySQLPort),
		).WithStartupTimeout(cfg.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
		Logger:           cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create mysql container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, DefaultMySQLPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	mc := &MySQLContainer{
		Container: container,
		Config: config.RuntimeDBConfig{
			Driver:           config.DriverMySQL,
			Host:             host,
			Port:             port.Int(),
			Username:         DefaultMySQLUser,
			Password:         DefaultMySQLPassword,
			Database:         DefaultMySQLDatabase,
			MaxConnections:   4,
			MaxQueueDepth:    16,
			ConnectTimeoutMs: 10000,
			Charset:          "utf8mb4",
		},
	}

	if len(cfg.seed) > 0 {
		if err := mc.Exec(ctx, cfg.seed...); err != nil {
			container.Terminate(ctx) //nolint:errcheck
			return nil, err
		}
	}
	return mc, nil
}

// Exec runs stmts against the container over a short-lived connection.
func (c *MySQLContainer) Exec(ctx context.Context, stmts ...string) error {
	db, err := database.OpenDB(ctx, c.Config)
	if err != nil {
		return fmt.Errorf("connect to mysql: %w", err)
	}
	defer db.Close()

	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed statement %d: %w", i+1, err)
		}
	}
	return nil
}

// Terminate stops and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	return c.Container.Terminate(ctx)
}
