// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

/*
Package main is the entry point for the Cubo server.

Cubo answers pivot (cross-tab) queries over a health-records warehouse:
catalog lookups, cached aggregation queries and runtime management of the
warehouse connection.

# Application Architecture

The server runs under a Suture v4 supervisor tree:

	RootSupervisor ("cubo")
	├── DataSupervisor ("data-layer")
	│   ├── Warehouse pool (eager initialization, drain on stop)
	│   └── Cache sweeper
	└── APISupervisor ("api-layer")
	    └── HTTP Server

Component initialization order:

 1. Configuration: Koanf v2 with defaults, optional YAML file and environment
 2. Logging: zerolog with JSON/console output modes
 3. Runtime store: BadgerDB holding the saved warehouse connection
 4. Pool manager: MySQL (or DuckDB) pool, built lazily from the store
 5. Cache, catalog and pivot engine
 6. HTTP Server: Chi router with middleware stack
 7. Supervisor Tree: starts everything above

# Configuration

Configuration is loaded via Koanf v2 (highest priority wins):

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	# Server
	HTTP_PORT=4000
	ENVIRONMENT=development      # development, staging, production
	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console

	# Warehouse seed (used until a configuration is saved via the API)
	MYSQL_HOST=warehouse.internal
	MYSQL_PORT=3306
	MYSQL_USER=bi_reader
	MYSQL_PASSWORD=<password>
	MYSQL_DATABASE=salud_bi
	MYSQL_CONNECTION_LIMIT=50
	MYSQL_QUEUE_LIMIT=200

	# Runtime store
	STORE_PATH=/data/cubo
	CUBO_SECRET=<32+ chars>      # Required in production

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:

 1. Stops accepting new HTTP connections
 2. Waits for in-flight requests (SHUTDOWN_TIMEOUT)
 3. Drains and closes the warehouse pool
 4. Closes the runtime store
 5. Reports any services that failed to stop

# API Documentation

Swagger documentation is available at /swagger/index.html.

# See Also

  - internal/config: Configuration and the runtime warehouse store
  - internal/database: Pool manager
  - internal/pivot: Catalog and pivot engine
  - internal/api: HTTP handlers and routing
  - internal/supervisor: Process supervision
*/
package main
