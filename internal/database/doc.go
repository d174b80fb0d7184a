// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

/*
Package database runs parameterized queries against the health-records
warehouse through a runtime replaceable connection pool.

# Pool lifecycle

PoolManager holds at most one active pool, built from the configuration
returned by its ConfigSource (normally config.RuntimeStore). Initialize
rebuilds it; the previous pool keeps serving the queries that already
borrowed it and is closed once they finish. When no pool is active the
first Execute triggers one shared initialization attempt. Failed attempts
are throttled, so a misconfigured warehouse yields fast ErrNotConfigured
responses instead of a reconnect storm.

# Timeouts

Every Execute carries a finite deadline. The query runs on its own
goroutine with a context bound to that deadline and the caller selects
between the result and a timer:

	rs, err := pm.Execute(ctx, "SELECT region, COUNT(*) FROM atenciones GROUP BY region", nil, 30*time.Second)
	switch {
	case errors.Is(err, database.ErrTimeout):
	case errors.Is(err, database.ErrNotConfigured):
	case errors.Is(err, database.ErrQueryFailed):
	}

go-sql-driver/mysql and duckdb-go both honor context cancellation, so the
server side statement is aborted as well.

# Drivers

	mysql   github.com/go-sql-driver/mysql (production warehouse)
	duckdb  github.com/duckdb/duckdb-go/v2 (local files and tests)

Subpackage query builds WHERE clauses with bound parameters.
*/
package database

import (
	// Registers the "duckdb" database/sql driver.
	_ "github.com/duckdb/duckdb-go/v2"
)
