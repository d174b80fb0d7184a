// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

// Package testinfra provides container backed infrastructure for
// integration tests.
//
// Everything here is behind the integration build tag:
//
//	go test -tags integration ./internal/testinfra/...
//
// # MySQL Warehouse
//
// MySQLContainer starts a disposable MySQL server and hands back a
// config.RuntimeDBConfig pointing at it, so tests exercise the real
// go-sql-driver/mysql path through database.PoolManager:
//
//	wh, err := testinfra.NewMySQLContainer(ctx,
//	    testinfra.WithSeedStatements(testinfra.FactTableSeed...),
//	)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer testinfra.CleanupContainer(t, ctx, wh.Container)
//
//	pm := database.NewPoolManager(staticSource(wh.Config), database.PoolOptions{})
//
// Tests skip when Docker is unavailable. The first run pulls the image.
package testinfra
