// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

/*
Package supervisor runs the long-lived parts of the service under a suture v4
supervision tree.

	RootSupervisor ("cubo")
	├── DataSupervisor ("data-layer")
	│   ├── PoolService        warehouse pool: eager init, drain on stop
	│   └── *cache.Cache       periodic sweep of expired entries
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Crashed services are restarted with suture's backoff. Supervisor events are
logged through sutureslog into the zerolog-backed slog adapter:

	logger := logging.NewSlogLogger()
	tree, _ := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	tree.AddDataService(services.NewPoolService(pool))
	tree.AddDataService(resultCache)
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	err := tree.Serve(ctx)

The service wrappers live in the services subpackage.
*/
package supervisor
