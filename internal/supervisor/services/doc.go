// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

/*
Package services adapts service components to suture's Serve(ctx) model.

  - HTTPServerService: ListenAndServe plus graceful Shutdown
  - PoolService: eager warehouse pool initialization, Close on stop

*cache.Cache implements suture.Service itself and needs no wrapper.
*/
package services
