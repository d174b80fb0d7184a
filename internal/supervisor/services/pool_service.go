// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package services

import (
	"context"
	"errors"

	"github.com/saludbi/cubo/internal/config"
	"github.com/saludbi/cubo/internal/logging"
)

// Pool is the lifecycle half of database.PoolManager.
type Pool interface {
	Initialize(ctx context.Context) error
	Close() error
}

// PoolService initializes the warehouse pool when the tree starts and
// closes it, draining in-flight queries, when the tree stops.
//
// A failed initialization is logged and tolerated: the pool stays
// unconfigured and the first query retries lazily. Restarting the service
// would only repeat the same failure.
type PoolService struct {
	pool Pool
}

// NewPoolService wraps pool.
func NewPoolService(pool Pool) *PoolService {
	return &PoolService{pool: pool}
}

// Serve implements suture.Service. It only returns once ctx is done and
// the pool is closed.
func (p *PoolService) Serve(ctx context.Context) error {
	log := logging.WithComponent("pool")

	if err := p.pool.Initialize(ctx); err != nil {
		switch {
		case errors.Is(err, config.ErrConfigMissing):
			log.Warn().Msg("No warehouse configured; waiting for PUT /api/configuracion/bd")
		default:
			log.Error().Err(err).Msg("Warehouse pool initialization failed; will retry on first query")
		}
	}

	<-ctx.Done()

	if err := p.pool.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing warehouse pool")
	}
	return ctx.Err()
}

func (p *PoolService) String() string {
	return "warehouse-pool"
}
