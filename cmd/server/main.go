// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saludbi/cubo/internal/api"
	"github.com/saludbi/cubo/internal/cache"
	"github.com/saludbi/cubo/internal/config"
	"github.com/saludbi/cubo/internal/database"
	"github.com/saludbi/cubo/internal/logging"
	"github.com/saludbi/cubo/internal/pivot"
	"github.com/saludbi/cubo/internal/supervisor"
	"github.com/saludbi/cubo/internal/supervisor/services"
)

func main() {
	// Config errors are logged with the default logger; nothing else exists yet.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Caller:  cfg.Logging.Caller,
		Service: cfg.Server.ServiceName,
		Output:  os.Stderr,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("store", storeDescription(cfg.Store)).
		Msg("Starting Cubo with supervisor tree")

	if cfg.Security.Secret == "" {
		logging.Warn().Msg("CUBO_SECRET is not set; stored warehouse passwords use the development key")
	}
	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
	logging.Info().Msg("Application stopped gracefully")
}

func run(cfg *config.Config) error {
	badgerDB, err := config.OpenBadger(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := badgerDB.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing runtime store")
		}
	}()

	encryptor, err := config.NewCredentialEncryptor(cfg.EncryptionSecret())
	if err != nil {
		return fmt.Errorf("credential encryptor: %w", err)
	}

	var seed *config.RuntimeDBConfig
	if s, ok := cfg.Warehouse.Seed(); ok {
		seed = &s
		logging.Info().Str("target", s.Target()).Msg("Warehouse seed loaded from environment")
	}
	store := config.NewRuntimeStore(badgerDB, encryptor, seed)

	pool := database.NewPoolManager(store, database.PoolOptions{
		DefaultTimeout:    cfg.Query.DefaultTimeout(),
		InitRetryInterval: cfg.Query.InitRetryInterval,
	})

	resultCache := cache.New(cfg.Cache.QueryTTL,
		cache.WithName("pivot"),
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
	)

	pivotOpts := pivot.Options{
		FactTable:     cfg.Pivot.FactTable,
		LookupTimeout: cfg.Query.LookupTimeout(),
		PivotTimeout:  cfg.Query.PivotTimeout(),
		TTLs: pivot.TTLs{
			Catalog:          cfg.Cache.CatalogTTL,
			Years:            cfg.Cache.YearsTTL,
			StaticDimension:  cfg.Cache.StaticDimensionTTL,
			DynamicDimension: cfg.Cache.DynamicDimensionTTL,
			Query:            cfg.Cache.QueryTTL,
		},
	}

	handler := api.NewHandler(api.HandlerDeps{
		Catalog:      pivot.NewCatalog(pool, resultCache, pivotOpts),
		Engine:       pivot.NewEngine(pool, resultCache, pivotOpts),
		Cache:        resultCache,
		Pool:         pool,
		Store:        store,
		ServiceName:  cfg.Server.ServiceName,
		Environment:  cfg.Server.Environment,
		MaxBodyBytes: cfg.Security.MaxBodyBytes,
	})
	router := api.NewRouter(handler, api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(cfg.Security)))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		// Pivot queries may run up to their own deadline; the write timeout
		// must not cut them short.
		WriteTimeout: max(cfg.Server.Timeout, cfg.Query.PivotTimeout()+5*time.Second),
		IdleTimeout:  60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout + 5*time.Second,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddDataService(services.NewPoolService(pool))
	tree.AddDataService(resultCache)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("Services added to supervisor tree")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}
	return nil
}

func storeDescription(s config.StoreConfig) string {
	if s.InMemory {
		return "in-memory"
	}
	return s.Path
}
