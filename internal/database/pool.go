// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/saludbi/cubo/internal/config"
	"github.com/saludbi/cubo/internal/logging"
	"github.com/saludbi/cubo/internal/metrics"
)

// Defaults applied when PoolOptions leaves a field zero.
const (
	DefaultQueryTimeout      = 300 * time.Second
	DefaultInitRetryInterval = 5 * time.Second

	breakerName     = "warehouse"
	connMaxLifetime = time.Hour
	connMaxIdleTime = 5 * time.Minute
)

// ConfigSource supplies the warehouse configuration a pool is built from.
// config.RuntimeStore implements it.
type ConfigSource interface {
	Load(ctx context.Context) (config.RuntimeDBConfig, error)
}

// Opener builds a ready to use *sql.DB for cfg. The default opener sizes the
// pool and pings the server within the configured connect timeout.
type Opener func(ctx context.Context, cfg config.RuntimeDBConfig) (*sql.DB, error)

// PoolOptions tunes a PoolManager.
type PoolOptions struct {
	// DefaultTimeout applies when Execute is called with timeout <= 0.
	DefaultTimeout time.Duration

	// InitRetryInterval throttles lazy initialization attempts after a
	// failure. While throttled, Execute fails fast with ErrNotConfigured.
	InitRetryInterval time.Duration

	// Opener replaces the default driver based opener, for tests.
	Opener Opener
}

// Status is a point-in-time view of the active pool.
type Status struct {
	Configured      bool   `json:"configured"`
	Driver          string `json:"driver,omitempty"`
	Target          string `json:"target,omitempty"`
	Generation      uint64 `json:"generation"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	Breaker         string `json:"breaker,omitempty"`
}

// pool is one *sql.DB bound to one configuration snapshot. It is never
// reused after being superseded.
type pool struct {
	db         *sql.DB
	cfg        config.RuntimeDBConfig
	generation uint64
	inflight   sync.WaitGroup
	breaker    *gobreaker.CircuitBreaker[*ResultSet]

	// admission bounds running plus queued callers. nil means unbounded.
	admission *semaphore.Weighted
}

// PoolManager owns the single active warehouse pool.
//
// The active pool lives in a replaceable cell: Initialize swaps it under an
// exclusive lock, while Execute borrows it under a shared lock and pins it
// with a WaitGroup. A caller that borrowed before a swap finishes against
// the pool it borrowed; the superseded pool is closed in the background once
// those callers are done.
type PoolManager struct {
	source         ConfigSource
	open           Opener
	defaultTimeout time.Duration

	mu         sync.RWMutex
	current    *pool
	generation uint64
	closed     bool

	initMu      sync.Mutex
	initFlight  singleflight.Group
	initLimiter *rate.Limiter
}

// NewPoolManager creates an unconfigured manager. No connection is made
// until Initialize or the first Execute.
func NewPoolManager(source ConfigSource, opts PoolOptions) *PoolManager {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultQueryTimeout
	}
	if opts.InitRetryInterval <= 0 {
		opts.InitRetryInterval = DefaultInitRetryInterval
	}
	if opts.Opener == nil {
		opts.Opener = OpenDB
	}
	return &PoolManager{
		source:         source,
		open:           opts.Opener,
		defaultTimeout: opts.DefaultTimeout,
		initLimiter:    rate.NewLimiter(rate.Every(opts.InitRetryInterval), 1),
	}
}

// OpenDB opens cfg with its database/sql driver, applies pool limits and
// verifies connectivity within cfg.ConnectTimeoutMs.
func OpenDB(ctx context.Context, cfg config.RuntimeDBConfig) (*sql.DB, error) {
	name, err := driverName(cfg)
	if err != nil {
		return nil, err
	}
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	configureConnectionPool(db, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeoutMs)*time.Millisecond)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		closeWithLog(db, "sql.DB")
		return nil, fmt.Errorf("ping %s: %w", cfg.Target(), err)
	}
	return db, nil
}

func configureConnectionPool(db *sql.DB, cfg config.RuntimeDBConfig) {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	// DuckDB serializes writes through one process; a single connection
	// keeps in-memory databases shared across queries.
	if cfg.Driver == config.DriverDuckDB && cfg.Database == "" {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)
}

// Initialize loads the current configuration, builds a pool and installs it
// as the active pool. Any previous pool is drained and closed in the
// background. On failure the manager becomes unconfigured and an
// *InitError is returned.
func (m *PoolManager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	log := logging.Ctx(ctx)

	cfg, err := m.source.Load(ctx)
	if err != nil {
		m.install(nil)
		metrics.RecordPoolInit(false, 0)
		log.Warn().Err(err).Msg("Pool not initialized, warehouse configuration required")
		return &InitError{Cause: err}
	}

	db, err := m.open(ctx, cfg)
	if err != nil {
		m.install(nil)
		metrics.RecordPoolInit(false, 0)
		log.Warn().Err(err).Str("target", cfg.Target()).Msg("Pool not initialized")
		return &InitError{Target: cfg.Target(), Cause: err}
	}

	p := &pool{db: db, cfg: cfg}
	if n := cfg.MaxConnections + cfg.MaxQueueDepth; cfg.MaxQueueDepth > 0 {
		p.admission = semaphore.NewWeighted(int64(n))
	}
	if !m.install(p) {
		closeWithLog(db, "sql.DB")
		return &InitError{Target: cfg.Target(), Cause: ErrClosed}
	}

	metrics.RecordPoolInit(true, p.generation)
	log.Info().
		Str("target", cfg.Target()).
		Uint64("generation", p.generation).
		Int("max_connections", cfg.MaxConnections).
		Int("max_queue_depth", cfg.MaxQueueDepth).
		Msg("Connection pool initialized")
	return nil
}

// install publishes p (nil to unset) and retires the previous pool. It
// reports false when the manager is closed.
func (m *PoolManager) install(p *pool) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	old := m.current
	if p != nil {
		m.generation++
		p.generation = m.generation
		p.breaker = newBreaker(breakerName)
	}
	m.current = p
	m.mu.Unlock()

	if old != nil {
		go old.drainAndClose()
	}
	return true
}

// drainAndClose waits for callers that borrowed the pool, then closes it.
// Every borrow happened before the swap that retired the pool, so no new
// borrow can race with Wait.
func (p *pool) drainAndClose() {
	p.inflight.Wait()
	closeWithLog(p.db, "sql.DB")
	metrics.PoolDrained.Inc()
	logging.Debug().Uint64("generation", p.generation).Msg("Superseded pool closed")
}

// borrow returns the active pool pinned for one query. The caller must call
// p.inflight.Done.
func (m *PoolManager) borrow() (*pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.current == nil {
		return nil, nil
	}
	m.current.inflight.Add(1)
	return m.current, nil
}

// ensurePool borrows the active pool, lazily initializing it when absent.
// Concurrent first callers share one initialization attempt; failed
// attempts are throttled. The attempt itself is detached from ctx, but each
// caller waits for it no longer than timeout or its own ctx.
func (m *PoolManager) ensurePool(ctx context.Context, timeout time.Duration) (*pool, error) {
	p, err := m.borrow()
	if err != nil || p != nil {
		return p, err
	}

	initCtx := context.WithoutCancel(ctx)
	ch := m.initFlight.DoChan("init", func() (any, error) {
		if m.IsConfigured() {
			return nil, nil
		}
		if !m.initLimiter.Allow() {
			return nil, errInitThrottled
		}
		return nil, m.Initialize(initCtx)
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotConfigured, res.Err)
		}
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s: pool initialization still running", ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, ctx.Err())
	}

	p, err = m.borrow()
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotConfigured
	}
	return p, nil
}

var errInitThrottled = errors.New("initialization recently failed, retry later")

// Execute runs query with positional args against the active pool and
// waits at most timeout (the manager default when timeout <= 0). The
// timeout covers lazy initialization as well as the query.
//
// Errors: ErrNotConfigured when no pool can be obtained, ErrTimeout when
// the deadline passes first, ErrQueryFailed wrapping the cause otherwise.
//
// A query abandoned on timeout keeps its admission slot and its pin on the
// pool until the driver returns, so the queue limit and pool draining
// account for work still running on a connection.
func (m *PoolManager) Execute(ctx context.Context, query string, args []any, timeout time.Duration) (*ResultSet, error) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	op := operationFromContext(ctx)
	start := time.Now()

	p, err := m.ensurePool(ctx, timeout)
	if err != nil {
		status := "not_configured"
		if !errors.Is(err, ErrNotConfigured) && !errors.Is(err, ErrClosed) {
			status = errorType(err)
		}
		metrics.RecordDBQuery(op, time.Since(start), status)
		return nil, err
	}

	if p.admission != nil && !p.admission.TryAcquire(1) {
		p.inflight.Done()
		metrics.RecordDBQuery(op, time.Since(start), "rejected")
		return nil, fmt.Errorf("%w: queue limit reached", ErrQueryFailed)
	}
	metrics.TrackInflightQuery(true)
	release := sync.OnceFunc(func() {
		metrics.TrackInflightQuery(false)
		if p.admission != nil {
			p.admission.Release(1)
		}
		p.inflight.Done()
	})

	remaining := timeout - time.Since(start)
	if remaining <= 0 {
		release()
		metrics.RecordDBQuery(op, time.Since(start), "timeout")
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}

	started := false
	rs, err := p.breaker.Execute(func() (*ResultSet, error) {
		started = true
		return p.run(ctx, query, args, remaining, release)
	})
	if !started {
		release()
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w", ErrQueryFailed, err)
		}
		metrics.RecordDBQuery(op, time.Since(start), errorType(err))
		logging.Ctx(ctx).Debug().Err(err).Str("operation", op).Dur("timeout", timeout).Msg("Query failed")
		return nil, err
	}

	metrics.RecordDBQuery(op, time.Since(start), "")
	return rs, nil
}

// run races the query against timeout. The query context carries the same
// deadline, so drivers that honor cancellation stop the server side work;
// the caller never waits past the timer either way. release is called once
// the driver has returned, which may be after run itself.
func (p *pool) run(ctx context.Context, query string, args []any, timeout time.Duration, release func()) (*ResultSet, error) {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		rs  *ResultSet
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer release()
		rs, err := queryAll(qctx, p.db, query, args)
		done <- outcome{rs, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err == nil {
			return o.rs, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrQueryFailed, ctx.Err())
		}
		if errors.Is(o.err, context.DeadlineExceeded) || qctx.Err() != nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, o.err)
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, ctx.Err())
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "query_failed"
	}
}

// Probe opens and pings cfg without touching the active pool.
func (m *PoolManager) Probe(ctx context.Context, cfg config.RuntimeDBConfig) error {
	db, err := m.open(ctx, cfg)
	if err != nil {
		return err
	}
	closeWithLog(db, "sql.DB")
	return nil
}

// IsConfigured reports whether a pool is active.
func (m *PoolManager) IsConfigured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// Status describes the active pool.
func (m *PoolManager) Status() Status {
	m.mu.RLock()
	p := m.current
	m.mu.RUnlock()

	if p == nil {
		return Status{}
	}
	st := p.db.Stats()
	return Status{
		Configured:      true,
		Driver:          p.cfg.Driver,
		Target:          p.cfg.Target(),
		Generation:      p.generation,
		OpenConnections: st.OpenConnections,
		InUse:           st.InUse,
		Idle:            st.Idle,
		Breaker:         p.breaker.State().String(),
	}
}

// Close unsets the active pool and closes it once in-flight queries finish.
// Execute returns ErrClosed afterwards.
func (m *PoolManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	p := m.current
	m.current = nil
	m.mu.Unlock()

	metrics.RecordPoolInit(false, 0)
	if p != nil {
		p.drainAndClose()
	}
	return nil
}

type operationKey struct{}

// WithOperation labels queries issued with ctx for metrics.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey{}, operation)
}

func operationFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok && op != "" {
		return op
	}
	return "query"
}
