// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/saludbi/cubo/internal/config"
)

// fakeDriverName is a deterministic database/sql driver. The DSN is echoed
// back by "SELECT target" so tests can tell which pool served a query.
//
//	SELECT target      one row with the DSN
//	SLEEP <ms>         sleeps, honoring cancellation, then returns the DSN
//	SLEEP_IGNORE <ms>  sleeps ignoring cancellation
//	FAIL               returns a driver error
//
// A DSN starting with "unreachable" fails to connect.
const fakeDriverName = "cubo-fake"

var (
	registerFakeOnce sync.Once

	// sleepStarted receives the DSN whenever a SLEEP query begins.
	sleepStarted = make(chan string, 64)
)

func registerFakeDriver() {
	registerFakeOnce.Do(func() {
		sql.Register(fakeDriverName, fakeDriver{})
	})
}

type fakeDriver struct{}

func (fakeDriver) Open(dsn string) (driver.Conn, error) {
	if strings.HasPrefix(dsn, "unreachable") {
		return nil, errors.New("dial tcp: connection refused")
	}
	return &fakeConn{dsn: dsn}, nil
}

type fakeConn struct {
	dsn string
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	switch {
	case query == "SELECT target":
		return newFakeRows(c.dsn), nil
	case strings.HasPrefix(query, "SLEEP_IGNORE "):
		ms, _ := strconv.Atoi(strings.TrimPrefix(query, "SLEEP_IGNORE "))
		sleepStarted <- c.dsn
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return newFakeRows(c.dsn), nil
	case strings.HasPrefix(query, "SLEEP "):
		ms, _ := strconv.Atoi(strings.TrimPrefix(query, "SLEEP "))
		sleepStarted <- c.dsn
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return newFakeRows(c.dsn), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case query == "FAIL":
		return nil, errors.New("You have an error in your SQL syntax")
	default:
		return nil, errors.New("unknown fake query: " + query)
	}
}

type fakeRows struct {
	values []driver.Value
	done   bool
}

func newFakeRows(dsn string) *fakeRows {
	return &fakeRows{values: []driver.Value{[]byte(dsn)}}
}

func (r *fakeRows) Columns() []string { return []string{"target"} }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	copy(dest, r.values)
	r.done = true
	return nil
}

func fakeOpener(ctx context.Context, cfg config.RuntimeDBConfig) (*sql.DB, error) {
	registerFakeDriver()
	db, err := sql.Open(fakeDriverName, cfg.Host)
	if err != nil {
		return nil, err
	}
	configureConnectionPool(db, cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// fakeSource is a mutable ConfigSource that counts loads.
type fakeSource struct {
	mu    sync.Mutex
	cfg   config.RuntimeDBConfig
	err   error
	loads atomic.Int32
}

func (s *fakeSource) Load(context.Context) (config.RuntimeDBConfig, error) {
	s.loads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.err
}

func (s *fakeSource) set(cfg config.RuntimeDBConfig, err error) {
	s.mu.Lock()
	s.cfg, s.err = cfg, err
	s.mu.Unlock()
}

func testDBConfig(host string) config.RuntimeDBConfig {
	return config.RuntimeDBConfig{
		Driver:           config.DriverMySQL,
		Host:             host,
		Port:             3306,
		Username:         "cubo",
		Database:         "salud",
		MaxConnections:   5,
		ConnectTimeoutMs: 1000,
	}
}

func newTestManager(t *testing.T, src *fakeSource) *PoolManager {
	t.Helper()
	pm := NewPoolManager(src, PoolOptions{
		DefaultTimeout:    time.Second,
		InitRetryInterval: time.Hour,
		Opener:            fakeOpener,
	})
	t.Cleanup(func() { _ = pm.Close() })
	return pm
}

func targetOf(t *testing.T, rs *ResultSet) string {
	t.Helper()
	if rs.Len() != 1 || len(rs.Rows[0]) != 1 {
		t.Fatalf("unexpected result shape: %+v", rs)
	}
	s, ok := rs.Rows[0][0].(string)
	if !ok {
		t.Fatalf("target column is %T, want string", rs.Rows[0][0])
	}
	return s
}

func TestExecute_NotConfigured(t *testing.T) {
	src := &fakeSource{}
	src.set(config.RuntimeDBConfig{}, config.ErrConfigMissing)
	pm := newTestManager(t, src)

	_, err := pm.Execute(context.Background(), "SELECT target", nil, 0)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Execute() error = %v, want ErrNotConfigured", err)
	}
	if !errors.Is(err, config.ErrConfigMissing) {
		t.Errorf("cause should be kept, got %v", err)
	}

	// The retry is throttled: no second load, still NotConfigured.
	_, err = pm.Execute(context.Background(), "SELECT target", nil, 0)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("second Execute() error = %v, want ErrNotConfigured", err)
	}
	if got := src.loads.Load(); got != 1 {
		t.Errorf("Load called %d times, want 1", got)
	}
}

func TestInitialize_Failure(t *testing.T) {
	src := &fakeSource{}
	src.set(testDBConfig("c1"), nil)
	pm := newTestManager(t, src)

	if err := pm.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	src.set(testDBConfig("unreachable-host"), nil)
	err := pm.Initialize(context.Background())

	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("Initialize() error = %v, want *InitError", err)
	}
	if !strings.Contains(initErr.Error(), "connection refused") {
		t.Errorf("cause missing from %q", initErr.Error())
	}
	if pm.IsConfigured() {
		t.Error("a failed Initialize must leave the manager unconfigured")
	}
	if st := pm.Status(); st.Configured {
		t.Errorf("Status() = %+v, want unconfigured", st)
	}
}

func TestExecute_LazyInitIsShared(t *testing.T) {
	src := &fakeSource{}
	src.set(testDBConfig("c1"), nil)
	pm := newTestManager(t, src)

	const callers = 12
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pm.Execute(context.Background(), "SELECT target", nil, 0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Execute() error = %v", err)
		}
	}
	if got := src.loads.Load(); got != 1 {
		t.Errorf("Load called %d times, want exactly one initialization", got)
	}
	if st := pm.Status(); st.Generation != 1 {
		t.Errorf("Generation = %d, want 1", st.Generation)
	}
}

func TestInitialize_ReplacementIsAtomic(t *testing.T) {
	src := &fakeSource{}
	src.set(testDBConfig("c1"), nil)
	pm := newTestManager(t, src)
	ctx := context.Background()

	if err := pm.Initialize(ctx); err != nil {
		t.Fatalf("Initialize(c1) error = %v", err)
	}

	// Borrow the c1 pool with a slow query, then swap underneath it.
	type result struct {
		rs  *ResultSet
		err error
	}
	slow := make(chan result, 1)
	go func() {
		rs, err := pm.Execute(ctx, "SLEEP 150", nil, 5*time.Second)
		slow <- result{rs, err}
	}()
	select {
	case dsn := <-sleepStarted:
		if dsn != "c1" {
			t.Fatalf("slow query started on %q", dsn)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("slow query never started")
	}

	src.set(testDBConfig("c2"), nil)
	if err := pm.Initialize(ctx); err != nil {
		t.Fatalf("Initialize(c2) error = %v", err)
	}

	rs, err := pm.Execute(ctx, "SELECT target", nil, 0)
	if err != nil {
		t.Fatalf("Execute after swap error = %v", err)
	}
	if got := targetOf(t, rs); got != "c2" {
		t.Errorf("new borrow observed %q, want c2", got)
	}

	r := <-slow
	if r.err != nil {
		t.Fatalf("in-flight query on superseded pool failed: %v", r.err)
	}
	if got := targetOf(t, r.rs); got != "c1" {
		t.Errorf("in-flight query finished on %q, want c1", got)
	}
	if st := pm.Status(); st.Generation != 2 || st.Target != testDBConfig("c2").Target() {
		t.Errorf("Status() = %+v", st)
	}
}

func TestExecute_Timeout(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"driver honors cancellation", "SLEEP 3000"},
		{"driver ignores cancellation", "SLEEP_IGNORE 1500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			src.set(testDBConfig("c1"), nil)
			pm := newTestManager(t, src)

			timeout := 50 * time.Millisecond
			start := time.Now()
			_, err := pm.Execute(context.Background(), tt.query, nil, timeout)
			elapsed := time.Since(start)

			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("Execute() error = %v, want ErrTimeout", err)
			}
			if elapsed > timeout+750*time.Millisecond {
				t.Errorf("Execute returned after %v, want close to %v", elapsed, timeout)
			}
			<-sleepStarted
		})
	}
}

func TestExecute_QueryFailed(t *testing.T) {
	src := &fakeSource{}
	src.set(testDBConfig("c1"), nil)
	pm := newTestManager(t, src)

	_, err := pm.Execute(context.Background(), "FAIL", nil, 0)
	if !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("Execute() error = %v, want ErrQueryFailed", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("driver errors must not be reported as timeouts")
	}
	if !strings.Contains(err.Error(), "SQL syntax") {
		t.Errorf("driver cause missing: %v", err)
	}
}

func TestExecute_CallerCancellation(t *testing.T) {
	src := &fakeSource{}
	src.set(testDBConfig("c1"), nil)
	pm := newTestManager(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sleepStarted
		cancel()
	}()

	_, err := pm.Execute(ctx, "SLEEP 3000", nil, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("cancellation is not a timeout")
	}
}

func TestExecute_QueueLimit(t *testing.T) {
	src := &fakeSource{}
	cfg := testDBConfig("c1")
	cfg.MaxConnections = 1
	cfg.MaxQueueDepth = 1
	src.set(cfg, nil)
	pm := newTestManager(t, src)
	ctx := context.Background()

	if err := pm.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pm.Execute(ctx, "SLEEP 400", nil, 5*time.Second)
		}()
	}
	<-sleepStarted
	// The second caller is queued on the single connection by now.
	time.Sleep(100 * time.Millisecond)

	_, err := pm.Execute(ctx, "SELECT target", nil, 0)
	if !errors.Is(err, ErrQueryFailed) || !strings.Contains(err.Error(), "queue limit") {
		t.Errorf("Execute() error = %v, want queue limit rejection", err)
	}

	wg.Wait()
	<-sleepStarted
}

func TestExecute_TimeoutBoundsLazyInit(t *testing.T) {
	src := &fakeSource{}
	src.set(testDBConfig("c1"), nil)

	gate := make(chan struct{})
	var opens atomic.Int32
	pm := NewPoolManager(src, PoolOptions{
		DefaultTimeout:    time.Second,
		InitRetryInterval: time.Hour,
		Opener: func(ctx context.Context, cfg config.RuntimeDBConfig) (*sql.DB, error) {
			opens.Add(1)
			select {
			case <-gate:
			case <-time.After(5 * time.Second):
			}
			return fakeOpener(ctx, cfg)
		},
	})
	t.Cleanup(func() { _ = pm.Close() })

	timeout := 50 * time.Millisecond
	start := time.Now()
	_, err := pm.Execute(context.Background(), "SELECT target", nil, timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}
	if elapsed > timeout+750*time.Millisecond {
		t.Errorf("Execute waited %v on a slow initialization, want close to %v", elapsed, timeout)
	}

	// The abandoned initialization keeps running and installs the pool.
	close(gate)
	deadline := time.Now().Add(2 * time.Second)
	for !pm.IsConfigured() {
		if time.Now().After(deadline) {
			t.Fatal("initialization never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	rs, err := pm.Execute(context.Background(), "SELECT target", nil, 0)
	if err != nil {
		t.Fatalf("Execute after initialization error = %v", err)
	}
	if got := targetOf(t, rs); got != "c1" {
		t.Errorf("target = %q, want c1", got)
	}
	if n := opens.Load(); n != 1 {
		t.Errorf("opener called %d times, want 1", n)
	}
}

func TestExecute_AbandonedQueryHoldsAdmission(t *testing.T) {
	src := &fakeSource{}
	cfg := testDBConfig("c1")
	cfg.MaxConnections = 1
	cfg.MaxQueueDepth = 1
	src.set(cfg, nil)
	pm := newTestManager(t, src)
	ctx := context.Background()

	if err := pm.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	// Times out while the driver keeps the only connection busy.
	if _, err := pm.Execute(ctx, "SLEEP_IGNORE 600", nil, 50*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}
	<-sleepStarted

	queued := make(chan error, 1)
	go func() {
		_, err := pm.Execute(ctx, "SELECT target", nil, 5*time.Second)
		queued <- err
	}()
	time.Sleep(100 * time.Millisecond)

	_, err := pm.Execute(ctx, "SELECT target", nil, 0)
	if !errors.Is(err, ErrQueryFailed) || !strings.Contains(err.Error(), "queue limit") {
		t.Errorf("Execute() error = %v, want queue limit rejection while the abandoned query runs", err)
	}

	select {
	case err := <-queued:
		if err != nil {
			t.Fatalf("queued Execute() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("queued caller never got the connection")
	}
	if _, err := pm.Execute(ctx, "SELECT target", nil, 0); err != nil {
		t.Errorf("Execute after the abandoned query finished error = %v", err)
	}
}

func TestExecute_BreakerRejectionReleasesAdmission(t *testing.T) {
	src := &fakeSource{}
	cfg := testDBConfig("c1")
	cfg.MaxConnections = 1
	cfg.MaxQueueDepth = 1
	src.set(cfg, nil)
	pm := newTestManager(t, src)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = pm.Execute(ctx, "FAIL", nil, 0)
	}
	for i := 0; i < 5; i++ {
		_, err := pm.Execute(ctx, "SELECT target", nil, 0)
		if !errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("call %d error = %v, want an open circuit rejection", i, err)
		}
	}
}

func TestClose(t *testing.T) {
	src := &fakeSource{}
	src.set(testDBConfig("c1"), nil)
	pm := newTestManager(t, src)

	if err := pm.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := pm.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := pm.Execute(context.Background(), "SELECT target", nil, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute after Close error = %v, want ErrClosed", err)
	}
	var initErr *InitError
	if err := pm.Initialize(context.Background()); !errors.As(err, &initErr) || !errors.Is(err, ErrClosed) {
		t.Errorf("Initialize after Close error = %v", err)
	}
}

func TestWithOperation(t *testing.T) {
	t.Parallel()

	if got := operationFromContext(context.Background()); got != "query" {
		t.Errorf("default operation = %q", got)
	}
	ctx := WithOperation(context.Background(), "pivot")
	if got := operationFromContext(ctx); got != "pivot" {
		t.Errorf("operation = %q, want pivot", got)
	}
}
