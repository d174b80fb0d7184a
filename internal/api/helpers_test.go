// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/saludbi/cubo/internal/cache"
	"github.com/saludbi/cubo/internal/config"
	"github.com/saludbi/cubo/internal/database"
	"github.com/saludbi/cubo/internal/pivot"
)

// stubQuerier answers every warehouse query with a canned result or error.
type stubQuerier struct {
	mu       sync.Mutex
	calls    int
	lastSQL  string
	lastArgs []any
	result   *database.ResultSet
	err      error
}

func (q *stubQuerier) Execute(_ context.Context, sql string, args []any, _ time.Duration) (*database.ResultSet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.lastSQL = sql
	q.lastArgs = args
	if q.err != nil {
		return nil, q.err
	}
	return q.result, nil
}

func (q *stubQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

type fakeWarehouse struct {
	mu         sync.Mutex
	configured bool
	probeErr   error
	initErr    error
	probes     int
	inits      int
}

func (f *fakeWarehouse) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	if f.initErr != nil {
		return f.initErr
	}
	f.configured = true
	return nil
}

func (f *fakeWarehouse) Probe(context.Context, config.RuntimeDBConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.probeErr
}

func (f *fakeWarehouse) IsConfigured() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configured
}

func (f *fakeWarehouse) Status() database.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return database.Status{Configured: f.configured}
}

type fakeStore struct {
	mu        sync.Mutex
	cfg       config.RuntimeDBConfig
	has       bool
	updatedAt time.Time
	saveErr   error
	saved     []config.RuntimeDBConfig
}

func (s *fakeStore) Current() (config.RuntimeDBConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.has
}

func (s *fakeStore) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *fakeStore) Save(_ context.Context, cfg config.RuntimeDBConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, cfg)
	s.cfg, s.has, s.updatedAt = cfg, true, time.Now().UTC()
	return nil
}

type testEnv struct {
	querier   *stubQuerier
	warehouse *fakeWarehouse
	store     *fakeStore
	cache     *cache.Cache
	handler   *Handler
	server    http.Handler
}

// newTestEnv wires a Handler over fakes and a real cache, catalog and
// engine. mwCfg may be nil.
func newTestEnv(t *testing.T, mwCfg *ChiMiddlewareConfig) *testEnv {
	t.Helper()

	env := &testEnv{
		querier:   &stubQuerier{},
		warehouse: &fakeWarehouse{configured: true},
		store:     &fakeStore{},
		cache:     cache.New(cache.TTLQuery, cache.WithName("api-test")),
	}
	opts := pivot.Options{
		FactTable:     "atenciones",
		LookupTimeout: time.Second,
		PivotTimeout:  time.Second,
		TTLs:          pivot.DefaultTTLs(),
	}
	env.handler = NewHandler(HandlerDeps{
		Catalog:     pivot.NewCatalog(env.querier, env.cache, opts),
		Engine:      pivot.NewEngine(env.querier, env.cache, opts),
		Cache:       env.cache,
		Pool:        env.warehouse,
		Store:       env.store,
		ServiceName: "cubo-test",
		Environment: "test",
	})
	env.server = NewRouter(env.handler, NewChiMiddleware(mwCfg)).SetupChi()
	return env
}

func (env *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	if env.Error.Code != code {
		t.Errorf("error code = %q, want %q", env.Error.Code, code)
	}
}
