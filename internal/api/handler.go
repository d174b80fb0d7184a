// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/saludbi/cubo/internal/cache"
	"github.com/saludbi/cubo/internal/config"
	"github.com/saludbi/cubo/internal/database"
	"github.com/saludbi/cubo/internal/pivot"
)

// Warehouse is the part of database.PoolManager the handlers use.
type Warehouse interface {
	Initialize(ctx context.Context) error
	Probe(ctx context.Context, cfg config.RuntimeDBConfig) error
	IsConfigured() bool
	Status() database.Status
}

// ConfigStore is the part of config.RuntimeStore the handlers use.
type ConfigStore interface {
	Current() (config.RuntimeDBConfig, bool)
	UpdatedAt() time.Time
	Save(ctx context.Context, cfg config.RuntimeDBConfig) error
}

// HandlerDeps lists everything a Handler needs. All fields are required
// except MaxBodyBytes.
type HandlerDeps struct {
	Catalog *pivot.Catalog
	Engine  *pivot.Engine
	Cache   *cache.Cache
	Pool    Warehouse
	Store   ConfigStore

	ServiceName  string
	Environment  string
	MaxBodyBytes int64
}

// Handler serves every endpoint of the service.
type Handler struct {
	catalog *pivot.Catalog
	engine  *pivot.Engine
	cache   *cache.Cache
	pool    Warehouse
	store   ConfigStore

	serviceName  string
	environment  string
	maxBodyBytes int64
}

// NewHandler creates a Handler.
func NewHandler(deps HandlerDeps) *Handler {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultChiMiddlewareConfig().MaxBodyBytes
	}
	return &Handler{
		catalog:      deps.Catalog,
		engine:       deps.Engine,
		cache:        deps.Cache,
		pool:         deps.Pool,
		store:        deps.Store,
		serviceName:  deps.ServiceName,
		environment:  deps.Environment,
		maxBodyBytes: deps.MaxBodyBytes,
	}
}

var errBodyTooLarge = errors.New("request body too large")

// decodeJSONBody reads at most maxBodyBytes and decodes them into dst,
// rejecting unknown fields.
func (h *Handler) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		return fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("request body is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// writeDecodeError answers a decodeJSONBody failure.
func writeDecodeError(rw *ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		rw.Error(http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, err.Error())
		return
	}
	rw.BadRequest(err.Error())
}
