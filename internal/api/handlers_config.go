// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/saludbi/cubo/internal/cache"
	"github.com/saludbi/cubo/internal/config"
	"github.com/saludbi/cubo/internal/database"
	"github.com/saludbi/cubo/internal/logging"
	"github.com/saludbi/cubo/internal/validation"
)

// Defaults applied to omitted fields of a configuration update.
const (
	defaultMaxConnections   = 50
	defaultMaxQueueDepth    = 200
	defaultConnectTimeoutMs = 20000
	defaultCharset          = "utf8mb4"
)

// DBConfigRequest is the body of PUT /api/configuracion/bd.
type DBConfigRequest struct {
	Driver   string `json:"driver" validate:"required,oneof=mysql duckdb"`
	Host     string `json:"host" validate:"max=255"`
	Port     int    `json:"port" validate:"gte=0,lte=65535"`
	Username string `json:"username" validate:"max=128"`

	// Password nil keeps the saved password; "" clears it.
	Password *string `json:"password,omitempty" validate:"omitempty,max=256"`

	Database      string `json:"database" validate:"max=1024"`
	TLSEnabled    bool   `json:"tls_enabled"`
	TLSSkipVerify bool   `json:"tls_skip_verify"`

	MaxConnections   int    `json:"max_connections,omitempty" validate:"gte=0,lte=1000"`
	MaxQueueDepth    *int   `json:"max_queue_depth,omitempty" validate:"omitempty,gte=0,lte=100000"`
	ConnectTimeoutMs int    `json:"connect_timeout_ms,omitempty" validate:"gte=0,lte=600000"`
	Charset          string `json:"charset,omitempty" validate:"omitempty,alphanum,max=32"`
}

// runtimeConfig merges req over defaults, keeping the saved password when
// req omits one.
func (req *DBConfigRequest) runtimeConfig(current config.RuntimeDBConfig, hasCurrent bool) config.RuntimeDBConfig {
	cfg := config.RuntimeDBConfig{
		Driver:           req.Driver,
		Host:             req.Host,
		Port:             req.Port,
		Username:         req.Username,
		Database:         req.Database,
		TLSEnabled:       req.TLSEnabled,
		TLSSkipVerify:    req.TLSSkipVerify,
		MaxConnections:   req.MaxConnections,
		MaxQueueDepth:    defaultMaxQueueDepth,
		ConnectTimeoutMs: req.ConnectTimeoutMs,
		Charset:          req.Charset,
	}
	switch {
	case req.Password != nil:
		cfg.Password = *req.Password
	case hasCurrent:
		cfg.Password = current.Password
	}
	if req.MaxQueueDepth != nil {
		cfg.MaxQueueDepth = *req.MaxQueueDepth
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if cfg.ConnectTimeoutMs == 0 {
		cfg.ConnectTimeoutMs = defaultConnectTimeoutMs
	}
	if cfg.Charset == "" && cfg.Driver == config.DriverMySQL {
		cfg.Charset = defaultCharset
	}
	return cfg
}

// DBConfigView is the masked configuration returned to clients.
type DBConfigView struct {
	Configured  bool                    `json:"configured"`
	Config      *config.RuntimeDBConfig `json:"config,omitempty"`
	PasswordSet bool                    `json:"password_set"`

	// Source is "saved" or "environment".
	Source    string          `json:"source,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
	Pool      database.Status `json:"pool"`
}

func (h *Handler) dbConfigView() DBConfigView {
	view := DBConfigView{Pool: h.pool.Status()}

	cfg, ok := h.store.Current()
	if !ok {
		return view
	}
	redacted := cfg.Redacted()
	view.Configured = true
	view.Config = &redacted
	view.PasswordSet = cfg.Password != ""
	view.Source = "environment"
	if at := h.store.UpdatedAt(); !at.IsZero() {
		view.Source = "saved"
		view.UpdatedAt = &at
	}
	return view
}

// GetDBConfig returns the current warehouse configuration without its
// password.
//
// @Summary Get warehouse configuration
// @Description Returns the active connection settings with the password masked, plus pool status.
// @Tags Configuration
// @Produce json
// @Success 200 {object} APIResponse{data=DBConfigView}
// @Router /api/configuracion/bd [get]
func (h *Handler) GetDBConfig(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.dbConfigView())
}

// PutDBConfig validates a new configuration, checks that it connects,
// saves it, rebuilds the pool and drops every cached pivot result.
//
// @Summary Update warehouse configuration
// @Description Probes the new connection before saving. In-flight queries finish on the old pool.
// @Tags Configuration
// @Accept json
// @Produce json
// @Param config body DBConfigRequest true "Connection settings"
// @Success 200 {object} APIResponse{data=DBConfigView}
// @Failure 400 {object} APIResponse "Invalid settings or connection failed"
// @Failure 413 {object} APIResponse "Body too large"
// @Failure 500 {object} APIResponse "Could not save or apply"
// @Router /api/configuracion/bd [put]
func (h *Handler) PutDBConfig(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ctx := r.Context()
	log := logging.Ctx(ctx)

	var req DBConfigRequest
	if err := h.decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(rw, err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	current, hasCurrent := h.store.Current()
	cfg := req.runtimeConfig(current, hasCurrent)
	if err := cfg.Validate(); err != nil {
		rw.ValidationError(err.Error(), nil)
		return
	}

	if err := h.pool.Probe(ctx, cfg); err != nil {
		log.Warn().Err(err).Str("target", cfg.Target()).Msg("Warehouse connection probe failed")
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeConnectionFailed,
			"Could not connect with the given settings", map[string]any{"target": cfg.Target()})
		return
	}

	if err := h.store.Save(ctx, cfg); err != nil {
		if errors.Is(err, config.ErrConfigInvalid) {
			rw.ValidationError(err.Error(), nil)
			return
		}
		log.Error().Err(err).Msg("Failed to save warehouse configuration")
		rw.Error(http.StatusInternalServerError, ErrCodeInternalError, "Failed to save configuration")
		return
	}

	initErr := h.pool.Initialize(ctx)
	removed := h.cache.DeleteByPrefix(cache.PivotPrefix)
	log.Info().
		Str("target", cfg.Target()).
		Int("cache_entries_removed", removed).
		Msg("Warehouse configuration updated")

	if initErr != nil {
		rw.ServiceError(initErr)
		return
	}
	rw.Success(h.dbConfigView())
}
