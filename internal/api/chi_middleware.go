// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/saludbi/cubo/internal/config"
	"github.com/saludbi/cubo/internal/logging"
)

// ChiMiddlewareConfig holds configuration for Chi middleware factories.
type ChiMiddlewareConfig struct {
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int // seconds

	RateLimitGlobal   int
	RateLimitCatalog  int
	RateLimitPivot    int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool

	MaxBodyBytes int64
}

// DefaultChiMiddlewareConfig returns the limits the service ships with.
// CORS origins default to empty and must be configured explicitly.
func DefaultChiMiddlewareConfig() *ChiMiddlewareConfig {
	return &ChiMiddlewareConfig{
		CORSAllowedOrigins: []string{},
		CORSAllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		CORSMaxAge:         86400,

		RateLimitGlobal:  300,
		RateLimitCatalog: 60,
		RateLimitPivot:   10,
		RateLimitWindow:  time.Minute,

		MaxBodyBytes: 1 << 20,
	}
}

// ChiMiddlewareConfigFrom maps the security section of the process config.
func ChiMiddlewareConfigFrom(sec config.SecurityConfig) *ChiMiddlewareConfig {
	cfg := DefaultChiMiddlewareConfig()
	cfg.CORSAllowedOrigins = sec.CORSOrigins
	cfg.RateLimitDisabled = sec.RateLimitDisabled
	if sec.RateLimitGlobal > 0 {
		cfg.RateLimitGlobal = sec.RateLimitGlobal
	}
	if sec.RateLimitCatalog > 0 {
		cfg.RateLimitCatalog = sec.RateLimitCatalog
	}
	if sec.RateLimitPivot > 0 {
		cfg.RateLimitPivot = sec.RateLimitPivot
	}
	if sec.RateLimitWindow > 0 {
		cfg.RateLimitWindow = sec.RateLimitWindow
	}
	if sec.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = sec.MaxBodyBytes
	}
	return cfg
}

// ChiMiddleware provides Chi-compatible middleware factories.
type ChiMiddleware struct {
	config *ChiMiddlewareConfig
	cors   func(http.Handler) http.Handler
}

// NewChiMiddleware creates a middleware factory. A nil config uses the
// defaults.
func NewChiMiddleware(config *ChiMiddlewareConfig) *ChiMiddleware {
	if config == nil {
		config = DefaultChiMiddlewareConfig()
	}

	return &ChiMiddleware{
		config: config,
		cors: cors.Handler(cors.Options{
			AllowedOrigins: config.CORSAllowedOrigins,
			AllowedMethods: config.CORSAllowedMethods,
			AllowedHeaders: config.CORSAllowedHeaders,
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         config.CORSMaxAge,
		}),
	}
}

// CORS returns the go-chi/cors handler.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimitGlobal limits every route per client IP.
func (m *ChiMiddleware) RateLimitGlobal() func(http.Handler) http.Handler {
	return m.rateLimit(m.config.RateLimitGlobal)
}

// RateLimitCatalog limits the catalog lookups (catalogo, anios, valores).
// One instance must be shared by the three routes so they draw from a
// single budget.
func (m *ChiMiddleware) RateLimitCatalog() func(http.Handler) http.Handler {
	return m.rateLimit(m.config.RateLimitCatalog)
}

// RateLimitPivot limits pivot executions, the expensive endpoint.
func (m *ChiMiddleware) RateLimitPivot() func(http.Handler) http.Handler {
	return m.rateLimit(m.config.RateLimitPivot)
}

func (m *ChiMiddleware) rateLimit(requests int) func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		requests,
		m.config.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			NewResponseWriter(w, r).TooManyRequests("Too many requests, try again later")
		}),
	)
}

// BodyLimit caps request bodies at MaxBodyBytes.
func (m *ChiMiddleware) BodyLimit() func(http.Handler) http.Handler {
	return chimiddleware.RequestSize(m.config.MaxBodyBytes)
}

// RequestIDWithLogging wraps chi's RequestID middleware and puts the ID
// and a fresh correlation ID into the logging context. The ID is echoed
// back in X-Request-ID.
func RequestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		chiRequestID := chimiddleware.RequestID(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(chimiddleware.RequestIDHeader)
			if requestID == "" {
				requestID = logging.GenerateRequestID()
				r.Header.Set(chimiddleware.RequestIDHeader, requestID)
			}
			w.Header().Set(chimiddleware.RequestIDHeader, requestID)

			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			ctx = logging.ContextWithNewCorrelationID(ctx)

			chiRequestID.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APISecurityHeaders adds the headers every JSON response carries. HSTS
// is only sent over HTTPS or behind a TLS-terminating proxy.
func APISecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireDatabaseConfigured rejects requests with 503 while no warehouse
// configuration exists at all. A saved configuration whose pool is not up
// yet passes through: the first query initializes it lazily.
func (h *Handler) RequireDatabaseConfigured(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.pool.IsConfigured() {
			if _, ok := h.store.Current(); !ok {
				NewResponseWriter(w, r).DatabaseNotConfigured(
					"Configure the warehouse connection at /api/configuracion/bd first")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
