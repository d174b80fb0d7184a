// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/saludbi/cubo/docs" // registers the swagger spec
	"github.com/saludbi/cubo/internal/middleware"
)

// Router binds the handlers to their routes and middleware.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a Router. A nil mw uses the default limits.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw}
}

// SetupChi builds the HTTP handler for every route.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()
	h := router.handler
	mw := router.chiMiddleware

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS()) // global so OPTIONS preflights are answered
	r.Use(middleware.AccessLog)
	r.Use(middleware.PrometheusMetrics)
	r.Use(chimiddleware.Compress(5, "application/json"))
	r.Use(mw.RateLimitGlobal())
	r.Use(mw.BodyLimit())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	r.With(APISecurityHeaders()).Get("/salud", h.Health)

	// ========================
	// Observability
	// ========================
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	))

	r.Route("/api", func(r chi.Router) {
		r.Use(APISecurityHeaders())

		r.Get("/configuracion/bd", h.GetDBConfig)
		r.Put("/configuracion/bd", h.PutDBConfig)

		r.Route("/pivot", func(r chi.Router) {
			r.Get("/cache/stats", h.CacheStats)
			r.Delete("/cache", h.CacheInvalidate)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireDatabaseConfigured)

				catalogLimit := mw.RateLimitCatalog()
				r.With(catalogLimit).Get("/catalogo", h.Catalog)
				r.With(catalogLimit).Get("/anios", h.Years)
				r.With(catalogLimit).Get("/dimensiones/{dimensionId}/valores", h.DimensionValues)

				r.With(mw.RateLimitPivot()).Post("/consulta", h.Query)
			})
		})
	})

	return r
}
