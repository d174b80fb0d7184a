// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package api

import "net/http"

// HealthResponse is the payload of GET /salud.
type HealthResponse struct {
	Estado   string `json:"estado"`
	Servicio string `json:"servicio"`
	Ambiente string `json:"ambiente"`

	// BaseDatos reports whether a warehouse pool is up. The service is
	// healthy without one.
	BaseDatos bool `json:"base_datos"`
}

// Health reports liveness.
//
// @Summary Health check
// @Description Returns service name and environment. Does not touch the warehouse.
// @Tags Core
// @Produce json
// @Success 200 {object} APIResponse{data=HealthResponse}
// @Router /salud [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(HealthResponse{
		Estado:    "ok",
		Servicio:  h.serviceName,
		Ambiente:  h.environment,
		BaseDatos: h.pool.IsConfigured(),
	})
}
