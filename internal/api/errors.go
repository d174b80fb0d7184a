// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package api

import (
	"errors"
	"net/http"

	"github.com/saludbi/cubo/internal/config"
	"github.com/saludbi/cubo/internal/database"
	"github.com/saludbi/cubo/internal/logging"
	"github.com/saludbi/cubo/internal/pivot"
)

// ServiceError maps a catalog, engine or pool error onto the envelope.
// Order matters: an ExecutionFailed wrapping a Timeout is a 504.
func (rw *ResponseWriter) ServiceError(err error) {
	switch {
	case errors.Is(err, pivot.ErrUnknownDimension):
		rw.Error(http.StatusBadRequest, ErrCodeUnknownDimension, err.Error())
	case errors.Is(err, pivot.ErrInvalidSpec):
		rw.ValidationError(err.Error(), nil)
	case errors.Is(err, database.ErrNotConfigured),
		errors.Is(err, config.ErrConfigMissing),
		errors.Is(err, database.ErrClosed):
		rw.DatabaseNotConfigured("The warehouse connection is not configured")
	case errors.Is(err, database.ErrTimeout):
		logging.Ctx(rw.r.Context()).Warn().Err(err).Msg("Warehouse query timed out")
		rw.Error(http.StatusGatewayTimeout, ErrCodeQueryTimeout, "The query exceeded its time limit")
	default:
		rw.DatabaseError(err)
	}
}
