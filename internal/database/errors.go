// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package database

import (
	"errors"
	"fmt"
	"io"

	"github.com/saludbi/cubo/internal/logging"
)

var (
	// ErrNotConfigured is returned by Execute when no pool is active and
	// lazy initialization could not build one.
	ErrNotConfigured = errors.New("database not configured")

	// ErrTimeout is returned when a query outlives its deadline. The
	// caller's wait is abandoned; the driver is asked to cancel.
	ErrTimeout = errors.New("query timeout")

	// ErrQueryFailed wraps driver errors, admission rejections and an open
	// circuit breaker.
	ErrQueryFailed = errors.New("query failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pool manager closed")
)

// InitError reports why a pool could not be built. The manager stays
// unconfigured after it.
type InitError struct {
	Target string
	Cause  error
}

func (e *InitError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("pool initialization failed: %v", e.Cause)
	}
	return fmt.Sprintf("pool initialization failed for %s: %v", e.Target, e.Cause)
}

func (e *InitError) Unwrap() error {
	return e.Cause
}

// closeWithLog closes a resource and logs any error.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}
