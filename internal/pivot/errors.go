// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package pivot

import "errors"

var (
	// ErrInvalidSpec means the request cannot be answered as written. It is
	// returned before the cache or the warehouse are touched.
	ErrInvalidSpec = errors.New("invalid pivot specification")

	// ErrUnknownDimension is returned by dimension lookups for an id the
	// catalog does not define.
	ErrUnknownDimension = errors.New("unknown dimension")

	// ErrExecutionFailed wraps warehouse failures, keeping the database
	// error (ErrTimeout, ErrNotConfigured, ErrQueryFailed) in the chain.
	ErrExecutionFailed = errors.New("pivot execution failed")
)
