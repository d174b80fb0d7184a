// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

/*
Package middleware provides the observability middleware of the HTTP stack.

Key Components:

  - PrometheusMetrics: request count, duration and in-flight gauge, labelled
    by chi route pattern so path parameters do not explode cardinality
  - AccessLog: one structured zerolog line per request

Both are chi-compatible (func(http.Handler) http.Handler) and capture the
status code through chi's WrapResponseWriter, so they compose with
middleware.Compress and the rate limiters:

	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AccessLog)

Route patterns are only known after routing, so both read
chi.RouteContext once the wrapped handler returns. Requests that matched
no route are labelled "unmatched".

See Also:

  - internal/api: router and handlers wrapped by this middleware
  - internal/metrics: collector definitions
*/
package middleware
