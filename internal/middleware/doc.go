// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

/*
Package middleware provides chi-compatible HTTP middleware shared by the API.

Key Components:

  - RequestID: X-Request-ID handling plus a correlation ID and request-scoped
    logger for the logging package
  - PrometheusMetrics: request count and latency per chi route pattern

Typical stack (see internal/api):

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

See Also:

  - internal/auth: identity token middleware
  - internal/metrics: Prometheus metrics definitions
*/
package middleware
