// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/scanguard/internal/auth"
	"github.com/tomtom215/scanguard/internal/middleware"
	"github.com/tomtom215/scanguard/internal/websocket"
)

// defaultEmployeeRole is used when Deps.EmployeeRole is empty.
const defaultEmployeeRole = "employee"

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Engine    ScanEngine
	Detectors DetectorAdmin
	Store     AlertReader
	Hub       *websocket.Hub
	Upgrader  gorillaws.Upgrader
	Auth      *auth.Middleware

	// EmployeeRole is the token role allowed to record scans besides admin.
	EmployeeRole string

	// Middleware configures CORS and rate limits. Nil uses the defaults.
	Middleware *ChiMiddlewareConfig
}

// NewRouter builds the chi route tree.
//
//	GET  /healthz               liveness, unauthenticated
//	GET  /metrics               Prometheus exposition
//	POST /api/v1/scans             employee: record a scan for the token subject
//	POST /api/v1/scans/check       employee: quota dry run
//	GET  /api/v1/alerts            admin: stored alerts
//	GET  /api/v1/alerts/{id}       admin: one stored alert
//	GET  /api/v1/detectors         admin: detector config and counters
//	PUT  /api/v1/detectors/{type}  admin: reconfigure or toggle a detector
//	GET  /api/v1/ledger/stats      admin: ledger occupancy
//	GET  /ws                       realtime events
func NewRouter(deps Deps) http.Handler {
	h := NewHandler(deps)
	mw := NewChiMiddleware(deps.Middleware)

	employeeRole := deps.EmployeeRole
	if employeeRole == "" {
		employeeRole = defaultEmployeeRole
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS()) // CORS must be global to handle OPTIONS preflight

	r.With(mw.RateLimitHealth()).Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(middleware.PrometheusMetrics)
		r.Use(deps.Auth.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireRole(employeeRole))
			r.Post("/scans", h.RecordScan)
			r.Post("/scans/check", h.CheckScan)
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireAdmin)
			r.Get("/alerts", h.ListAlerts)
			r.Get("/alerts/{id}", h.GetAlert)
			r.Get("/detectors", h.ListDetectors)
			r.Put("/detectors/{type}", h.UpdateDetector)
			r.Get("/ledger/stats", h.LedgerStats)
		})
	})

	r.With(mw.RateLimitWebSocket(), deps.Auth.Authenticate).Get("/ws", h.WebSocket)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("No such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	return r
}
