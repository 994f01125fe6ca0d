// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/auth"
	"github.com/tomtom215/scanguard/internal/detection"
	"github.com/tomtom215/scanguard/internal/ledger"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/quota"
	"github.com/tomtom215/scanguard/internal/scanguard"
	"github.com/tomtom215/scanguard/internal/validation"
	"github.com/tomtom215/scanguard/internal/websocket"
)

const (
	maxBodyBytes      = 16 << 10
	defaultAlertLimit = 100
	maxAlertLimit     = 1000
	maxAlertIDLength  = 128
)

// ScanEngine is the part of *scanguard.Engine the handlers use.
type ScanEngine interface {
	ProcessScan(ctx context.Context, req scanguard.ScanRequest) (*scanguard.ScanResult, error)
	CheckEmployeeScan(ctx context.Context, employeeID string, now time.Time) error
	CheckCustomerScan(ctx context.Context, customerID string, now time.Time) (quota.CustomerUsage, error)
	Now() time.Time
	Stats() ledger.Stats
}

// AlertReader is the alert store surface the admin endpoints read.
type AlertReader interface {
	ListAlerts(ctx context.Context, filter alerting.AlertFilter) ([]alerting.AbuseAlert, error)
	GetAlert(ctx context.Context, id string) (*alerting.AbuseAlert, error)
}

// Handler serves the ScanGuard HTTP endpoints.
type Handler struct {
	engine    ScanEngine
	detectors DetectorAdmin
	store     AlertReader
	hub       *websocket.Hub
	upgrader  gorillaws.Upgrader
	auth      *auth.Middleware
	startTime time.Time
}

// NewHandler creates the handler set. Detectors, Store and Hub may be nil;
// the corresponding endpoints then answer 503.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		engine:    deps.Engine,
		detectors: deps.Detectors,
		store:     deps.Store,
		hub:       deps.Hub,
		upgrader:  deps.Upgrader,
		auth:      deps.Auth,
		startTime: time.Now(),
	}
}

// scanBody is the client payload for a scan. The employee is the token subject.
type scanBody struct {
	CustomerID string `json:"customer_id"`
	Points     int    `json:"points"`
}

// checkBody is the client payload for a dry-run check.
type checkBody struct {
	CustomerID string `json:"customer_id" validate:"required,identity"`
}

// CheckResult is the standing of an employee/customer pair before a scan.
type CheckResult struct {
	Allowed     bool            `json:"allowed"`
	ScansToday  int             `json:"scans_today"`
	MaxScans    int             `json:"max_scans"`
	PointsToday int             `json:"points_today"`
	MaxPoints   int             `json:"max_points"`
	Warnings    []quota.Warning `json:"warnings,omitempty"`
}

// HealthStatus is the liveness payload.
type HealthStatus struct {
	Status           string  `json:"status"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	WebSocketClients int     `json:"websocket_clients"`
}

// LedgerStatus is the ledger occupancy payload.
type LedgerStatus struct {
	ledger.Stats
	WebSocketClients int `json:"websocket_clients"`
}

// RecordScan handles POST /api/v1/scans.
func (h *Handler) RecordScan(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		rw.Unauthorized("Authentication required")
		return
	}

	var body scanBody
	if err := decodeBody(w, r, &body); err != nil {
		rw.BadRequest(err.Error())
		return
	}

	req := scanguard.ScanRequest{
		EmployeeID: claims.Subject,
		CustomerID: body.CustomerID,
		Points:     body.Points,
	}
	if ve := validation.ValidateStruct(&req); ve != nil {
		rw.Validation(ve)
		return
	}
	if req.CustomerID == claims.Subject {
		rw.SelfScan()
		return
	}

	result, err := h.engine.ProcessScan(r.Context(), req)
	if err != nil {
		rw.EngineError(err)
		return
	}
	rw.Success(result)
}

// CheckScan handles POST /api/v1/scans/check. It runs both quota gates
// without recording anything. Customer notifications are still sent.
func (h *Handler) CheckScan(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		rw.Unauthorized("Authentication required")
		return
	}

	var body checkBody
	if err := decodeBody(w, r, &body); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if ve := validation.ValidateStruct(&body); ve != nil {
		rw.Validation(ve)
		return
	}
	if body.CustomerID == claims.Subject {
		rw.SelfScan()
		return
	}

	now := h.engine.Now()
	if err := h.engine.CheckEmployeeScan(r.Context(), claims.Subject, now); err != nil {
		rw.EngineError(err)
		return
	}
	usage, err := h.engine.CheckCustomerScan(r.Context(), body.CustomerID, now)
	if err != nil {
		rw.EngineError(err)
		return
	}

	rw.Success(CheckResult{
		Allowed:     true,
		ScansToday:  usage.DailyScans,
		MaxScans:    usage.MaxScans,
		PointsToday: usage.PointsToday,
		MaxPoints:   usage.MaxPoints,
		Warnings:    usage.Warnings(),
	})
}

// alertsQuery holds the GET /api/v1/alerts query parameters.
type alertsQuery struct {
	EmployeeID string `json:"employee_id" validate:"omitempty,identity"`
	Type       string `json:"type" validate:"omitempty,oneof=abuse_alert abuse_escalation"`
	AbuseType  string `json:"abuse_type" validate:"omitempty,oneof=repeated_scans rapid_fire unusual_hours abuse_escalation"`
	Limit      int    `json:"limit" validate:"gte=1,lte=1000"`
}

// ListAlerts handles GET /api/v1/alerts (admin only). Results are newest first.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.store == nil {
		rw.ServiceUnavailable("Alert store is not configured")
		return
	}

	q := r.URL.Query()
	params := alertsQuery{
		EmployeeID: q.Get("employee_id"),
		Type:       q.Get("type"),
		AbuseType:  q.Get("abuse_type"),
		Limit:      defaultAlertLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			rw.BadRequest("limit must be an integer")
			return
		}
		params.Limit = n
	}
	if ve := validation.ValidateStruct(&params); ve != nil {
		rw.Validation(ve)
		return
	}

	filter := alerting.AlertFilter{
		EmployeeID: params.EmployeeID,
		Type:       alerting.AlertType(params.Type),
		AbuseType:  detection.AbuseType(params.AbuseType),
		Limit:      params.Limit,
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			rw.BadRequest("since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	alerts, err := h.store.ListAlerts(r.Context(), filter)
	if err != nil {
		rw.StoreError(err)
		return
	}
	if alerts == nil {
		alerts = []alerting.AbuseAlert{}
	}
	rw.SuccessList(alerts, len(alerts))
}

// GetAlert handles GET /api/v1/alerts/{id} (admin only).
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.store == nil {
		rw.ServiceUnavailable("Alert store is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxAlertIDLength {
		rw.BadRequest("invalid alert id")
		return
	}

	alert, err := h.store.GetAlert(r.Context(), id)
	if errors.Is(err, alerting.ErrAlertNotFound) {
		rw.NotFound("Alert not found")
		return
	}
	if err != nil {
		rw.StoreError(err)
		return
	}
	rw.Success(alert)
}

// LedgerStats handles GET /api/v1/ledger/stats (admin only).
func (h *Handler) LedgerStats(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(LedgerStatus{
		Stats:            h.engine.Stats(),
		WebSocketClients: h.websocketClients(),
	})
}

// WebSocket handles GET /ws. The token may be passed as access_token because
// browsers cannot set headers on upgrade requests.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		NewResponseWriter(w, r).ServiceUnavailable("Realtime delivery is disabled")
		return
	}
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		NewResponseWriter(w, r).Unauthorized("Authentication required")
		return
	}

	identity := websocket.Identity{Subject: claims.Subject, Admin: h.auth.IsAdmin(claims)}
	if err := websocket.ServeWS(h.hub, h.upgrader, w, r, identity); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("subject", claims.Subject).Msg("websocket upgrade failed")
	}
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(HealthStatus{
		Status:           "ok",
		UptimeSeconds:    time.Since(h.startTime).Seconds(),
		WebSocketClients: h.websocketClients(),
	})
}

func (h *Handler) websocketClients() int {
	if h.hub == nil {
		return 0
	}
	return h.hub.GetClientCount()
}

// decodeBody reads one JSON object of at most maxBodyBytes into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return ErrBodyTooLarge
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		default:
			return fmt.Errorf("invalid JSON body: %w", err)
		}
	}
	return nil
}
