// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/scanguard/internal/auth"
	"github.com/tomtom215/scanguard/internal/detection"
	"github.com/tomtom215/scanguard/internal/logging"
)

// DetectorAdmin is the part of *detection.Engine the detector endpoints use.
type DetectorAdmin interface {
	Overview() detection.Overview
	DetectorStatus(abuseType detection.AbuseType) (detection.DetectorStatus, error)
	ConfigureDetector(abuseType detection.AbuseType, raw json.RawMessage) error
	SetDetectorEnabled(abuseType detection.AbuseType, enabled bool) error
}

// detectorUpdate is the PUT /api/v1/detectors/{type} payload. Config is
// merged into the current configuration, so it may name only the fields
// being changed, e.g. {"config":{"high_at":8}}.
type detectorUpdate struct {
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

// ListDetectors handles GET /api/v1/detectors (admin only).
func (h *Handler) ListDetectors(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.detectors == nil {
		rw.ServiceUnavailable("Detection engine is not configured")
		return
	}
	overview := h.detectors.Overview()
	rw.SuccessList(overview, len(overview.Detectors))
}

// UpdateDetector handles PUT /api/v1/detectors/{type} (admin only). Config
// is applied before enabled, and a rejected config leaves the detector
// untouched.
func (h *Handler) UpdateDetector(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.detectors == nil {
		rw.ServiceUnavailable("Detection engine is not configured")
		return
	}

	abuseType := detection.AbuseType(chi.URLParam(r, "type"))
	if _, err := h.detectors.DetectorStatus(abuseType); errors.Is(err, detection.ErrUnknownDetector) {
		rw.NotFound("No such detector")
		return
	}

	var body detectorUpdate
	if err := decodeBody(w, r, &body); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if body.Enabled == nil && len(body.Config) == 0 {
		rw.BadRequest("enabled or config is required")
		return
	}

	if len(body.Config) > 0 {
		if err := h.detectors.ConfigureDetector(abuseType, body.Config); err != nil {
			rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
			return
		}
	}
	if body.Enabled != nil {
		if err := h.detectors.SetDetectorEnabled(abuseType, *body.Enabled); err != nil {
			rw.NotFound("No such detector")
			return
		}
	}

	status, err := h.detectors.DetectorStatus(abuseType)
	if err != nil {
		rw.NotFound("No such detector")
		return
	}

	event := logging.Ctx(r.Context()).Info().
		Str("detector", string(abuseType)).
		Bool("enabled", status.Enabled).
		Bool("config_changed", len(body.Config) > 0)
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		event = event.Str("by", claims.Subject)
	}
	event.Msg("detector updated by admin")

	rw.Success(status)
}
