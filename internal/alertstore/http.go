// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package alertstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/detection"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/metrics"
)

// HTTPConfig configures the external alert API client.
type HTTPConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// HTTPStore persists alerts to an external alert API: POST to create,
// GET with query parameters to list or count. Calls go through a circuit
// breaker so an unavailable API fails fast instead of stalling dispatch.
type HTTPStore struct {
	url    string
	token  string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]
	name   string
}

// httpAlert is the external API's representation of an alert.
type httpAlert struct {
	ID                      string            `json:"id,omitempty"`
	Type                    string            `json:"type"`
	EmployeeID              string            `json:"employeeId"`
	CustomerID              string            `json:"customerId,omitempty"`
	AbuseType               string            `json:"abuseType"`
	Details                 detection.Details `json:"details"`
	Severity                string            `json:"severity"`
	Message                 string            `json:"message"`
	ViolationCount          int               `json:"violationCount,omitempty"`
	TimeWindow              string            `json:"timeWindow,omitempty"`
	RequiresAction          bool              `json:"requiresAction"`
	RequiresImmediateAction bool              `json:"requiresImmediateAction"`
	Timestamp               time.Time         `json:"timestamp"`
}

func toHTTPAlert(a *alerting.AbuseAlert) httpAlert {
	return httpAlert{
		ID:                      a.ID,
		Type:                    string(a.Type),
		EmployeeID:              a.EmployeeID,
		CustomerID:              a.CustomerID,
		AbuseType:               string(a.AbuseType),
		Details:                 a.Details,
		Severity:                string(a.Severity),
		Message:                 a.Message,
		ViolationCount:          a.ViolationCount,
		TimeWindow:              a.TimeWindow,
		RequiresAction:          a.RequiresAction,
		RequiresImmediateAction: a.RequiresImmediateAction,
		Timestamp:               a.Timestamp,
	}
}

func (h httpAlert) toAlert() alerting.AbuseAlert {
	return alerting.AbuseAlert{
		ID:                      h.ID,
		Type:                    alerting.AlertType(h.Type),
		EmployeeID:              h.EmployeeID,
		CustomerID:              h.CustomerID,
		AbuseType:               detection.AbuseType(h.AbuseType),
		Severity:                detection.Severity(h.Severity),
		Details:                 h.Details,
		Message:                 h.Message,
		ViolationCount:          h.ViolationCount,
		TimeWindow:              h.TimeWindow,
		RequiresAction:          h.RequiresAction,
		RequiresImmediateAction: h.RequiresImmediateAction,
		Timestamp:               h.Timestamp,
	}
}

// NewHTTPStore creates the client and its circuit breaker.
// Circuit breaker configuration:
// - Max 1 trial request in half-open state
// - 1 minute measurement window
// - 30 second timeout before attempting recovery
// - Opens after 5 consecutive failures
func NewHTTPStore(cfg HTTPConfig) *HTTPStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	name := "alert-store-http"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Warn().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &HTTPStore{
		url:    cfg.URL,
		token:  cfg.Token,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     cb,
		name:   name,
	}
}

// SaveAlert POSTs the alert and returns the identifier from the response.
func (s *HTTPStore) SaveAlert(ctx context.Context, alert *alerting.AbuseAlert) (string, error) {
	body, err := json.Marshal(toHTTPAlert(alert))
	if err != nil {
		return "", fmt.Errorf("marshal alert: %w", err)
	}

	resp, err := s.do(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if len(bytes.TrimSpace(resp)) > 0 {
		if err := json.Unmarshal(resp, &created); err != nil {
			return "", fmt.Errorf("decode alert store response: %w", err)
		}
	}
	return created.ID, nil
}

// CountAlerts asks the API for a count only.
func (s *HTTPStore) CountAlerts(ctx context.Context, filter alerting.AlertFilter) (int, error) {
	q := filterQuery(filter)
	q.Set("count", "true")

	resp, err := s.do(ctx, http.MethodGet, s.url+"?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return 0, fmt.Errorf("decode alert count: %w", err)
	}
	return out.Count, nil
}

// ListAlerts fetches matching alerts.
func (s *HTTPStore) ListAlerts(ctx context.Context, filter alerting.AlertFilter) ([]alerting.AbuseAlert, error) {
	resp, err := s.do(ctx, http.MethodGet, s.url+"?"+filterQuery(filter).Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Alerts []httpAlert `json:"alerts"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("decode alert list: %w", err)
	}
	alerts := make([]alerting.AbuseAlert, 0, len(out.Alerts))
	for _, a := range out.Alerts {
		alerts = append(alerts, a.toAlert())
	}
	return alerts, nil
}

// GetAlert fetches one alert from <url>/<id>. A 404 is
// alerting.ErrAlertNotFound and does not count against the breaker.
func (s *HTTPStore) GetAlert(ctx context.Context, id string) (*alerting.AbuseAlert, error) {
	resp, err := s.do(ctx, http.MethodGet, s.url+"/"+url.PathEscape(id), nil)
	if isNotFound(err) {
		return nil, alerting.ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	var out httpAlert
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	alert := out.toAlert()
	return &alert, nil
}

func filterQuery(f alerting.AlertFilter) url.Values {
	q := url.Values{}
	if f.EmployeeID != "" {
		q.Set("employeeId", f.EmployeeID)
	}
	if f.Type != "" {
		q.Set("type", string(f.Type))
	}
	if f.AbuseType != "" {
		q.Set("abuseType", string(f.AbuseType))
	}
	if !f.Since.IsZero() {
		q.Set("since", f.Since.UTC().Format(time.RFC3339Nano))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

// do runs one request through the breaker. Non-2xx responses count as
// failures.
func (s *HTTPStore) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	result, err := s.cb.Execute(func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, fmt.Errorf("create alert store request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("alert store request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }() //nolint:errcheck // Best effort cleanup

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("read alert store response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		return data, nil
	})

	switch {
	case err == nil, isNotFound(err):
		metrics.CircuitBreakerRequests.WithLabelValues(s.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(s.name, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(s.name, "failure").Inc()
	}
	return result, err
}

// State returns the breaker state.
func (s *HTTPStore) State() gobreaker.State {
	return s.cb.State()
}

// StatusError is a non-2xx response from the alert API.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("alert store returned status %d", e.StatusCode)
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
