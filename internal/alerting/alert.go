// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/scanguard/internal/detection"
)

// AlertType distinguishes ordinary alerts from escalations.
type AlertType string

const (
	TypeAbuseAlert      AlertType = "abuse_alert"
	TypeAbuseEscalation AlertType = "abuse_escalation"
)

// AbuseAlert is a structured alert handed to the alert store. It is not
// modified after Raise returns.
type AbuseAlert struct {
	ID         string              `json:"id"`
	Type       AlertType           `json:"type"`
	EmployeeID string              `json:"employee_id"`
	CustomerID string              `json:"customer_id,omitempty"`
	AbuseType  detection.AbuseType `json:"abuse_type"`
	Severity   detection.Severity  `json:"severity"`
	Details    detection.Details   `json:"details"`
	Message    string              `json:"message"`

	// ViolationCount and TimeWindow are set on escalations.
	ViolationCount int    `json:"violation_count,omitempty"`
	TimeWindow     string `json:"time_window,omitempty"`

	RequiresAction          bool      `json:"requires_action"`
	RequiresImmediateAction bool      `json:"requires_immediate_action"`
	Timestamp               time.Time `json:"timestamp"`
}

// IsEscalation reports whether the alert is an escalation.
func (a *AbuseAlert) IsEscalation() bool {
	return a.Type == TypeAbuseEscalation
}

// NewAbuseAlert builds an ordinary alert from a detection. HIGH and CRITICAL
// alerts require action.
func NewAbuseAlert(employeeID, customerID string, d detection.Detection, now time.Time) *AbuseAlert {
	return &AbuseAlert{
		ID:             uuid.New().String(),
		Type:           TypeAbuseAlert,
		EmployeeID:     employeeID,
		CustomerID:     customerID,
		AbuseType:      d.AbuseType,
		Severity:       d.Severity,
		Details:        d.Details,
		Message:        abuseMessage(employeeID, customerID, d),
		RequiresAction: d.Severity.Rank() >= detection.SeverityHigh.Rank(),
		Timestamp:      now,
	}
}

// NewEscalationAlert builds the CRITICAL escalation for an employee that
// accumulated violations alerts within window.
func NewEscalationAlert(employeeID string, violations int, window time.Duration, now time.Time) *AbuseAlert {
	desc := describeWindow(window)
	return &AbuseAlert{
		ID:             uuid.New().String(),
		Type:           TypeAbuseEscalation,
		EmployeeID:     employeeID,
		AbuseType:      detection.AbuseTypeEscalation,
		Severity:       detection.SeverityCritical,
		Details:        detection.Details{Count: violations, TimeWindow: desc},
		Message:        fmt.Sprintf("Employee %s triggered %d abuse alerts within %s", employeeID, violations, desc),
		ViolationCount: violations,
		TimeWindow:     desc,

		RequiresAction:          true,
		RequiresImmediateAction: true,
		Timestamp:               now,
	}
}

func abuseMessage(employeeID, customerID string, d detection.Detection) string {
	switch d.AbuseType {
	case detection.AbuseTypeRepeatedScans:
		return fmt.Sprintf("Employee %s scanned customer %s %d times within %s (threshold %d)",
			employeeID, customerID, d.Details.Count, d.Details.TimeWindow, d.Details.Threshold)
	case detection.AbuseTypeRapidFire:
		return fmt.Sprintf("Employee %s made %d scans within %s (threshold %d)",
			employeeID, d.Details.Count, d.Details.TimeWindow, d.Details.Threshold)
	case detection.AbuseTypeUnusualHours:
		return fmt.Sprintf("Employee %s scanned customer %s during unusual hours (%s)",
			employeeID, customerID, d.Details.TimeWindow)
	default:
		return fmt.Sprintf("Employee %s triggered %s", employeeID, d.AbuseType)
	}
}

func describeWindow(d time.Duration) string {
	switch {
	case d == 24*time.Hour:
		return "24 hours"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}

// AlertFilter narrows ListAlerts and CountAlerts. Zero fields match all.
type AlertFilter struct {
	EmployeeID string              `json:"employee_id,omitempty"`
	Type       AlertType           `json:"type,omitempty"`
	AbuseType  detection.AbuseType `json:"abuse_type,omitempty"`
	Since      time.Time           `json:"since,omitempty"`
	Limit      int                 `json:"limit,omitempty"`
}

// Matches reports whether a satisfies the filter, ignoring Limit.
func (f AlertFilter) Matches(a *AbuseAlert) bool {
	if f.EmployeeID != "" && a.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.AbuseType != "" && a.AbuseType != f.AbuseType {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// ErrAlertNotFound is returned by a store for an unknown alert ID.
var ErrAlertNotFound = errors.New("alert not found")

// AlertStore is the system of record for alerts.
type AlertStore interface {
	// SaveAlert persists an alert and returns the identifier the store
	// assigned. An empty identifier keeps the alert's own ID.
	SaveAlert(ctx context.Context, alert *AbuseAlert) (string, error)

	// CountAlerts counts stored alerts matching the filter.
	CountAlerts(ctx context.Context, filter AlertFilter) (int, error)

	// ListAlerts returns matching alerts, newest first.
	ListAlerts(ctx context.Context, filter AlertFilter) ([]AbuseAlert, error)
}
