// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package detection

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// AbuseType identifies an abuse signature.
type AbuseType string

const (
	// AbuseTypeRepeatedScans flags one employee scanning the same customer too often.
	AbuseTypeRepeatedScans AbuseType = "repeated_scans"

	// AbuseTypeRapidFire flags bursts of scans within a minute.
	AbuseTypeRapidFire AbuseType = "rapid_fire"

	// AbuseTypeUnusualHours flags scans during the night window.
	AbuseTypeUnusualHours AbuseType = "unusual_hours"

	// AbuseTypeEscalation is raised by the dispatcher, never by a detector.
	AbuseTypeEscalation AbuseType = "abuse_escalation"
)

// Severity indicates the severity level of a detection or alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Details describes what tripped a detector.
type Details struct {
	Count      int    `json:"count"`
	Threshold  int    `json:"threshold"`
	TimeWindow string `json:"time_window"`
	// Hour is set for unusual_hours only.
	Hour *int `json:"hour,omitempty"`
}

// Detection is one triggered abuse signature.
type Detection struct {
	AbuseType AbuseType `json:"abuse_type"`
	Severity  Severity  `json:"severity"`
	Details   Details   `json:"details"`
}

// ScanEvent is the scan being evaluated. It has already been recorded.
type ScanEvent struct {
	EmployeeID string    `json:"employee_id"`
	CustomerID string    `json:"customer_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Detector is the interface all abuse detectors implement.
type Detector interface {
	// Type returns the abuse signature this detector produces.
	Type() AbuseType

	// Check evaluates the event. It returns nil when nothing triggered.
	Check(ctx context.Context, event *ScanEvent) (*Detection, error)

	// Configure merges JSON into the detector configuration.
	Configure(config json.RawMessage) error

	// CurrentConfig returns the configuration in the shape Configure accepts.
	CurrentConfig() interface{}

	Enabled() bool
	SetEnabled(enabled bool)
}

// ScanCounter is the read-only ledger surface the detectors use.
type ScanCounter interface {
	CountRepeatedCustomerWithinHour(employeeID, customerID string, now time.Time) int
	CountRapidFire(employeeID string, now time.Time) int
}
