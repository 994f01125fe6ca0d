// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package detection

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
)

// RepeatedScansConfig configures the repeated_scans detector.
type RepeatedScansConfig struct {
	// Threshold is exceeded when the hourly count for one employee/customer
	// pair is strictly greater.
	Threshold int `json:"threshold"`

	// HighAt and CriticalAt are the counts at which severity steps up.
	HighAt     int `json:"high_at"`
	CriticalAt int `json:"critical_at"`
}

// DefaultRepeatedScansConfig returns default configuration.
func DefaultRepeatedScansConfig() RepeatedScansConfig {
	return RepeatedScansConfig{
		Threshold:  5,
		HighAt:     7,
		CriticalAt: 10,
	}
}

// RepeatedScansDetector flags an employee scanning the same customer many
// times within an hour.
type RepeatedScansDetector struct {
	config  RepeatedScansConfig
	counts  ScanCounter
	enabled bool
	mu      sync.RWMutex
}

// NewRepeatedScansDetector creates a new repeated scans detector.
func NewRepeatedScansDetector(counts ScanCounter) *RepeatedScansDetector {
	return &RepeatedScansDetector{
		config:  DefaultRepeatedScansConfig(),
		counts:  counts,
		enabled: true,
	}
}

// Type returns the abuse type.
func (d *RepeatedScansDetector) Type() AbuseType {
	return AbuseTypeRepeatedScans
}

// Check evaluates the event against the repeated scans rule.
func (d *RepeatedScansDetector) Check(_ context.Context, event *ScanEvent) (*Detection, error) {
	d.mu.RLock()
	if !d.enabled {
		d.mu.RUnlock()
		return nil, nil
	}
	config := d.config
	d.mu.RUnlock()

	if event.EmployeeID == "" || event.CustomerID == "" {
		return nil, nil
	}

	count := d.counts.CountRepeatedCustomerWithinHour(event.EmployeeID, event.CustomerID, event.Timestamp)
	if count <= config.Threshold {
		return nil, nil
	}

	return &Detection{
		AbuseType: AbuseTypeRepeatedScans,
		Severity:  steppedSeverity(count, config.HighAt, config.CriticalAt),
		Details: Details{
			Count:      count,
			Threshold:  config.Threshold,
			TimeWindow: "1 hour",
		},
	}, nil
}

// Configure merges config into the current configuration. Fields absent
// from config keep their values.
func (d *RepeatedScansDetector) Configure(config json.RawMessage) error {
	newConfig := d.Config()
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if newConfig.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive")
	}
	if newConfig.HighAt <= 0 || newConfig.CriticalAt < newConfig.HighAt {
		return fmt.Errorf("severity steps must satisfy 0 < high_at <= critical_at")
	}

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()

	return nil
}

// SetThreshold changes only the trigger threshold.
func (d *RepeatedScansDetector) SetThreshold(threshold int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.Threshold = threshold
}

// Enabled returns whether the detector is enabled.
func (d *RepeatedScansDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *RepeatedScansDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Config returns the current configuration.
func (d *RepeatedScansDetector) Config() RepeatedScansConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// CurrentConfig returns Config for the admin listing.
func (d *RepeatedScansDetector) CurrentConfig() interface{} {
	return d.Config()
}

// steppedSeverity maps a count onto MEDIUM, HIGH or CRITICAL.
func steppedSeverity(count, highAt, criticalAt int) Severity {
	switch {
	case count >= criticalAt:
		return SeverityCritical
	case count >= highAt:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
