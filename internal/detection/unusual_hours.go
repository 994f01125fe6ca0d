// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// UnusualHoursConfig configures the unusual_hours detector.
// Both bounds are inclusive local hours. A start later than the end wraps
// past midnight, so 23..5 covers 23:00 through 05:59.
type UnusualHoursConfig struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// DefaultUnusualHoursConfig returns default configuration.
func DefaultUnusualHoursConfig() UnusualHoursConfig {
	return UnusualHoursConfig{
		StartHour: 23,
		EndHour:   5,
	}
}

// Contains reports whether hour falls inside the window.
func (c UnusualHoursConfig) Contains(hour int) bool {
	if c.StartHour <= c.EndHour {
		return hour >= c.StartHour && hour <= c.EndHour
	}
	return hour >= c.StartHour || hour <= c.EndHour
}

// UnusualHoursDetector flags scans made during the night window.
type UnusualHoursDetector struct {
	config   UnusualHoursConfig
	location *time.Location
	enabled  bool
	mu       sync.RWMutex
}

// NewUnusualHoursDetector creates a detector that reads the hour in loc.
// A nil loc uses time.Local.
func NewUnusualHoursDetector(loc *time.Location) *UnusualHoursDetector {
	if loc == nil {
		loc = time.Local
	}
	return &UnusualHoursDetector{
		config:   DefaultUnusualHoursConfig(),
		location: loc,
		enabled:  true,
	}
}

// Type returns the abuse type.
func (d *UnusualHoursDetector) Type() AbuseType {
	return AbuseTypeUnusualHours
}

// Check evaluates the event against the unusual hours rule.
func (d *UnusualHoursDetector) Check(_ context.Context, event *ScanEvent) (*Detection, error) {
	d.mu.RLock()
	if !d.enabled {
		d.mu.RUnlock()
		return nil, nil
	}
	config := d.config
	loc := d.location
	d.mu.RUnlock()

	hour := event.Timestamp.In(loc).Hour()
	if !config.Contains(hour) {
		return nil, nil
	}

	return &Detection{
		AbuseType: AbuseTypeUnusualHours,
		Severity:  SeverityLow,
		Details: Details{
			Count:      1,
			TimeWindow: fmt.Sprintf("%02d:00-%02d:59", config.StartHour, config.EndHour),
			Hour:       &hour,
		},
	}, nil
}

// Configure merges config into the current configuration. Fields absent
// from config keep their values.
func (d *UnusualHoursDetector) Configure(config json.RawMessage) error {
	newConfig := d.Config()
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if newConfig.StartHour < 0 || newConfig.StartHour > 23 {
		return fmt.Errorf("start_hour must be between 0 and 23")
	}
	if newConfig.EndHour < 0 || newConfig.EndHour > 23 {
		return fmt.Errorf("end_hour must be between 0 and 23")
	}

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()

	return nil
}

// Enabled returns whether the detector is enabled.
func (d *UnusualHoursDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *UnusualHoursDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Config returns the current configuration.
func (d *UnusualHoursDetector) Config() UnusualHoursConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// CurrentConfig returns Config for the admin listing.
func (d *UnusualHoursDetector) CurrentConfig() interface{} {
	return d.Config()
}
