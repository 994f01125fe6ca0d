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

// RapidFireConfig configures the rapid_fire detector.
type RapidFireConfig struct {
	Threshold  int `json:"threshold"`
	HighAt     int `json:"high_at"`
	CriticalAt int `json:"critical_at"`
}

// DefaultRapidFireConfig returns default configuration.
func DefaultRapidFireConfig() RapidFireConfig {
	return RapidFireConfig{
		Threshold:  20,
		HighAt:     30,
		CriticalAt: 50,
	}
}

// RapidFireDetector flags bursts of scans by one employee within 60 seconds,
// regardless of which customers were scanned.
type RapidFireDetector struct {
	config  RapidFireConfig
	counts  ScanCounter
	enabled bool
	mu      sync.RWMutex
}

// NewRapidFireDetector creates a new rapid fire detector.
func NewRapidFireDetector(counts ScanCounter) *RapidFireDetector {
	return &RapidFireDetector{
		config:  DefaultRapidFireConfig(),
		counts:  counts,
		enabled: true,
	}
}

// Type returns the abuse type.
func (d *RapidFireDetector) Type() AbuseType {
	return AbuseTypeRapidFire
}

// Check evaluates the event against the rapid fire rule.
func (d *RapidFireDetector) Check(_ context.Context, event *ScanEvent) (*Detection, error) {
	d.mu.RLock()
	if !d.enabled {
		d.mu.RUnlock()
		return nil, nil
	}
	config := d.config
	d.mu.RUnlock()

	if event.EmployeeID == "" {
		return nil, nil
	}

	count := d.counts.CountRapidFire(event.EmployeeID, event.Timestamp)
	if count <= config.Threshold {
		return nil, nil
	}

	return &Detection{
		AbuseType: AbuseTypeRapidFire,
		Severity:  steppedSeverity(count, config.HighAt, config.CriticalAt),
		Details: Details{
			Count:      count,
			Threshold:  config.Threshold,
			TimeWindow: "60 seconds",
		},
	}, nil
}

// Configure merges config into the current configuration. Fields absent
// from config keep their values.
func (d *RapidFireDetector) Configure(config json.RawMessage) error {
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
func (d *RapidFireDetector) SetThreshold(threshold int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.Threshold = threshold
}

// Enabled returns whether the detector is enabled.
func (d *RapidFireDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *RapidFireDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Config returns the current configuration.
func (d *RapidFireDetector) Config() RapidFireConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// CurrentConfig returns Config for the admin listing.
func (d *RapidFireDetector) CurrentConfig() interface{} {
	return d.Config()
}
