// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/scanguard/internal/config"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/metrics"
)

// ErrUnknownDetector is returned for an abuse type with no registered detector.
var ErrUnknownDetector = errors.New("unknown detector")

// Engine runs the registered detectors over a scan. It holds no scan state
// of its own; everything is read from the ledger through the detectors.
type Engine struct {
	detectors map[AbuseType]Detector
	order     []AbuseType

	mu           sync.RWMutex
	enabled      bool
	metricsStore *EngineMetrics
}

// EngineMetrics tracks detection engine activity.
type EngineMetrics struct {
	EventsEvaluated     int64
	DetectionsGenerated int64
	DetectionErrors     int64
	LastEvaluatedAt     time.Time
	DetectorMetrics     map[AbuseType]*DetectorMetrics
	mu                  sync.RWMutex
}

// DetectorMetrics tracks individual detector activity.
type DetectorMetrics struct {
	EventsChecked       int64      `json:"events_checked"`
	DetectionsGenerated int64      `json:"detections_generated"`
	Errors              int64      `json:"errors"`
	LastTriggeredAt     *time.Time `json:"last_triggered_at,omitempty"`
}

// DetectorStatus is the admin view of one registered detector.
type DetectorStatus struct {
	Type    AbuseType       `json:"type"`
	Enabled bool            `json:"enabled"`
	Config  interface{}     `json:"config"`
	Metrics DetectorMetrics `json:"metrics"`
}

// Overview is the admin view of the engine and its detectors.
type Overview struct {
	Enabled             bool             `json:"enabled"`
	EventsEvaluated     int64            `json:"events_evaluated"`
	DetectionsGenerated int64            `json:"detections_generated"`
	DetectionErrors     int64            `json:"detection_errors"`
	LastEvaluatedAt     *time.Time       `json:"last_evaluated_at,omitempty"`
	Detectors           []DetectorStatus `json:"detectors"`
}

// NewEngine creates an empty, enabled engine.
func NewEngine() *Engine {
	return &Engine{
		detectors: make(map[AbuseType]Detector),
		enabled:   true,
		metricsStore: &EngineMetrics{
			DetectorMetrics: make(map[AbuseType]*DetectorMetrics),
		},
	}
}

// NewEngineFromConfig registers the three built-in detectors with the
// thresholds from the abuse section.
func NewEngineFromConfig(counts ScanCounter, cfg config.AbuseConfig, loc *time.Location) *Engine {
	e := NewEngine()
	e.SetEnabled(cfg.PatternDetectionEnabled)

	repeated := NewRepeatedScansDetector(counts)
	repeated.SetThreshold(cfg.ThresholdSameCustomer)
	e.RegisterDetector(repeated)

	rapid := NewRapidFireDetector(counts)
	rapid.SetThreshold(cfg.ThresholdRapidScans)
	e.RegisterDetector(rapid)

	hours := NewUnusualHoursDetector(loc)
	hours.config = UnusualHoursConfig{StartHour: cfg.UnusualHoursStart, EndHour: cfg.UnusualHoursEnd}
	hours.SetEnabled(cfg.UnusualHoursEnabled)
	e.RegisterDetector(hours)

	return e
}

// RegisterDetector adds a detector to the engine. Detectors run in
// registration order; re-registering a type replaces it in place.
func (e *Engine) RegisterDetector(detector Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()

	abuseType := detector.Type()
	if _, exists := e.detectors[abuseType]; !exists {
		e.order = append(e.order, abuseType)
	}
	e.detectors[abuseType] = detector

	e.metricsStore.mu.Lock()
	e.metricsStore.DetectorMetrics[abuseType] = &DetectorMetrics{}
	e.metricsStore.mu.Unlock()

	logging.Debug().Str("detector", string(abuseType)).Bool("enabled", detector.Enabled()).Msg("registered detector")
}

// Evaluate runs every enabled detector for a scan that has just been
// recorded. It returns nothing when pattern detection is disabled. A failing
// detector is logged and skipped; the others still run.
func (e *Engine) Evaluate(ctx context.Context, employeeID, customerID string, now time.Time) []Detection {
	if !e.Enabled() {
		return nil
	}

	start := time.Now()
	event := &ScanEvent{EmployeeID: employeeID, CustomerID: customerID, Timestamp: now}

	detectors := e.getEnabledDetectors()
	detections, errs := e.runDetectors(ctx, detectors, event)
	for _, err := range errs {
		logging.Ctx(ctx).Warn().Err(err).Str("employee_id", employeeID).Msg("detector failed")
	}

	e.metricsStore.mu.Lock()
	e.metricsStore.EventsEvaluated++
	e.metricsStore.LastEvaluatedAt = start
	e.metricsStore.mu.Unlock()
	metrics.DetectionDuration.Observe(time.Since(start).Seconds())

	return detections
}

// getEnabledDetectors returns enabled detectors in registration order.
func (e *Engine) getEnabledDetectors() []Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()

	detectors := make([]Detector, 0, len(e.order))
	for _, t := range e.order {
		if d := e.detectors[t]; d.Enabled() {
			detectors = append(detectors, d)
		}
	}
	return detectors
}

// runDetectors executes all detectors and collects detections and errors.
func (e *Engine) runDetectors(ctx context.Context, detectors []Detector, event *ScanEvent) ([]Detection, []error) {
	var detections []Detection
	var errs []error

	for _, detector := range detectors {
		detection, err := e.runSingleDetector(ctx, detector, event)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if detection != nil {
			detections = append(detections, *detection)
		}
	}

	return detections, errs
}

// runSingleDetector executes one detector and updates its metrics.
func (e *Engine) runSingleDetector(ctx context.Context, detector Detector, event *ScanEvent) (*Detection, error) {
	abuseType := detector.Type()

	e.metricsStore.mu.Lock()
	if m, ok := e.metricsStore.DetectorMetrics[abuseType]; ok {
		m.EventsChecked++
	}
	e.metricsStore.mu.Unlock()

	detection, err := detector.Check(ctx, event)
	if err != nil {
		e.metricsStore.mu.Lock()
		if m, ok := e.metricsStore.DetectorMetrics[abuseType]; ok {
			m.Errors++
		}
		e.metricsStore.DetectionErrors++
		e.metricsStore.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", abuseType, err)
	}

	if detection != nil {
		e.metricsStore.mu.Lock()
		if m, ok := e.metricsStore.DetectorMetrics[abuseType]; ok {
			m.DetectionsGenerated++
			at := event.Timestamp
			m.LastTriggeredAt = &at
		}
		e.metricsStore.DetectionsGenerated++
		e.metricsStore.mu.Unlock()

		metrics.RecordDetection(string(detection.AbuseType), string(detection.Severity))
	}

	return detection, nil
}

// SetEnabled enables or disables the detection engine.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// Enabled returns whether the engine is enabled.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// GetDetector returns a detector by abuse type.
func (e *Engine) GetDetector(abuseType AbuseType) (Detector, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.detectors[abuseType]
	return d, ok
}

// ListDetectors returns all registered detectors in registration order.
func (e *Engine) ListDetectors() []Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()

	detectors := make([]Detector, 0, len(e.order))
	for _, t := range e.order {
		detectors = append(detectors, e.detectors[t])
	}
	return detectors
}

// Metrics returns a copy of the engine metrics.
func (e *Engine) Metrics() EngineMetrics {
	e.metricsStore.mu.RLock()
	defer e.metricsStore.mu.RUnlock()

	detectorMetrics := make(map[AbuseType]*DetectorMetrics, len(e.metricsStore.DetectorMetrics))
	for k, v := range e.metricsStore.DetectorMetrics {
		cp := *v
		detectorMetrics[k] = &cp
	}

	return EngineMetrics{
		EventsEvaluated:     e.metricsStore.EventsEvaluated,
		DetectionsGenerated: e.metricsStore.DetectionsGenerated,
		DetectionErrors:     e.metricsStore.DetectionErrors,
		LastEvaluatedAt:     e.metricsStore.LastEvaluatedAt,
		DetectorMetrics:     detectorMetrics,
	}
}

// ConfigureDetector merges raw into one detector's configuration.
func (e *Engine) ConfigureDetector(abuseType AbuseType, raw json.RawMessage) error {
	detector, ok := e.GetDetector(abuseType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDetector, abuseType)
	}
	if err := detector.Configure(raw); err != nil {
		return err
	}
	logging.Info().Str("detector", string(abuseType)).Msg("detector reconfigured")
	return nil
}

// SetDetectorEnabled enables or disables one detector.
func (e *Engine) SetDetectorEnabled(abuseType AbuseType, enabled bool) error {
	detector, ok := e.GetDetector(abuseType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDetector, abuseType)
	}
	detector.SetEnabled(enabled)
	logging.Info().Str("detector", string(abuseType)).Bool("enabled", enabled).Msg("detector toggled")
	return nil
}

// DetectorStatus returns the admin view of one detector.
func (e *Engine) DetectorStatus(abuseType AbuseType) (DetectorStatus, error) {
	detector, ok := e.GetDetector(abuseType)
	if !ok {
		return DetectorStatus{}, fmt.Errorf("%w: %s", ErrUnknownDetector, abuseType)
	}
	return e.status(detector), nil
}

// Overview lists the registered detectors in registration order with the
// engine counters.
func (e *Engine) Overview() Overview {
	m := e.Metrics()
	out := Overview{
		Enabled:             e.Enabled(),
		EventsEvaluated:     m.EventsEvaluated,
		DetectionsGenerated: m.DetectionsGenerated,
		DetectionErrors:     m.DetectionErrors,
		Detectors:           []DetectorStatus{},
	}
	if !m.LastEvaluatedAt.IsZero() {
		at := m.LastEvaluatedAt
		out.LastEvaluatedAt = &at
	}
	for _, d := range e.ListDetectors() {
		out.Detectors = append(out.Detectors, e.status(d))
	}
	return out
}

func (e *Engine) status(d Detector) DetectorStatus {
	s := DetectorStatus{Type: d.Type(), Enabled: d.Enabled(), Config: d.CurrentConfig()}

	e.metricsStore.mu.RLock()
	if dm, ok := e.metricsStore.DetectorMetrics[d.Type()]; ok {
		s.Metrics = *dm
	}
	e.metricsStore.mu.RUnlock()
	return s
}
