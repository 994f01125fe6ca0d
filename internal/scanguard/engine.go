// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package scanguard

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/clock"
	"github.com/tomtom215/scanguard/internal/config"
	"github.com/tomtom215/scanguard/internal/detection"
	"github.com/tomtom215/scanguard/internal/ledger"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/quota"
)

// lockStripes is the number of per-identity lock stripes ProcessScan uses.
const lockStripes = 256

// ErrMissingIdentity is returned when a scan request lacks an employee or
// customer identifier.
var ErrMissingIdentity = errors.New("employee and customer identifiers are required")

// Dependencies are the external collaborators. Nil sinks are skipped.
type Dependencies struct {
	Clock    clock.Clock
	Store    alerting.AlertStore
	Realtime alerting.RealtimeSink
	Email    alerting.EmailSink
}

// Engine is the scan-abuse engine: quota gates, the scan ledger, pattern
// detection and alert dispatch behind one object.
type Engine struct {
	clock      clock.Clock
	ledger     *ledger.Ledger
	enforcer   *quota.Enforcer
	detector   *detection.Engine
	dispatcher *alerting.Dispatcher
	sweeper    *ledger.Sweeper

	stripes [lockStripes]sync.Mutex
}

// New builds an engine from configuration. The returned engine owns its
// ledger; call Close when done. Background work (sweeper, outbox) runs only
// once Sweeper and Outbox are served.
func New(cfg *config.Config, deps Dependencies) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	loc := cfg.Ledger.Location()

	l := ledger.New(ledger.Config{
		Location:              loc,
		HourlyRetention:       cfg.Ledger.HourlyRetention,
		DailyRetention:        cfg.Ledger.DailyRetention,
		CarryPointsAcrossDays: cfg.Ledger.CarryPointsAcrossDays,
	})

	outbox := alerting.NewOutbox(alerting.OutboxConfig{
		QueueSize: cfg.Notify.QueueSize,
		Workers:   cfg.Notify.Workers,
		Timeout:   cfg.Notify.SendTimeout,
	})
	tracker := alerting.NewEscalationTracker(deps.Store, cfg.Abuse.EscalationThreshold, cfg.Abuse.EscalationWindow, cfg.Notify.StoreTimeout)
	dispatcher := alerting.NewDispatcher(alerting.DispatcherConfig{
		Store:        deps.Store,
		Realtime:     deps.Realtime,
		Email:        deps.Email,
		Outbox:       outbox,
		Recipients:   alerting.RecipientSelectorFromConfig(cfg.Notify.Recipients),
		Escalation:   tracker,
		StoreTimeout: cfg.Notify.StoreTimeout,
	})

	sweeper := ledger.NewSweeper(l, deps.Clock, cfg.Ledger.SweepInterval)
	sweeper.AfterSweep(func(now time.Time) {
		if n := tracker.Prune(now); n > 0 {
			logging.Debug().Int("employees", n).Msg("pruned escalation cache")
		}
	})

	return &Engine{
		clock:      deps.Clock,
		ledger:     l,
		enforcer:   quota.NewEnforcer(l, quota.LimitsFromConfig(cfg)),
		detector:   detection.NewEngineFromConfig(l, cfg.Abuse, loc),
		dispatcher: dispatcher,
		sweeper:    sweeper,
	}
}

// Ledger returns the scan ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Outbox returns the notification outbox. It must be served for
// notifications to be delivered.
func (e *Engine) Outbox() *alerting.Outbox { return e.dispatcher.Outbox() }

// Sweeper returns the retention sweeper. It also prunes the escalation cache.
func (e *Engine) Sweeper() *ledger.Sweeper { return e.sweeper }

// Detector returns the pattern detection engine.
func (e *Engine) Detector() *detection.Engine { return e.detector }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Stats returns ledger occupancy.
func (e *Engine) Stats() ledger.Stats { return e.ledger.Stats() }

// Close releases the ledger.
func (e *Engine) Close() error { return e.ledger.Close() }

// CheckEmployeeScan applies the hourly, cooldown and daily employee limits.
// A rejection is a *quota.QuotaError.
func (e *Engine) CheckEmployeeScan(ctx context.Context, employeeID string, now time.Time) error {
	err := e.enforcer.CheckEmployee(employeeID, now)
	if err != nil {
		logging.Ctx(ctx).Info().
			Str("employee_id", employeeID).
			Err(err).
			Msg("employee scan rejected")
	}
	return err
}

// RecordEmployeeScan records an accepted scan for the employee.
func (e *Engine) RecordEmployeeScan(employeeID, customerID string, now time.Time) {
	e.ledger.RecordEmployeeScan(employeeID, customerID, now)
}

// CheckCustomerScan applies the customer daily limits and notifies the
// customer: a customer_scan_limit event on rejection, otherwise one
// customer_scan_warning per dimension near its limit. Usage reflects the
// state before the current attempt is recorded.
func (e *Engine) CheckCustomerScan(ctx context.Context, customerID string, now time.Time) (quota.CustomerUsage, error) {
	usage, err := e.enforcer.CheckCustomer(customerID, now)

	var qe *quota.QuotaError
	if errors.As(err, &qe) {
		logging.Ctx(ctx).Info().
			Str("customer_id", customerID).
			Str("reason", qe.Code()).
			Msg("customer scan rejected")
		e.dispatcher.Publish(alerting.Event{
			Name:      alerting.EventCustomerScanLimit,
			Audience:  alerting.AudienceCustomer,
			Target:    customerID,
			Data:      limitNotice(qe),
			Timestamp: now,
		})
		return usage, err
	}

	for _, w := range usage.Warnings() {
		e.dispatcher.Publish(alerting.Event{
			Name:      alerting.EventCustomerScanWarning,
			Audience:  alerting.AudienceCustomer,
			Target:    customerID,
			Data:      warningNotice(w),
			Timestamp: now,
		})
	}
	return usage, err
}

// RecordCustomerScan records an accepted scan and its points for the
// customer. Non-positive points count as one.
func (e *Engine) RecordCustomerScan(customerID string, points int, now time.Time) {
	e.ledger.RecordCustomerScan(customerID, points, now)
}

// DetectAndRaiseAbuse evaluates the just-recorded scan and raises an alert
// for every detection, plus any escalation. It never fails; delivery
// problems are logged by the dispatcher.
func (e *Engine) DetectAndRaiseAbuse(ctx context.Context, employeeID, customerID string, now time.Time) []alerting.AbuseAlert {
	detections := e.detector.Evaluate(ctx, employeeID, customerID, now)
	if len(detections) == 0 {
		return nil
	}

	var alerts []alerting.AbuseAlert
	for _, d := range detections {
		alerts = append(alerts, e.dispatcher.Raise(ctx, employeeID, customerID, d, now)...)
	}
	return alerts
}

// ScanRequest is one scan attempt from an authenticated employee.
type ScanRequest struct {
	EmployeeID string `json:"employee_id" validate:"required,identity"`
	CustomerID string `json:"customer_id" validate:"required,identity"`
	Points     int    `json:"points" validate:"gte=0,lte=1000"`
}

// ScanResult is the outcome of an accepted scan.
type ScanResult struct {
	Accepted    bool                  `json:"accepted"`
	ScannedAt   time.Time             `json:"scanned_at"`
	Alerts      []alerting.AbuseAlert `json:"alerts,omitempty"`
	Warnings    []quota.Warning       `json:"warnings,omitempty"`
	PointsToday int                   `json:"points_today"`
	ScansToday  int                   `json:"scans_today"`
}

// ProcessScan runs the whole pipeline at the clock's current time: employee
// check, customer check, record, detect, dispatch. A rejected scan is not
// recorded and returns a *quota.QuotaError. Detection and alerting never
// change an accepted outcome.
//
// The check and the record are atomic per employee and per customer, so
// concurrent requests cannot both pass a limit that has one slot left.
func (e *Engine) ProcessScan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if req.EmployeeID == "" || req.CustomerID == "" {
		return nil, ErrMissingIdentity
	}

	unlock := e.lockPair(req.EmployeeID, req.CustomerID)
	now := e.clock.Now()

	if err := e.CheckEmployeeScan(ctx, req.EmployeeID, now); err != nil {
		unlock()
		return nil, err
	}
	usage, err := e.CheckCustomerScan(ctx, req.CustomerID, now)
	if err != nil {
		unlock()
		return nil, err
	}

	e.RecordEmployeeScan(req.EmployeeID, req.CustomerID, now)
	e.RecordCustomerScan(req.CustomerID, req.Points, now)
	unlock()

	points := req.Points
	if points <= 0 {
		points = ledger.DefaultPoints
	}
	result := &ScanResult{
		Accepted:    true,
		ScannedAt:   now,
		Warnings:    usage.Warnings(),
		PointsToday: usage.PointsToday + points,
		ScansToday:  usage.DailyScans + 1,
	}

	// The outcome is decided; a canceled request still gets its alerts.
	result.Alerts = e.DetectAndRaiseAbuse(context.WithoutCancel(ctx), req.EmployeeID, req.CustomerID, now)

	logging.Ctx(ctx).Debug().
		Str("employee_id", req.EmployeeID).
		Str("customer_id", req.CustomerID).
		Int("alerts", len(result.Alerts)).
		Msg("scan accepted")
	return result, nil
}

// lockPair locks the stripes for both identities in index order and returns
// the unlock function.
func (e *Engine) lockPair(employeeID, customerID string) func() {
	a, b := stripe("e:"+employeeID), stripe("c:"+customerID)
	if a == b {
		e.stripes[a].Lock()
		return e.stripes[a].Unlock
	}
	if a > b {
		a, b = b, a
	}
	e.stripes[a].Lock()
	e.stripes[b].Lock()
	return func() {
		e.stripes[b].Unlock()
		e.stripes[a].Unlock()
	}
}

func stripe(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % lockStripes
}
