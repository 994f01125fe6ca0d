// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

// Package quota classifies scan attempts against the hourly, daily and
// cooldown limits. It reads the ledger and never writes to it; whether a
// rejected scan is still recorded is the caller's decision.
package quota

import (
	"errors"
	"time"

	"github.com/tomtom215/scanguard/internal/config"
	"github.com/tomtom215/scanguard/internal/ledger"
	"github.com/tomtom215/scanguard/internal/metrics"
)

// Reader is the subset of the ledger the enforcer needs.
type Reader interface {
	EmployeeSnapshot(employeeID, customerID string, now time.Time) ledger.EmployeeSnapshot
	CustomerSnapshot(customerID string, now time.Time) ledger.CustomerSnapshot
}

// Limits are the quota thresholds. A zero limit disables that rule.
type Limits struct {
	Enabled bool

	EmployeeMaxPerHour int
	EmployeeMaxPerDay  int
	Cooldown           time.Duration

	CustomerMaxScansPerDay  int
	CustomerMaxPointsPerDay int
	WarningRatio            float64
}

// LimitsFromConfig maps the employee, customer and abuse sections.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		Enabled:                 cfg.Abuse.Enabled,
		EmployeeMaxPerHour:      cfg.Employee.MaxScansPerHour,
		EmployeeMaxPerDay:       cfg.Employee.MaxScansPerDay,
		Cooldown:                cfg.Employee.Cooldown(),
		CustomerMaxScansPerDay:  cfg.Customer.MaxScansPerDay,
		CustomerMaxPointsPerDay: cfg.Customer.MaxPointsPerDay,
		WarningRatio:            cfg.Customer.WarningRatio,
	}
}

// Enforcer applies Limits to ledger snapshots.
type Enforcer struct {
	ledger Reader
	limits Limits
}

// NewEnforcer creates an enforcer. limits.WarningRatio is used as given;
// config validation keeps it inside (0, 1).
func NewEnforcer(l Reader, limits Limits) *Enforcer {
	return &Enforcer{ledger: l, limits: limits}
}

// CheckEmployee evaluates the hourly limit, then the cooldown, then the daily
// limit. The first violated rule is returned as a *QuotaError.
func (e *Enforcer) CheckEmployee(employeeID string, now time.Time) error {
	err := e.checkEmployee(employeeID, now)
	recordOutcome("employee", err)
	return err
}

func (e *Enforcer) checkEmployee(employeeID string, now time.Time) error {
	if !e.limits.Enabled {
		return nil
	}
	snap := e.ledger.EmployeeSnapshot(employeeID, "", now)

	if limit := e.limits.EmployeeMaxPerHour; limit > 0 && snap.HourlyCount >= limit {
		return &QuotaError{Reason: ReasonHourlyLimit, Subject: employeeID, Current: snap.HourlyCount, Limit: limit}
	}

	if cd := e.limits.Cooldown; cd > 0 && snap.HasPriorScan() {
		if elapsed := now.Sub(snap.LastScanAt); elapsed < cd {
			return &QuotaError{
				Reason:     ReasonCooldown,
				Subject:    employeeID,
				Current:    int(elapsed / time.Second),
				Limit:      int(cd / time.Second),
				RetryAfter: cd - elapsed,
			}
		}
	}

	if limit := e.limits.EmployeeMaxPerDay; limit > 0 && snap.DailyCount >= limit {
		return &QuotaError{Reason: ReasonDailyLimit, Subject: employeeID, Current: snap.DailyCount, Limit: limit}
	}
	return nil
}

// Warning is a near-limit notice for one customer dimension.
type Warning struct {
	Dimension string `json:"dimension"` // "scans" or "points"
	Current   int    `json:"current"`
	Limit     int    `json:"limit"`
}

// CustomerUsage is the customer's standing before the current attempt is
// recorded.
type CustomerUsage struct {
	CustomerID  string
	DailyScans  int
	MaxScans    int
	PointsToday int
	MaxPoints   int

	ratio    float64
	rejected bool
}

// Warnings returns the dimensions at or above the warning ratio but still
// below their limit. A rejected check has no warnings.
func (u CustomerUsage) Warnings() []Warning {
	if u.rejected {
		return nil
	}
	var out []Warning
	if nearLimit(u.DailyScans, u.MaxScans, u.ratio) {
		out = append(out, Warning{Dimension: "scans", Current: u.DailyScans, Limit: u.MaxScans})
	}
	if nearLimit(u.PointsToday, u.MaxPoints, u.ratio) {
		out = append(out, Warning{Dimension: "points", Current: u.PointsToday, Limit: u.MaxPoints})
	}
	return out
}

func nearLimit(value, limit int, ratio float64) bool {
	if limit <= 0 {
		return false
	}
	return float64(value) >= ratio*float64(limit) && value < limit
}

// CheckCustomer evaluates the daily scan limit, then the daily points limit.
// The usage is returned in both cases so callers can build the customer
// notification.
func (e *Enforcer) CheckCustomer(customerID string, now time.Time) (CustomerUsage, error) {
	snap := e.ledger.CustomerSnapshot(customerID, now)
	usage := CustomerUsage{
		CustomerID:  customerID,
		DailyScans:  snap.DailyCount,
		MaxScans:    e.limits.CustomerMaxScansPerDay,
		PointsToday: snap.PointsToday,
		MaxPoints:   e.limits.CustomerMaxPointsPerDay,
		ratio:       e.limits.WarningRatio,
	}
	if !e.limits.Enabled {
		usage.MaxScans, usage.MaxPoints = 0, 0
		recordOutcome("customer", nil)
		return usage, nil
	}

	var err error
	switch {
	case usage.MaxScans > 0 && usage.DailyScans >= usage.MaxScans:
		err = &QuotaError{Reason: ReasonCustomerDailyScans, Subject: customerID, Current: usage.DailyScans, Limit: usage.MaxScans}
	case usage.MaxPoints > 0 && usage.PointsToday >= usage.MaxPoints:
		err = &QuotaError{Reason: ReasonCustomerDailyPoints, Subject: customerID, Current: usage.PointsToday, Limit: usage.MaxPoints}
	}
	usage.rejected = err != nil

	recordOutcome("customer", err)
	for _, w := range usage.Warnings() {
		metrics.CustomerWarnings.WithLabelValues(w.Dimension).Inc()
	}
	return usage, err
}

func recordOutcome(kind string, err error) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		metrics.RecordScanCheck(kind, qe.Code())
		return
	}
	metrics.RecordScanCheck(kind, "accepted")
}
