// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/scanguard/internal/clock"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/metrics"
)

// SweepResult reports what one sweep removed.
type SweepResult struct {
	HourlyPruned     int
	DailyPruned      int
	EmployeesDeleted int
	CustomersDeleted int
}

// Sweep evicts events past their retention and deletes records left empty.
// It never holds the map lock across the whole pass.
func (l *Ledger) Sweep(now time.Time) SweepResult {
	var res SweepResult
	hourlyCutoff := now.Add(-l.cfg.HourlyRetention)
	dailyCutoff := now.Add(-l.cfg.DailyRetention)

	for _, id := range l.employeeIDs() {
		rec := l.lookupEmployee(id)
		if rec == nil {
			continue
		}

		rec.mu.Lock()
		var h, d int
		rec.hourly, h = pruneHourly(rec.hourly, hourlyCutoff)
		rec.daily, d = pruneEmployeeDaily(rec.daily, dailyCutoff)
		empty := len(rec.hourly) == 0 && len(rec.daily) == 0
		rec.mu.Unlock()

		res.HourlyPruned += h
		res.DailyPruned += d
		if empty && l.deleteEmployeeIfEmpty(id, rec) {
			res.EmployeesDeleted++
		}
	}

	for _, id := range l.customerIDs() {
		rec := l.lookupCustomer(id)
		if rec == nil {
			continue
		}

		rec.mu.Lock()
		var d int
		rec.daily, d = pruneCustomerDaily(rec.daily, dailyCutoff)
		empty := len(rec.daily) == 0
		rec.mu.Unlock()

		res.DailyPruned += d
		if empty && l.deleteCustomerIfEmpty(id, rec) {
			res.CustomersDeleted++
		}
	}

	metrics.LedgerDeletedRecords.WithLabelValues("employee").Add(float64(res.EmployeesDeleted))
	metrics.LedgerDeletedRecords.WithLabelValues("customer").Add(float64(res.CustomersDeleted))
	return res
}

func (l *Ledger) employeeIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.employees))
	for id := range l.employees {
		ids = append(ids, id)
	}
	return ids
}

func (l *Ledger) customerIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.customers))
	for id := range l.customers {
		ids = append(ids, id)
	}
	return ids
}

// deleteEmployeeIfEmpty re-checks emptiness under map then record lock, since
// a scan may have landed between the prune and the delete.
func (l *Ledger) deleteEmployeeIfEmpty(id string, rec *employeeRecord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.employees[id] != rec {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.hourly) > 0 || len(rec.daily) > 0 {
		return false
	}
	rec.deleted = true
	delete(l.employees, id)
	metrics.LedgerTrackedIdentities.WithLabelValues("employee").Set(float64(len(l.employees)))
	return true
}

func (l *Ledger) deleteCustomerIfEmpty(id string, rec *customerRecord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.customers[id] != rec {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.daily) > 0 {
		return false
	}
	rec.deleted = true
	delete(l.customers, id)
	metrics.LedgerTrackedIdentities.WithLabelValues("customer").Set(float64(len(l.customers)))
	return true
}

// The prune helpers drop the leading events at or before cutoff. Events are
// sorted, so the survivors are a suffix; it is copied so the old backing
// array can be collected.

func pruneHourly(events []hourlyEvent, cutoff time.Time) ([]hourlyEvent, int) {
	i := 0
	for i < len(events) && !events[i].at.After(cutoff) {
		i++
	}
	if i == 0 {
		return events, 0
	}
	return append([]hourlyEvent(nil), events[i:]...), i
}

func pruneEmployeeDaily(events []employeeDailyEvent, cutoff time.Time) ([]employeeDailyEvent, int) {
	i := 0
	for i < len(events) && !events[i].at.After(cutoff) {
		i++
	}
	if i == 0 {
		return events, 0
	}
	return append([]employeeDailyEvent(nil), events[i:]...), i
}

func pruneCustomerDaily(events []customerDailyEvent, cutoff time.Time) ([]customerDailyEvent, int) {
	i := 0
	for i < len(events) && !events[i].at.After(cutoff) {
		i++
	}
	if i == 0 {
		return events, 0
	}
	return append([]customerDailyEvent(nil), events[i:]...), i
}

// Sweeper runs Ledger.Sweep on a fixed period. It implements suture.Service.
type Sweeper struct {
	ledger   *Ledger
	clock    clock.Clock
	interval time.Duration
	logger   zerolog.Logger
	after    []func(now time.Time)
}

// NewSweeper creates a sweeper. The clock drives both the ticker and the
// retention cutoffs.
func NewSweeper(l *Ledger, c clock.Clock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		ledger:   l,
		clock:    c,
		interval: interval,
		logger:   logging.WithComponent("sweeper"),
	}
}

// AfterSweep registers fn to run after every pass with the pass time. It
// must be called before Serve starts.
func (s *Sweeper) AfterSweep(fn func(now time.Time)) {
	s.after = append(s.after, fn)
}

// SweepOnce runs a single pass at the clock's current time.
func (s *Sweeper) SweepOnce() SweepResult {
	start := time.Now()
	now := s.clock.Now()
	res := s.ledger.Sweep(now)
	metrics.RecordSweep(time.Since(start), res.HourlyPruned, res.DailyPruned)
	for _, fn := range s.after {
		fn(now)
	}

	s.logger.Debug().
		Int("hourly_pruned", res.HourlyPruned).
		Int("daily_pruned", res.DailyPruned).
		Int("employees_deleted", res.EmployeesDeleted).
		Int("customers_deleted", res.CustomersDeleted).
		Msg("Retention sweep complete")
	return res
}

// Serve sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Retention sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Retention sweeper stopped")
			return ctx.Err()
		case <-ticker.C():
			s.SweepOnce()
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (s *Sweeper) String() string {
	return "ledger-sweeper"
}
