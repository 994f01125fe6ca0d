// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

// Package ledger holds the per-identity, window-bounded scan event log that
// every quota and pattern decision reads from.
//
// # Locking
//
// The identity maps are guarded by one RWMutex and every record carries its
// own mutex. Record and count operations only hold the map lock long enough
// to look a record up, then work under the record lock. The sweeper deletes
// empty records while holding the map lock and then the record lock, always
// in that order. A record removed by the sweeper is flagged deleted so a
// writer that raced with the removal retries against a fresh record.
//
// # Windows
//
// Employees keep an hourly window (timestamp, customer) and a daily window
// (calendar date, timestamp, customer). Customers keep a daily window with
// points and a running points total. Calendar dates are computed in the
// configured location. Timestamps within a record never decrease: an event
// older than the record's newest event is stored at the newest timestamp.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/scanguard/internal/clock"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/metrics"
)

const (
	// HourWindow is the sliding window behind hourly and repeated-customer counts.
	HourWindow = time.Hour

	// RapidFireWindow is the sliding window behind rapid-fire counts.
	RapidFireWindow = 60 * time.Second

	// DefaultPoints is awarded when a caller records a customer scan with no points.
	DefaultPoints = 1
)

// Config controls retention and calendar handling.
type Config struct {
	// Location is used to derive calendar dates. Nil means time.Local.
	Location *time.Location

	// HourlyRetention bounds the employee hourly window.
	HourlyRetention time.Duration

	// DailyRetention bounds every daily window.
	DailyRetention time.Duration

	// CarryPointsAcrossDays disables the midnight reset of the customer
	// points total.
	CarryPointsAcrossDays bool
}

// DefaultConfig returns 24h hourly retention and 7 day daily retention.
func DefaultConfig() Config {
	return Config{
		Location:        time.Local,
		HourlyRetention: 24 * time.Hour,
		DailyRetention:  7 * 24 * time.Hour,
	}
}

type hourlyEvent struct {
	at         time.Time
	customerID string
}

type employeeDailyEvent struct {
	date       string
	at         time.Time
	customerID string
}

type customerDailyEvent struct {
	date   string
	at     time.Time
	points int
}

type employeeRecord struct {
	mu         sync.Mutex
	hourly     []hourlyEvent
	daily      []employeeDailyEvent
	lastScanAt time.Time
	deleted    bool
}

// newest returns the latest timestamp held by the record.
func (r *employeeRecord) newest() time.Time {
	var t time.Time
	if n := len(r.hourly); n > 0 {
		t = r.hourly[n-1].at
	}
	if n := len(r.daily); n > 0 && r.daily[n-1].at.After(t) {
		t = r.daily[n-1].at
	}
	return t
}

type customerRecord struct {
	mu          sync.Mutex
	daily       []customerDailyEvent
	pointsTotal int
	pointsDate  string
	lastScanAt  time.Time
	deleted     bool
}

// Ledger is the scan event store. Construct with New; the zero value is not usable.
type Ledger struct {
	mu        sync.RWMutex
	employees map[string]*employeeRecord
	customers map[string]*customerRecord
	closed    bool

	cfg    Config
	logger zerolog.Logger
}

// New creates an empty ledger.
func New(cfg Config) *Ledger {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.HourlyRetention <= 0 {
		cfg.HourlyRetention = 24 * time.Hour
	}
	if cfg.DailyRetention <= 0 {
		cfg.DailyRetention = 7 * 24 * time.Hour
	}
	return &Ledger{
		employees: make(map[string]*employeeRecord),
		customers: make(map[string]*customerRecord),
		cfg:       cfg,
		logger:    logging.WithComponent("ledger"),
	}
}

// Location returns the zone used for calendar dates.
func (l *Ledger) Location() *time.Location {
	return l.cfg.Location
}

func (l *Ledger) today(now time.Time) string {
	return clock.DateKey(now, l.cfg.Location)
}

// lockEmployee returns the record for id with its mutex held, creating it if
// needed. It returns nil once the ledger is closed.
func (l *Ledger) lockEmployee(id string) *employeeRecord {
	for {
		l.mu.RLock()
		rec, ok := l.employees[id]
		closed := l.closed
		l.mu.RUnlock()
		if closed {
			return nil
		}

		if !ok {
			l.mu.Lock()
			if l.closed {
				l.mu.Unlock()
				return nil
			}
			if rec, ok = l.employees[id]; !ok {
				rec = &employeeRecord{}
				l.employees[id] = rec
				metrics.LedgerTrackedIdentities.WithLabelValues("employee").Set(float64(len(l.employees)))
			}
			l.mu.Unlock()
		}

		rec.mu.Lock()
		if !rec.deleted {
			return rec
		}
		rec.mu.Unlock()
	}
}

func (l *Ledger) lockCustomer(id string) *customerRecord {
	for {
		l.mu.RLock()
		rec, ok := l.customers[id]
		closed := l.closed
		l.mu.RUnlock()
		if closed {
			return nil
		}

		if !ok {
			l.mu.Lock()
			if l.closed {
				l.mu.Unlock()
				return nil
			}
			if rec, ok = l.customers[id]; !ok {
				rec = &customerRecord{}
				l.customers[id] = rec
				metrics.LedgerTrackedIdentities.WithLabelValues("customer").Set(float64(len(l.customers)))
			}
			l.mu.Unlock()
		}

		rec.mu.Lock()
		if !rec.deleted {
			return rec
		}
		rec.mu.Unlock()
	}
}

// lookupEmployee returns the existing record for id, or nil. The record is
// not locked.
func (l *Ledger) lookupEmployee(id string) *employeeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.employees[id]
}

func (l *Ledger) lookupCustomer(id string) *customerRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.customers[id]
}

// RecordEmployeeScan appends an accepted scan to both employee windows and
// updates the last-scan time. Every call appends; callers record each
// accepted scan exactly once.
func (l *Ledger) RecordEmployeeScan(employeeID, customerID string, now time.Time) {
	rec := l.lockEmployee(employeeID)
	if rec == nil {
		l.logger.Warn().Str("employee_id", employeeID).Msg("Scan recorded after ledger close; dropped")
		return
	}
	defer rec.mu.Unlock()

	at := now
	if newest := rec.newest(); at.Before(newest) {
		at = newest
	}
	rec.hourly = append(rec.hourly, hourlyEvent{at: at, customerID: customerID})
	rec.daily = append(rec.daily, employeeDailyEvent{date: l.today(at), at: at, customerID: customerID})
	rec.lastScanAt = at

	metrics.LedgerRecords.WithLabelValues("employee").Inc()
}

// RecordCustomerScan appends to the customer's daily window and adds points
// to the running total. Non-positive points count as DefaultPoints.
func (l *Ledger) RecordCustomerScan(customerID string, points int, now time.Time) {
	if points <= 0 {
		points = DefaultPoints
	}

	rec := l.lockCustomer(customerID)
	if rec == nil {
		l.logger.Warn().Str("customer_id", customerID).Msg("Scan recorded after ledger close; dropped")
		return
	}
	defer rec.mu.Unlock()

	at := now
	if n := len(rec.daily); n > 0 && at.Before(rec.daily[n-1].at) {
		at = rec.daily[n-1].at
	}
	date := l.today(at)
	rec.daily = append(rec.daily, customerDailyEvent{date: date, at: at, points: points})

	if !l.cfg.CarryPointsAcrossDays && rec.pointsDate != date {
		rec.pointsTotal = 0
	}
	rec.pointsDate = date
	rec.pointsTotal += points
	rec.lastScanAt = at

	metrics.LedgerRecords.WithLabelValues("customer").Inc()
}

// countSince counts hourly events with now - at < window. Events are sorted.
func countSince(events []hourlyEvent, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	idx := sort.Search(len(events), func(i int) bool {
		return events[i].at.After(cutoff)
	})
	return len(events) - idx
}

func countRepeated(events []hourlyEvent, customerID string, now time.Time) int {
	if customerID == "" {
		return 0
	}
	cutoff := now.Add(-HourWindow)
	n := 0
	for i := len(events) - 1; i >= 0 && events[i].at.After(cutoff); i-- {
		if events[i].customerID == customerID {
			n++
		}
	}
	return n
}

func countEmployeeDate(events []employeeDailyEvent, date string) int {
	n := 0
	for i := len(events) - 1; i >= 0; i-- {
		switch d := events[i].date; {
		case d == date:
			n++
		case d < date:
			return n
		}
	}
	return n
}

func countCustomerDate(events []customerDailyEvent, date string) int {
	n := 0
	for i := len(events) - 1; i >= 0; i-- {
		switch d := events[i].date; {
		case d == date:
			n++
		case d < date:
			return n
		}
	}
	return n
}

// CountEmployeeHourly returns the number of scans in the hour before now.
func (l *Ledger) CountEmployeeHourly(employeeID string, now time.Time) int {
	rec := l.lookupEmployee(employeeID)
	if rec == nil {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return countSince(rec.hourly, now, HourWindow)
}

// CountEmployeeDaily returns the number of scans on now's calendar date.
func (l *Ledger) CountEmployeeDaily(employeeID string, now time.Time) int {
	rec := l.lookupEmployee(employeeID)
	if rec == nil {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return countEmployeeDate(rec.daily, l.today(now))
}

// CountRepeatedCustomerWithinHour returns how many of the employee's scans
// in the last hour were of customerID.
func (l *Ledger) CountRepeatedCustomerWithinHour(employeeID, customerID string, now time.Time) int {
	rec := l.lookupEmployee(employeeID)
	if rec == nil {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return countRepeated(rec.hourly, customerID, now)
}

// CountRapidFire returns the employee's scans in the last 60 seconds.
func (l *Ledger) CountRapidFire(employeeID string, now time.Time) int {
	rec := l.lookupEmployee(employeeID)
	if rec == nil {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return countSince(rec.hourly, now, RapidFireWindow)
}

// LastEmployeeScan returns the time of the employee's latest recorded scan.
func (l *Ledger) LastEmployeeScan(employeeID string) (time.Time, bool) {
	rec := l.lookupEmployee(employeeID)
	if rec == nil {
		return time.Time{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.lastScanAt, !rec.lastScanAt.IsZero()
}

// CountCustomerDaily returns the customer's scans on now's calendar date.
func (l *Ledger) CountCustomerDaily(customerID string, now time.Time) int {
	rec := l.lookupCustomer(customerID)
	if rec == nil {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return countCustomerDate(rec.daily, l.today(now))
}

// CustomerPointsToday returns the running points total. It is zero once the
// calendar date has moved past the last recorded scan, unless points carry
// across days.
func (l *Ledger) CustomerPointsToday(customerID string, now time.Time) int {
	rec := l.lookupCustomer(customerID)
	if rec == nil {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return l.pointsFor(rec, now)
}

func (l *Ledger) pointsFor(rec *customerRecord, now time.Time) int {
	if l.cfg.CarryPointsAcrossDays || rec.pointsDate == l.today(now) {
		return rec.pointsTotal
	}
	return 0
}

// EmployeeSnapshot is a consistent read of one employee record.
type EmployeeSnapshot struct {
	EmployeeID     string
	HourlyCount    int
	DailyCount     int
	RapidFireCount int

	// RepeatedCount is the number of scans of the requested customer in the
	// last hour. Zero when no customer was requested.
	RepeatedCount int

	// LastScanAt is zero when the employee has no recorded scan.
	LastScanAt time.Time
}

// HasPriorScan reports whether the employee has a recorded scan.
func (s EmployeeSnapshot) HasPriorScan() bool {
	return !s.LastScanAt.IsZero()
}

// EmployeeSnapshot reads every employee counter under a single lock.
// customerID may be empty.
func (l *Ledger) EmployeeSnapshot(employeeID, customerID string, now time.Time) EmployeeSnapshot {
	snap := EmployeeSnapshot{EmployeeID: employeeID}
	rec := l.lookupEmployee(employeeID)
	if rec == nil {
		return snap
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	snap.HourlyCount = countSince(rec.hourly, now, HourWindow)
	snap.DailyCount = countEmployeeDate(rec.daily, l.today(now))
	snap.RapidFireCount = countSince(rec.hourly, now, RapidFireWindow)
	snap.RepeatedCount = countRepeated(rec.hourly, customerID, now)
	snap.LastScanAt = rec.lastScanAt
	return snap
}

// CustomerSnapshot is a consistent read of one customer record.
type CustomerSnapshot struct {
	CustomerID  string
	DailyCount  int
	PointsToday int
	LastScanAt  time.Time
}

// CustomerSnapshot reads every customer counter under a single lock.
func (l *Ledger) CustomerSnapshot(customerID string, now time.Time) CustomerSnapshot {
	snap := CustomerSnapshot{CustomerID: customerID}
	rec := l.lookupCustomer(customerID)
	if rec == nil {
		return snap
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	snap.DailyCount = countCustomerDate(rec.daily, l.today(now))
	snap.PointsToday = l.pointsFor(rec, now)
	snap.LastScanAt = rec.lastScanAt
	return snap
}

// Stats summarises ledger occupancy.
type Stats struct {
	Employees            int `json:"employees"`
	Customers            int `json:"customers"`
	EmployeeHourlyEvents int `json:"employee_hourly_events"`
	EmployeeDailyEvents  int `json:"employee_daily_events"`
	CustomerDailyEvents  int `json:"customer_daily_events"`
}

// Stats walks every record. Each record is locked only while it is read.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	emps := make([]*employeeRecord, 0, len(l.employees))
	for _, r := range l.employees {
		emps = append(emps, r)
	}
	custs := make([]*customerRecord, 0, len(l.customers))
	for _, r := range l.customers {
		custs = append(custs, r)
	}
	l.mu.RUnlock()

	s := Stats{Employees: len(emps), Customers: len(custs)}
	for _, r := range emps {
		r.mu.Lock()
		s.EmployeeHourlyEvents += len(r.hourly)
		s.EmployeeDailyEvents += len(r.daily)
		r.mu.Unlock()
	}
	for _, r := range custs {
		r.mu.Lock()
		s.CustomerDailyEvents += len(r.daily)
		r.mu.Unlock()
	}
	return s
}

// Close drops all state. Later records are ignored and counts return zero.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	for id, r := range l.employees {
		r.mu.Lock()
		r.deleted = true
		r.mu.Unlock()
		delete(l.employees, id)
	}
	for id, r := range l.customers {
		r.mu.Lock()
		r.deleted = true
		r.mu.Unlock()
		delete(l.customers, id)
	}
	metrics.LedgerTrackedIdentities.WithLabelValues("employee").Set(0)
	metrics.LedgerTrackedIdentities.WithLabelValues("customer").Set(0)
	l.logger.Info().Msg("Ledger closed")
	return nil
}
