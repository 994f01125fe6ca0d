// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

// Package clock provides the injected time source used by the ledger, the
// quota enforcer, the detectors and the retention sweeper.
//
// Production code uses Real. Tests use Fake, which only moves when told to and
// fires its tickers synchronously from Advance, so periodic jobs such as the
// sweeper can be stepped deterministically.
package clock

import "time"

// Clock is the wall-clock abstraction.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTicker returns a ticker that delivers ticks every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors the subset of *time.Ticker the scheduler needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the system clock.
type Real struct{}

// New returns the system clock.
func New() Real {
	return Real{}
}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// NewTicker wraps time.NewTicker.
func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }

func (r *realTicker) Stop() { r.t.Stop() }

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// DateKey returns the calendar date of t in loc formatted as YYYY-MM-DD.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(time.DateOnly)
}
