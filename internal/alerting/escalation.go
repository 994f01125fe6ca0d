// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/scanguard/internal/logging"
)

// EscalationTracker decides when an employee's ordinary alerts within a
// rolling window warrant an escalation. The alert store is the source of
// truth for counts; the local cache is consulted only when the store
// cannot answer. At most one escalation is raised per employee per window.
type EscalationTracker struct {
	store     AlertStore
	threshold int
	window    time.Duration
	timeout   time.Duration

	mu        sync.Mutex
	recent    map[string][]time.Time
	escalated map[string]time.Time
}

// NewEscalationTracker creates a tracker. store may be nil, in which case
// only the local cache is used. timeout bounds each store query.
func NewEscalationTracker(store AlertStore, threshold int, window, timeout time.Duration) *EscalationTracker {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EscalationTracker{
		store:     store,
		threshold: threshold,
		window:    window,
		timeout:   timeout,
		recent:    make(map[string][]time.Time),
		escalated: make(map[string]time.Time),
	}
}

// Window returns the rolling escalation window.
func (t *EscalationTracker) Window() time.Duration {
	return t.window
}

// Observe records an ordinary alert for employeeID at `at` and reports the
// violation count and whether an escalation should be raised now. When it
// returns true the escalation is already marked, so concurrent callers for
// the same employee see false.
func (t *EscalationTracker) Observe(ctx context.Context, employeeID string, at time.Time) (int, bool) {
	since := at.Add(-t.window)

	t.mu.Lock()
	times := pruneTimes(append(t.recent[employeeID], at), since)
	t.recent[employeeID] = times
	localCount := len(times)
	t.mu.Unlock()

	if t.threshold <= 0 {
		return localCount, false
	}

	count, ok := t.countStored(ctx, AlertFilter{EmployeeID: employeeID, Type: TypeAbuseAlert, Since: since})
	if !ok {
		count = localCount
	}
	if count < t.threshold {
		return count, false
	}

	if prior, ok := t.countStored(ctx, AlertFilter{EmployeeID: employeeID, Type: TypeAbuseEscalation, Since: since}); ok && prior > 0 {
		return count, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.escalated[employeeID]; ok && !last.Before(since) {
		return count, false
	}
	t.escalated[employeeID] = at
	return count, true
}

// countStored queries the store with a bounded timeout. ok is false when
// there is no store or the query failed.
func (t *EscalationTracker) countStored(ctx context.Context, filter AlertFilter) (int, bool) {
	if t.store == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	n, err := t.store.CountAlerts(ctx, filter)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("employee_id", filter.EmployeeID).
			Str("type", string(filter.Type)).
			Msg("alert store count failed, using local escalation cache")
		return 0, false
	}
	return n, true
}

// Prune drops cache entries that fell out of the window.
func (t *EscalationTracker) Prune(now time.Time) int {
	since := now.Add(-t.window)
	removed := 0

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, times := range t.recent {
		kept := pruneTimes(times, since)
		if len(kept) == 0 {
			delete(t.recent, id)
			removed++
			continue
		}
		t.recent[id] = kept
	}
	for id, at := range t.escalated {
		if at.Before(since) {
			delete(t.escalated, id)
		}
	}
	return removed
}

// pruneTimes keeps times at or after since, matching AlertFilter.Since.
func pruneTimes(times []time.Time, since time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(since) {
		i++
	}
	return times[i:]
}
