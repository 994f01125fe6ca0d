// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newTestLedger() *Ledger {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	return New(cfg)
}

func TestRecordEmployeeScan_CountsEveryCall(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	for i := 0; i < 7; i++ {
		l.RecordEmployeeScan("emp", "cust", t0.Add(time.Duration(i)*time.Minute))
	}
	now := t0.Add(10 * time.Minute)

	if got := l.CountEmployeeHourly("emp", now); got != 7 {
		t.Errorf("CountEmployeeHourly = %d, want 7", got)
	}
	if got := l.CountEmployeeDaily("emp", now); got != 7 {
		t.Errorf("CountEmployeeDaily = %d, want 7", got)
	}
	last, ok := l.LastEmployeeScan("emp")
	if !ok || !last.Equal(t0.Add(6*time.Minute)) {
		t.Errorf("LastEmployeeScan = %v, %v", last, ok)
	}
}

func TestCountEmployeeHourly_WindowBoundary(t *testing.T) {
	t.Parallel()
	l := newTestLedger()
	l.RecordEmployeeScan("emp", "cust", t0)

	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"same instant", t0, 1},
		{"just inside the hour", t0.Add(time.Hour - time.Millisecond), 1},
		{"exactly one hour", t0.Add(time.Hour), 0},
		{"one hour and a millisecond", t0.Add(time.Hour + time.Millisecond), 0},
	}
	for _, tt := range tests {
		if got := l.CountEmployeeHourly("emp", tt.at); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestCountEmployeeDaily_UsesCalendarDate(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	late := time.Date(2026, 5, 4, 23, 50, 0, 0, time.UTC)
	l.RecordEmployeeScan("emp", "a", late)
	l.RecordEmployeeScan("emp", "b", late.Add(5*time.Minute))
	l.RecordEmployeeScan("emp", "c", late.Add(15*time.Minute)) // 00:05 next day

	if got := l.CountEmployeeDaily("emp", late.Add(20*time.Minute)); got != 1 {
		t.Errorf("next day count = %d, want 1", got)
	}
	if got := l.CountEmployeeDaily("emp", late); got != 2 {
		t.Errorf("same day count = %d, want 2", got)
	}
	// The hourly window spans midnight.
	if got := l.CountEmployeeHourly("emp", late.Add(20*time.Minute)); got != 3 {
		t.Errorf("hourly across midnight = %d, want 3", got)
	}
}

func TestCountEmployeeDaily_RespectsLocation(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	l := New(Config{Location: tokyo})

	// 14:30 UTC is 23:30 JST; 15:30 UTC is 00:30 JST the next day.
	l.RecordEmployeeScan("emp", "c", time.Date(2026, 5, 4, 14, 30, 0, 0, time.UTC))
	now := time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC)

	if got := l.CountEmployeeDaily("emp", now); got != 0 {
		t.Errorf("CountEmployeeDaily = %d, want 0 after local midnight", got)
	}
}

func TestCountRepeatedCustomerWithinHour(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	l.RecordEmployeeScan("emp", "alice", t0.Add(-2*time.Hour))
	l.RecordEmployeeScan("emp", "alice", t0)
	l.RecordEmployeeScan("emp", "bob", t0.Add(time.Minute))
	l.RecordEmployeeScan("emp", "alice", t0.Add(2*time.Minute))
	l.RecordEmployeeScan("other", "alice", t0.Add(3*time.Minute))

	now := t0.Add(5 * time.Minute)
	if got := l.CountRepeatedCustomerWithinHour("emp", "alice", now); got != 2 {
		t.Errorf("alice = %d, want 2", got)
	}
	if got := l.CountRepeatedCustomerWithinHour("emp", "bob", now); got != 1 {
		t.Errorf("bob = %d, want 1", got)
	}
	if got := l.CountRepeatedCustomerWithinHour("emp", "", now); got != 0 {
		t.Errorf("empty customer = %d, want 0", got)
	}
}

func TestCountRapidFire(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	l.RecordEmployeeScan("emp", "c", t0)
	for i := 0; i < 5; i++ {
		l.RecordEmployeeScan("emp", "c", t0.Add(30*time.Second+time.Duration(i)*time.Second))
	}

	if got := l.CountRapidFire("emp", t0.Add(60*time.Second)); got != 5 {
		t.Errorf("CountRapidFire = %d, want 5 (first scan is exactly 60s old)", got)
	}
	if got := l.CountRapidFire("emp", t0.Add(59*time.Second)); got != 6 {
		t.Errorf("CountRapidFire = %d, want 6", got)
	}
}

func TestRecordEmployeeScan_ClampsOutOfOrderTimestamps(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	l.RecordEmployeeScan("emp", "c", t0)
	l.RecordEmployeeScan("emp", "c", t0.Add(-10*time.Minute))

	last, _ := l.LastEmployeeScan("emp")
	if !last.Equal(t0) {
		t.Errorf("LastEmployeeScan = %v, want %v", last, t0)
	}
	if got := l.CountEmployeeHourly("emp", t0.Add(55*time.Minute)); got != 2 {
		t.Errorf("CountEmployeeHourly = %d, want 2", got)
	}
}

func TestCustomerPoints_ResetOnNewDay(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	l.RecordCustomerScan("cust", 3, t0)
	l.RecordCustomerScan("cust", 0, t0.Add(time.Minute)) // default point

	if got := l.CustomerPointsToday("cust", t0.Add(2*time.Minute)); got != 4 {
		t.Errorf("points today = %d, want 4", got)
	}
	if got := l.CountCustomerDaily("cust", t0.Add(2*time.Minute)); got != 2 {
		t.Errorf("daily count = %d, want 2", got)
	}

	tomorrow := t0.Add(24 * time.Hour)
	if got := l.CustomerPointsToday("cust", tomorrow); got != 0 {
		t.Errorf("points on next day before any scan = %d, want 0", got)
	}

	l.RecordCustomerScan("cust", 2, tomorrow)
	if got := l.CustomerPointsToday("cust", tomorrow); got != 2 {
		t.Errorf("points after first scan of the new day = %d, want 2", got)
	}
}

func TestCustomerPoints_CarryAcrossDays(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.CarryPointsAcrossDays = true
	l := New(cfg)

	l.RecordCustomerScan("cust", 3, t0)
	l.RecordCustomerScan("cust", 2, t0.Add(24*time.Hour))

	if got := l.CustomerPointsToday("cust", t0.Add(25*time.Hour)); got != 5 {
		t.Errorf("carried points = %d, want 5", got)
	}
	if got := l.CountCustomerDaily("cust", t0.Add(25*time.Hour)); got != 1 {
		t.Errorf("daily scan count = %d, want 1", got)
	}
}

func TestSnapshots(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	if snap := l.EmployeeSnapshot("ghost", "c", t0); snap.HasPriorScan() || snap.HourlyCount != 0 {
		t.Errorf("unknown employee snapshot = %+v", snap)
	}

	l.RecordEmployeeScan("emp", "alice", t0)
	l.RecordEmployeeScan("emp", "alice", t0.Add(10*time.Second))
	l.RecordEmployeeScan("emp", "bob", t0.Add(20*time.Second))
	l.RecordCustomerScan("alice", 4, t0)

	snap := l.EmployeeSnapshot("emp", "alice", t0.Add(30*time.Second))
	if snap.HourlyCount != 3 || snap.DailyCount != 3 || snap.RapidFireCount != 3 || snap.RepeatedCount != 2 {
		t.Errorf("employee snapshot = %+v", snap)
	}
	if !snap.HasPriorScan() || !snap.LastScanAt.Equal(t0.Add(20*time.Second)) {
		t.Errorf("LastScanAt = %v", snap.LastScanAt)
	}

	cs := l.CustomerSnapshot("alice", t0.Add(time.Minute))
	if cs.DailyCount != 1 || cs.PointsToday != 4 || !cs.LastScanAt.Equal(t0) {
		t.Errorf("customer snapshot = %+v", cs)
	}
}

func TestLedger_UnknownIdentitiesReadZero(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	if l.CountEmployeeHourly("x", t0) != 0 || l.CountEmployeeDaily("x", t0) != 0 ||
		l.CountCustomerDaily("x", t0) != 0 || l.CustomerPointsToday("x", t0) != 0 ||
		l.CountRapidFire("x", t0) != 0 {
		t.Error("unknown identity returned a non-zero count")
	}
	if _, ok := l.LastEmployeeScan("x"); ok {
		t.Error("unknown employee reported a last scan")
	}
	if s := l.Stats(); s.Employees != 0 || s.Customers != 0 {
		t.Errorf("reads created records: %+v", s)
	}
}

func TestLedger_Close(t *testing.T) {
	t.Parallel()
	l := newTestLedger()
	l.RecordEmployeeScan("emp", "c", t0)

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	l.RecordEmployeeScan("emp", "c", t0)
	l.RecordCustomerScan("c", 1, t0)
	if got := l.CountEmployeeHourly("emp", t0); got != 0 {
		t.Errorf("count after close = %d", got)
	}
	if s := l.Stats(); s.Employees != 0 || s.Customers != 0 {
		t.Errorf("Stats after close = %+v", s)
	}
}

func TestLedger_ConcurrentRecordAndSweep(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	const (
		workers   = 8
		perWorker = 200
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			emp := fmt.Sprintf("emp-%d", w%3)
			for i := 0; i < perWorker; i++ {
				l.RecordEmployeeScan(emp, fmt.Sprintf("cust-%d", i%5), t0)
				l.RecordCustomerScan(fmt.Sprintf("cust-%d", i%5), 1, t0)
				_ = l.EmployeeSnapshot(emp, "cust-1", t0)
			}
		}(w)
	}

	stop := make(chan struct{})
	sweeps := make(chan struct{})
	go func() {
		defer close(sweeps)
		for {
			select {
			case <-stop:
				return
			default:
				// Nothing is old enough to prune; this exercises the delete race path.
				l.Sweep(t0)
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-sweeps

	total := 0
	for e := 0; e < 3; e++ {
		total += l.CountEmployeeHourly(fmt.Sprintf("emp-%d", e), t0)
	}
	if total != workers*perWorker {
		t.Errorf("total recorded = %d, want %d", total, workers*perWorker)
	}
}
