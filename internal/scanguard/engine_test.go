// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package scanguard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/alertstore"
	"github.com/tomtom215/scanguard/internal/clock"
	"github.com/tomtom215/scanguard/internal/config"
	"github.com/tomtom215/scanguard/internal/detection"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/quota"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "console", Output: io.Discard})
}

// noon keeps scans out of the unusual-hours window.
var noon = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// testConfig returns defaults in UTC with every quota disabled, so each test
// turns on only the rules it exercises.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Ledger.Timezone = "UTC"
	cfg.Employee.MaxScansPerHour = 0
	cfg.Employee.MaxScansPerDay = 0
	cfg.Employee.CooldownSeconds = 0
	cfg.Customer.MaxScansPerDay = 0
	cfg.Customer.MaxPointsPerDay = 0
	cfg.Abuse.EscalationThreshold = 100
	return cfg
}

type recordingRealtime struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingRealtime) Publish(_ context.Context, ev alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingRealtime) named(name string) []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []alerting.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type failingEmail struct{ calls atomic.Int32 }

func (f *failingEmail) Send(context.Context, alerting.Email) error {
	f.calls.Add(1)
	return errors.New("smtp: connection refused")
}

func newTestEngine(t *testing.T, cfg *config.Config, deps Dependencies) (*Engine, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(noon)
	deps.Clock = fc
	eng := New(cfg, deps)
	t.Cleanup(func() { _ = eng.Close() })
	return eng, fc
}

func onlyType(alerts []alerting.AbuseAlert, typ detection.AbuseType) []alerting.AbuseAlert {
	var out []alerting.AbuseAlert
	for _, a := range alerts {
		if a.AbuseType == typ {
			out = append(out, a)
		}
	}
	return out
}

func TestProcessScan_HourlyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Employee.MaxScansPerHour = 3
	eng, fc := newTestEngine(t, cfg, Dependencies{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: "emp", CustomerID: fmt.Sprintf("c%d", i)}); err != nil {
			t.Fatalf("scan %d rejected: %v", i+1, err)
		}
		fc.Advance(time.Minute)
	}

	_, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: "emp", CustomerID: "c9"})
	if !errors.Is(err, quota.ErrHourlyLimitExceeded) {
		t.Fatalf("4th scan = %v, want ErrHourlyLimitExceeded", err)
	}
	var qe *quota.QuotaError
	if !errors.As(err, &qe) || qe.Current != 3 || qe.Limit != 3 {
		t.Errorf("QuotaError = %+v", qe)
	}

	// Rejected scans are not recorded.
	if got := eng.Ledger().CountEmployeeHourly("emp", fc.Now()); got != 3 {
		t.Errorf("CountEmployeeHourly = %d, want 3", got)
	}

	// The window slides.
	fc.Advance(time.Hour)
	if _, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: "emp", CustomerID: "c9"}); err != nil {
		t.Errorf("scan after the window = %v", err)
	}
}

func TestProcessScan_Cooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Employee.CooldownSeconds = 30
	eng, fc := newTestEngine(t, cfg, Dependencies{})
	ctx := context.Background()

	if _, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: "emp", CustomerID: "a"}); err != nil {
		t.Fatalf("first scan rejected: %v", err)
	}
	fc.Advance(10 * time.Second)

	_, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: "emp", CustomerID: "b"})
	var qe *quota.QuotaError
	if !errors.As(err, &qe) || qe.Reason != quota.ReasonCooldown {
		t.Fatalf("second scan = %v, want cooldown", err)
	}
	if qe.RetryAfter != 20*time.Second {
		t.Errorf("RetryAfter = %v, want 20s", qe.RetryAfter)
	}

	fc.Advance(20 * time.Second)
	if _, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: "emp", CustomerID: "b"}); err != nil {
		t.Errorf("scan after cooldown = %v", err)
	}
}

func TestProcessScan_RepeatedScansEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Abuse.ThresholdSameCustomer = 5
	eng, fc := newTestEngine(t, cfg, Dependencies{})
	ctx := context.Background()

	want := []struct {
		count    int
		severity detection.Severity
	}{
		{6, detection.SeverityMedium},
		{7, detection.SeverityHigh},
		{8, detection.SeverityHigh},
		{9, detection.SeverityHigh},
		{10, detection.SeverityCritical},
	}

	for i := 1; i <= 10; i++ {
		res, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: "E", CustomerID: "C"})
		if err != nil {
			t.Fatalf("scan %d rejected: %v", i, err)
		}
		repeated := onlyType(res.Alerts, detection.AbuseTypeRepeatedScans)
		if i <= 5 {
			if len(repeated) != 0 {
				t.Errorf("scan %d raised %d repeated_scans alerts", i, len(repeated))
			}
		} else {
			w := want[i-6]
			if len(repeated) != 1 {
				t.Fatalf("scan %d raised %d repeated_scans alerts, want 1", i, len(repeated))
			}
			if repeated[0].Details.Count != w.count || repeated[0].Severity != w.severity {
				t.Errorf("scan %d: count=%d severity=%s, want %d %s",
					i, repeated[0].Details.Count, repeated[0].Severity, w.count, w.severity)
			}
		}
		fc.Advance(5 * time.Minute)
	}
}

func TestProcessScan_RapidFireOnTwentyFirst(t *testing.T) {
	cfg := testConfig()
	cfg.Abuse.ThresholdRapidScans = 20
	eng, fc := newTestEngine(t, cfg, Dependencies{})
	ctx := context.Background()

	for i := 1; i <= 21; i++ {
		res, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: "E", CustomerID: fmt.Sprintf("c%d", i)})
		if err != nil {
			t.Fatalf("scan %d rejected: %v", i, err)
		}
		rapid := onlyType(res.Alerts, detection.AbuseTypeRapidFire)
		switch {
		case i < 21 && len(rapid) != 0:
			t.Errorf("scan %d raised rapid_fire early", i)
		case i == 21 && len(rapid) != 1:
			t.Errorf("scan 21 raised %d rapid_fire alerts, want 1", len(rapid))
		}
		fc.Advance(2 * time.Second)
	}
}

func TestProcessScan_UnusualHours(t *testing.T) {
	tests := []struct {
		hour int
		want bool
	}{
		{23, true},
		{3, true},
		{12, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("hour_%02d", tt.hour), func(t *testing.T) {
			eng, fc := newTestEngine(t, testConfig(), Dependencies{})
			fc.Set(time.Date(2026, 5, 4, tt.hour, 15, 0, 0, time.UTC))

			res, err := eng.ProcessScan(context.Background(), ScanRequest{EmployeeID: "E", CustomerID: "C"})
			if err != nil {
				t.Fatalf("ProcessScan() error = %v", err)
			}
			hours := onlyType(res.Alerts, detection.AbuseTypeUnusualHours)
			if got := len(hours) == 1; got != tt.want {
				t.Fatalf("unusual_hours raised = %v, want %v", got, tt.want)
			}
			if tt.want && hours[0].Severity != detection.SeverityLow {
				t.Errorf("severity = %s, want LOW", hours[0].Severity)
			}
		})
	}
}

func TestProcessScan_DetectionDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Abuse.PatternDetectionEnabled = false
	eng, fc := newTestEngine(t, cfg, Dependencies{})
	fc.Set(time.Date(2026, 5, 4, 2, 0, 0, 0, time.UTC))

	res, err := eng.ProcessScan(context.Background(), ScanRequest{EmployeeID: "E", CustomerID: "C"})
	if err != nil {
		t.Fatalf("ProcessScan() error = %v", err)
	}
	if len(res.Alerts) != 0 {
		t.Errorf("alerts = %+v, want none", res.Alerts)
	}
}

func TestProcessScan_CustomerNotifications(t *testing.T) {
	cfg := testConfig()
	cfg.Customer.MaxScansPerDay = 5
	cfg.Customer.WarningRatio = 0.8
	rt := &recordingRealtime{}
	eng, fc := newTestEngine(t, cfg, Dependencies{Realtime: rt})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: fmt.Sprintf("e%d", i), CustomerID: "cust"})
		if err != nil {
			t.Fatalf("scan %d rejected: %v", i, err)
		}
		// 4 of 5 recorded before the 5th attempt is the first at 80%.
		if gotWarn := len(res.Warnings) > 0; gotWarn != (i == 5) {
			t.Errorf("scan %d warnings = %+v", i, res.Warnings)
		}
		if res.ScansToday != i {
			t.Errorf("scan %d ScansToday = %d", i, res.ScansToday)
		}
		fc.Advance(time.Minute)
	}

	_, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: "e6", CustomerID: "cust"})
	if !errors.Is(err, quota.ErrDailyScanLimitExceeded) {
		t.Fatalf("6th scan = %v, want ErrDailyScanLimitExceeded", err)
	}

	eng.Outbox().RunPending(ctx)

	warnings := rt.named(alerting.EventCustomerScanWarning)
	if len(warnings) != 1 || warnings[0].Target != "cust" || warnings[0].Audience != alerting.AudienceCustomer {
		t.Fatalf("warning events = %+v", warnings)
	}
	if n, ok := warnings[0].Data.(WarningNotice); !ok || n.Current != 4 || n.Max != 5 || n.Remaining != 1 {
		t.Errorf("warning payload = %+v", warnings[0].Data)
	}

	limits := rt.named(alerting.EventCustomerScanLimit)
	if len(limits) != 1 {
		t.Fatalf("limit events = %+v", limits)
	}
	if n, ok := limits[0].Data.(LimitNotice); !ok || n.Current != 5 || n.Max != 5 || n.Code != string(quota.ReasonCustomerDailyScans) {
		t.Errorf("limit payload = %+v", limits[0].Data)
	}
}

func TestProcessScan_PointsLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Customer.MaxPointsPerDay = 10
	eng, _ := newTestEngine(t, cfg, Dependencies{})
	ctx := context.Background()

	res, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: "e1", CustomerID: "cust", Points: 10})
	if err != nil {
		t.Fatalf("first scan rejected: %v", err)
	}
	if res.PointsToday != 10 {
		t.Errorf("PointsToday = %d, want 10", res.PointsToday)
	}
	if _, err := eng.ProcessScan(ctx, ScanRequest{EmployeeID: "e2", CustomerID: "cust"}); !errors.Is(err, quota.ErrDailyPointsLimitExceeded) {
		t.Errorf("second scan = %v, want ErrDailyPointsLimitExceeded", err)
	}
}

func TestProcessScan_ConcurrentCustomerLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Customer.MaxScansPerDay = 5
	cfg.Abuse.PatternDetectionEnabled = false
	eng, _ := newTestEngine(t, cfg, Dependencies{})

	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := eng.ProcessScan(context.Background(), ScanRequest{EmployeeID: fmt.Sprintf("e%d", i), CustomerID: "cust"})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, quota.ErrDailyScanLimitExceeded):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if accepted.Load() != 5 || rejected.Load() != 45 {
		t.Errorf("accepted=%d rejected=%d, want 5 and 45", accepted.Load(), rejected.Load())
	}
}

func TestProcessScan_MissingIdentity(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), Dependencies{})
	if _, err := eng.ProcessScan(context.Background(), ScanRequest{EmployeeID: "e"}); !errors.Is(err, ErrMissingIdentity) {
		t.Errorf("ProcessScan() = %v, want ErrMissingIdentity", err)
	}
}

func TestDetectAndRaiseAbuse_EmailFailureDoesNotBlockRealtime(t *testing.T) {
	cfg := testConfig()
	cfg.Notify.Recipients.Operations = []string{"ops@example.com"}
	rt := &recordingRealtime{}
	email := &failingEmail{}
	eng, fc := newTestEngine(t, cfg, Dependencies{Realtime: rt, Email: email})
	fc.Set(time.Date(2026, 5, 4, 23, 30, 0, 0, time.UTC))
	now := fc.Now()
	ctx := context.Background()

	eng.RecordEmployeeScan("E", "C", now)
	eng.RecordCustomerScan("C", 1, now)
	alerts := eng.DetectAndRaiseAbuse(ctx, "E", "C", now)
	if len(alerts) != 1 || alerts[0].AbuseType != detection.AbuseTypeUnusualHours {
		t.Fatalf("alerts = %+v", alerts)
	}

	eng.Outbox().RunPending(ctx)

	if email.calls.Load() != 1 {
		t.Errorf("email sends = %d, want 1", email.calls.Load())
	}
	if got := rt.named(alerting.EventAdminAbuseAlert); len(got) != 1 {
		t.Errorf("admin realtime events = %d, want 1", len(got))
	}
}

func TestDetectAndRaiseAbuse_EscalatesAgainstStore(t *testing.T) {
	store, err := alertstore.OpenBadger(alertstore.BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := testConfig()
	cfg.Abuse.EscalationThreshold = 3
	eng, fc := newTestEngine(t, cfg, Dependencies{Store: store})
	fc.Set(time.Date(2026, 5, 4, 23, 0, 0, 0, time.UTC))
	ctx := context.Background()

	var escalations int
	for i := 0; i < 5; i++ {
		now := fc.Now()
		eng.RecordEmployeeScan("E", fmt.Sprintf("c%d", i), now)
		for _, a := range eng.DetectAndRaiseAbuse(ctx, "E", fmt.Sprintf("c%d", i), now) {
			if a.IsEscalation() {
				escalations++
				if i != 2 || a.ViolationCount != 3 || !a.RequiresImmediateAction {
					t.Errorf("escalation on scan %d: %+v", i+1, a)
				}
			}
		}
		fc.Advance(5 * time.Minute)
	}
	if escalations != 1 {
		t.Errorf("escalations = %d, want 1 per window", escalations)
	}

	stored, err := store.CountAlerts(ctx, alerting.AlertFilter{EmployeeID: "E", Type: alerting.TypeAbuseEscalation})
	if err != nil || stored != 1 {
		t.Errorf("stored escalations = %d, %v", stored, err)
	}
}

func TestSweeper_PrunesLedger(t *testing.T) {
	eng, fc := newTestEngine(t, testConfig(), Dependencies{})
	eng.RecordEmployeeScan("E", "C", fc.Now())
	eng.RecordCustomerScan("C", 1, fc.Now())

	fc.Advance(8 * 24 * time.Hour)
	eng.Sweeper().SweepOnce()

	if s := eng.Stats(); s.Employees != 0 || s.Customers != 0 {
		t.Errorf("Stats() after sweep = %+v", s)
	}
}
