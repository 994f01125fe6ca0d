// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package detection

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

// mockCounter returns fixed counts.
type mockCounter struct {
	repeated int
	rapid    int
}

func (m *mockCounter) CountRepeatedCustomerWithinHour(string, string, time.Time) int {
	return m.repeated
}

func (m *mockCounter) CountRapidFire(string, time.Time) int {
	return m.rapid
}

var noon = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func scanAt(t time.Time) *ScanEvent {
	return &ScanEvent{EmployeeID: "emp-1", CustomerID: "cust-1", Timestamp: t}
}

// --- repeated_scans ---

func TestRepeatedScansDetector_SeverityBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		count    int
		want     bool
		severity Severity
	}{
		{count: 0, want: false},
		{count: 5, want: false},
		{count: 6, want: true, severity: SeverityMedium},
		{count: 7, want: true, severity: SeverityHigh},
		{count: 9, want: true, severity: SeverityHigh},
		{count: 10, want: true, severity: SeverityCritical},
		{count: 40, want: true, severity: SeverityCritical},
	}

	for _, tt := range tests {
		d := NewRepeatedScansDetector(&mockCounter{repeated: tt.count})
		got, err := d.Check(context.Background(), scanAt(noon))
		if err != nil {
			t.Fatalf("count %d: unexpected error: %v", tt.count, err)
		}
		if (got != nil) != tt.want {
			t.Fatalf("count %d: detection = %+v, want triggered=%v", tt.count, got, tt.want)
		}
		if got == nil {
			continue
		}
		if got.Severity != tt.severity {
			t.Errorf("count %d: severity = %s, want %s", tt.count, got.Severity, tt.severity)
		}
		if got.Details.Count != tt.count || got.Details.Threshold != 5 {
			t.Errorf("count %d: details = %+v", tt.count, got.Details)
		}
		if got.AbuseType != AbuseTypeRepeatedScans {
			t.Errorf("AbuseType = %s", got.AbuseType)
		}
	}
}

func TestRepeatedScansDetector_Disabled(t *testing.T) {
	t.Parallel()

	d := NewRepeatedScansDetector(&mockCounter{repeated: 50})
	d.SetEnabled(false)
	if got, _ := d.Check(context.Background(), scanAt(noon)); got != nil {
		t.Errorf("disabled detector returned %+v", got)
	}
}

func TestRepeatedScansDetector_MissingCustomer(t *testing.T) {
	t.Parallel()

	d := NewRepeatedScansDetector(&mockCounter{repeated: 50})
	event := scanAt(noon)
	event.CustomerID = ""
	if got, _ := d.Check(context.Background(), event); got != nil {
		t.Errorf("detection without customer = %+v", got)
	}
}

func TestRepeatedScansDetector_Configure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", `{"threshold":3,"high_at":4,"critical_at":6}`, false},
		{"zero threshold", `{"threshold":0,"high_at":4,"critical_at":6}`, true},
		{"steps inverted", `{"threshold":3,"high_at":8,"critical_at":6}`, true},
		{"bad json", `{"threshold":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := NewRepeatedScansDetector(&mockCounter{})
			err := d.Configure(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Errorf("Configure() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && d.Config().Threshold != 3 {
				t.Errorf("config not applied: %+v", d.Config())
			}
		})
	}
}

// --- rapid_fire ---

func TestRapidFireDetector_SeverityBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		count    int
		severity Severity
	}{
		{count: 20},
		{count: 21, severity: SeverityMedium},
		{count: 29, severity: SeverityMedium},
		{count: 30, severity: SeverityHigh},
		{count: 49, severity: SeverityHigh},
		{count: 50, severity: SeverityCritical},
	}

	for _, tt := range tests {
		d := NewRapidFireDetector(&mockCounter{rapid: tt.count})
		got, err := d.Check(context.Background(), scanAt(noon))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tt.severity == "" {
			if got != nil {
				t.Errorf("count %d: unexpected detection %+v", tt.count, got)
			}
			continue
		}
		if got == nil {
			t.Fatalf("count %d: no detection", tt.count)
		}
		if got.Severity != tt.severity {
			t.Errorf("count %d: severity = %s, want %s", tt.count, got.Severity, tt.severity)
		}
		if got.Details.TimeWindow != "60 seconds" {
			t.Errorf("TimeWindow = %q", got.Details.TimeWindow)
		}
	}
}

func TestRapidFireDetector_Configure(t *testing.T) {
	t.Parallel()

	d := NewRapidFireDetector(&mockCounter{rapid: 4})
	if err := d.Configure(json.RawMessage(`{"threshold":3,"high_at":5,"critical_at":9}`)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	got, _ := d.Check(context.Background(), scanAt(noon))
	if got == nil || got.Severity != SeverityMedium {
		t.Errorf("detection after reconfigure = %+v", got)
	}

	if err := d.Configure(json.RawMessage(`{"threshold":-1}`)); err == nil {
		t.Error("negative threshold accepted")
	}
}

// --- unusual_hours ---

func TestUnusualHoursDetector_Hours(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hour int
		want bool
	}{
		{0, true},
		{3, true},
		{5, true},
		{6, false},
		{12, false},
		{22, false},
		{23, true},
	}

	d := NewUnusualHoursDetector(time.UTC)
	for _, tt := range tests {
		at := time.Date(2026, 5, 4, tt.hour, 30, 0, 0, time.UTC)
		got, err := d.Check(context.Background(), scanAt(at))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if (got != nil) != tt.want {
			t.Errorf("hour %d: triggered = %v, want %v", tt.hour, got != nil, tt.want)
			continue
		}
		if got != nil {
			if got.Severity != SeverityLow {
				t.Errorf("hour %d: severity = %s, want LOW", tt.hour, got.Severity)
			}
			if got.Details.Hour == nil || *got.Details.Hour != tt.hour {
				t.Errorf("hour %d: details.hour = %v", tt.hour, got.Details.Hour)
			}
		}
	}
}

func TestUnusualHoursDetector_UsesLocation(t *testing.T) {
	t.Parallel()

	// 20:00 UTC is 23:00 at UTC+3.
	loc := time.FixedZone("UTC+3", 3*60*60)
	d := NewUnusualHoursDetector(loc)
	at := time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC)

	if got, _ := d.Check(context.Background(), scanAt(at)); got == nil {
		t.Error("expected detection at local hour 23")
	}
	if got, _ := NewUnusualHoursDetector(time.UTC).Check(context.Background(), scanAt(at)); got != nil {
		t.Error("unexpected detection at UTC hour 20")
	}
}

func TestUnusualHoursConfig_Contains(t *testing.T) {
	t.Parallel()

	daytime := UnusualHoursConfig{StartHour: 9, EndHour: 17}
	if !daytime.Contains(9) || !daytime.Contains(17) || daytime.Contains(18) || daytime.Contains(8) {
		t.Error("non-wrapping window bounds are wrong")
	}

	if err := NewUnusualHoursDetector(nil).Configure(json.RawMessage(`{"start_hour":24,"end_hour":5}`)); err == nil {
		t.Error("start_hour 24 accepted")
	}
}
