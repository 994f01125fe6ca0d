// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package clock

import (
	"testing"
	"time"
)

func TestFake_Advance(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Advance(90 * time.Second)

	if got := f.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(90*time.Second))
	}
}

func TestFake_TickerFiresOnPeriod(t *testing.T) {
	f := NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ticker := f.NewTicker(time.Hour)
	defer ticker.Stop()

	f.Advance(30 * time.Minute)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its period elapsed")
	default:
	}

	f.Advance(30 * time.Minute)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after one period")
	}
}

func TestFake_StoppedTickerDoesNotFire(t *testing.T) {
	f := NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ticker := f.NewTicker(time.Minute)

	if f.Tickers() != 1 {
		t.Fatalf("Tickers() = %d, want 1", f.Tickers())
	}

	ticker.Stop()
	f.Advance(time.Hour)

	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	if f.Tickers() != 0 {
		t.Errorf("Tickers() = %d after Stop, want 0", f.Tickers())
	}
}

func TestDateKey(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		loc  *time.Location
		want string
	}{
		{"utc", time.UTC, "2026-03-01"},
		{"ahead of utc rolls the date", loc, "2026-03-02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DateKey(ts, tt.loc); got != tt.want {
				t.Errorf("DateKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStartOfDay(t *testing.T) {
	ts := time.Date(2026, 3, 1, 17, 45, 12, 0, time.UTC)
	got := StartOfDay(ts, time.UTC)
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("StartOfDay() = %v, want %v", got, want)
	}
}
