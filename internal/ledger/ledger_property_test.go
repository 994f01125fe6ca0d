// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package ledger

import (
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_HourlyCountMatchesWindow checks that for any set of scan
// offsets the hourly count equals the number of scans strictly younger than
// one hour, and the rapid-fire count those younger than 60 seconds.
func TestProperty_HourlyCountMatchesWindow(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("counts equal a brute-force filter over recorded scans", prop.ForAll(
		func(offsetsSec []int, querySec int) bool {
			sort.Ints(offsetsSec)
			l := newTestLedger()
			for _, off := range offsetsSec {
				l.RecordEmployeeScan("emp", "cust", t0.Add(time.Duration(off)*time.Second))
			}

			last := 0
			if n := len(offsetsSec); n > 0 {
				last = offsetsSec[n-1]
			}
			now := t0.Add(time.Duration(last+querySec) * time.Second)

			wantHour, wantRapid := 0, 0
			for _, off := range offsetsSec {
				age := now.Sub(t0.Add(time.Duration(off) * time.Second))
				if age < time.Hour {
					wantHour++
				}
				if age < 60*time.Second {
					wantRapid++
				}
			}

			return l.CountEmployeeHourly("emp", now) == wantHour &&
				l.CountRapidFire("emp", now) == wantRapid &&
				l.CountRepeatedCustomerWithinHour("emp", "cust", now) == wantHour
		},
		gen.SliceOf(gen.IntRange(0, 3*3600)),
		gen.IntRange(0, 2*3600),
	))

	properties.TestingRun(t)
}

// TestProperty_RecordCountIsExact checks that K records inside the window
// are counted exactly K times.
func TestProperty_RecordCountIsExact(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("K records yield count K", prop.ForAll(
		func(k int) bool {
			l := newTestLedger()
			for i := 0; i < k; i++ {
				l.RecordEmployeeScan("emp", "cust", t0.Add(time.Duration(i)*time.Second))
				l.RecordCustomerScan("cust", 1, t0.Add(time.Duration(i)*time.Second))
			}
			now := t0.Add(time.Duration(k) * time.Second)
			return l.CountEmployeeHourly("emp", now) == k &&
				l.CountEmployeeDaily("emp", now) == k &&
				l.CountCustomerDaily("cust", now) == k &&
				l.CustomerPointsToday("cust", now) == k
		},
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}

// TestProperty_SweepNeverRemovesCountedEvents checks that sweeping at any
// time leaves every count that a query at that time would return unchanged.
func TestProperty_SweepNeverRemovesCountedEvents(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sweep is invisible to counts", prop.ForAll(
		func(offsetsMin []int, sweepAfterMin int) bool {
			sort.Ints(offsetsMin)
			l := newTestLedger()
			for _, off := range offsetsMin {
				at := t0.Add(time.Duration(off) * time.Minute)
				l.RecordEmployeeScan("emp", "cust", at)
				l.RecordCustomerScan("cust", 2, at)
			}
			now := t0.Add(time.Duration(sweepAfterMin) * time.Minute)

			beforeHourly := l.CountEmployeeHourly("emp", now)
			beforeDaily := l.CountEmployeeDaily("emp", now)
			beforeCust := l.CountCustomerDaily("cust", now)

			l.Sweep(now)

			return l.CountEmployeeHourly("emp", now) == beforeHourly &&
				l.CountEmployeeDaily("emp", now) == beforeDaily &&
				l.CountCustomerDaily("cust", now) == beforeCust
		},
		gen.SliceOf(gen.IntRange(0, 10*24*60)),
		gen.IntRange(0, 12*24*60),
	))

	properties.TestingRun(t)
}
