// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

/*
Package scanguard is the entry point callers use: it wires the scan ledger,
quota enforcer, pattern detector and alert dispatcher into one Engine.

Callers that interleave their own business logic use the primitives in
order:

	if err := eng.CheckEmployeeScan(ctx, emp, now); err != nil { ... }
	if _, err := eng.CheckCustomerScan(ctx, cust, now); err != nil { ... }
	// award points, record the visit
	eng.RecordEmployeeScan(emp, cust, now)
	eng.RecordCustomerScan(cust, points, now)
	alerts := eng.DetectAndRaiseAbuse(ctx, emp, cust, now)

Everyone else calls ProcessScan, which does the same at the clock's time and
holds per-identity locks from check to record.

A rejection is always a *quota.QuotaError. Alert delivery never fails a
scan; see package alerting.

The engine does no background work by itself. The host serves Sweeper()
and Outbox(), normally under the supervisor tree.
*/
package scanguard
