// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

// Package alerting turns abuse detections into alerts and delivers them.
//
// Flow for a single detection:
//
//	Detection -> AbuseAlert -> AlertStore.SaveAlert (bounded, failure logged)
//	                        -> Outbox -> RealtimeSink (admin_abuse_alert, abuse_detected)
//	                                  -> EmailSink    (recipients by severity)
//	          -> EscalationTracker -> abuse_escalation alert (senior recipients)
//
// Every delivery step is best effort. A DeliveryError is logged and counted
// in metrics and never reaches the scan caller.
package alerting
