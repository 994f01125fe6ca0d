// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

// Package detection classifies a just-recorded scan against behavioural
// abuse signatures.
//
// Detection Architecture:
//
//	Scan recorded -> Engine.Evaluate -> []Detection -> alerting.Dispatcher
//	                   |
//	                   v
//	             Detectors (read-only ledger queries)
//
// Supported signatures:
//   - repeated_scans: one employee scanning the same customer more than
//     the configured number of times within an hour
//   - rapid_fire: more scans by one employee within 60 seconds than the
//     configured threshold
//   - unusual_hours: any scan whose local hour falls in the night window
//
// Detectors never mutate the ledger and are independent of one another, so
// a single scan can yield several detections. The thresholds here are
// deliberately separate from the quota limits in package quota: a quota
// breach rejects a scan, a detection only raises an alert.
package detection
