// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

/*
Package api is the HTTP surface of ScanGuard: a chi router in front of the
scan engine, the alert store and the websocket hub.

Identity comes from a bearer JWT verified by internal/auth. Scan endpoints
require the employee role (security.employee_role) or the admin role. The
employee for a scan is always the token subject; the body only names the
customer, and a customer_id equal to the subject is rejected as SELF_SCAN.

Endpoints:

	GET  /healthz                  liveness (unauthenticated, 1000/min per IP)
	GET  /metrics                  Prometheus exposition
	POST /api/v1/scans             {"customer_id":"c-9","points":10}
	POST /api/v1/scans/check       {"customer_id":"c-9"}; nothing is recorded
	GET  /api/v1/alerts            admin; employee_id, type, abuse_type, since, limit
	GET  /api/v1/alerts/{id}       admin
	GET  /api/v1/detectors         admin; config, enabled state and counters
	PUT  /api/v1/detectors/{type}  admin; {"enabled":false} or {"config":{"high_at":8}}
	GET  /api/v1/ledger/stats      admin
	GET  /ws                       websocket upgrade; token via header or access_token

Responses share one envelope:

	{"success":true,"data":{...},"meta":{"request_id":"...","timestamp":"...","duration_ms":1}}
	{"success":false,"error":{"code":"COOLDOWN_ACTIVE","message":"please wait 20 seconds between scans",
	 "current":10,"limit":30,"retry_after_seconds":20},"meta":{...}}

Quota rejections are 429 with the rule's code, the current usage and the
limit. Cooldown rejections also carry Retry-After. Validation failures are
400 VALIDATION_FAILED with per-field details.

Middleware order: request ID, real IP, panic recovery, CORS, then per group
rate limiting (go-chi/httprate), security headers, Prometheus metrics and
authentication.
*/
package api
