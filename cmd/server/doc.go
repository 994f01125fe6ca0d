// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

/*
Package main is the entry point for the ScanGuard server.

ScanGuard sits behind a loyalty program's point-of-sale terminals. Every
scan an employee makes of a customer's QR code passes through it: quotas and
cooldowns are enforced, the scan is recorded, abuse patterns are evaluated
and alerts are stored and fanned out to dashboards and email.

# Application Architecture

	RootSupervisor ("scanguard")
	├── DataSupervisor ("data-layer")
	│   └── ledger-sweeper
	├── MessagingSupervisor ("messaging-layer")
	│   ├── notification-outbox
	│   ├── websocket-hub
	│   └── websocket-bus-subscriber (realtime_ws_via_bus)
	└── APISupervisor ("api-layer")
	    └── http-server

Component initialization order:

 1. Configuration: koanf v2 with defaults, optional YAML file and environment
 2. Logging: zerolog with JSON/console output modes
 3. Alert store: embedded BadgerDB or an external HTTP API
 4. Email sink: SMTP, HTTP email API, or none
 5. Realtime: websocket hub and/or a watermill bus (in-process or NATS)
 6. Scan engine: ledger, quota enforcer, detectors, dispatcher
 7. Authentication: HS256 JWT bearer tokens
 8. Supervisor tree and HTTP server

# Configuration

Priority: environment variables > config file (CONFIG_PATH) > defaults.

	# Employee quotas
	MAX_SCANS_PER_HOUR=20
	MAX_SCANS_PER_DAY=100
	SCAN_COOLDOWN_SECONDS=30

	# Customer quotas
	CUSTOMER_MAX_SCANS_PER_DAY=5
	CUSTOMER_MAX_POINTS_PER_DAY=10

	# Detection
	ABUSE_DETECTION_ENABLED=true
	PATTERN_DETECTION_ENABLED=true
	UNUSUAL_HOURS_START=23
	UNUSUAL_HOURS_END=5

	# Server and identity
	HTTP_PORT=8080
	JWT_SECRET=<32+ chars>
	ADMIN_ROLE=admin
	EMPLOYEE_ROLE=employee       # token role allowed to record scans

	# Alerts
	ALERT_STORE_BACKEND=badger   # badger or http
	ALERT_STORE_PATH=/data/alerts
	EMAIL_PROVIDER=none          # smtp, api or none
	ALERT_RECIPIENTS=ops@example.com

# Build Tags

	go build ./cmd/server                # in-process realtime bus
	go build -tags nats ./cmd/server     # NATS realtime bus (NATS_ENABLED=true)

# Signal Handling

On SIGINT or SIGTERM the supervisor tree is canceled: the HTTP server stops
accepting connections and drains in-flight requests, websocket clients
receive a close frame, and the sweeper and outbox workers exit. Notifications
still queued are then delivered on the main goroutine before the ledger and
the alert store are closed.
*/
package main
