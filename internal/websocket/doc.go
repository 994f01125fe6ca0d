// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

/*
Package websocket pushes realtime ScanGuard events to connected dashboards,
employee terminals and customer apps.

Key Components:

  - Hub: routes alerting.Event values to clients. It implements
    alerting.RealtimeSink, so the dispatcher can publish to it directly.
  - Client: one connection with read/write goroutines and an Identity
  - BusSubscriber: feeds the hub from the message bus so that, with a
    shared broker, clients see events raised on any instance
  - ServeWS / NewUpgrader: HTTP upgrade with origin checking

Routing:

	event.Audience   delivered to
	--------------   ----------------------------------------
	admin            every client with Identity.Admin
	employee         the client whose Subject == event.Target
	customer         the client whose Subject == event.Target

Message format (server to client):

	{"type":"admin_abuse_alert","data":{...},"timestamp":"2026-05-04T23:10:00Z"}
	{"type":"abuse_detected","target":"emp-17","data":{...},"timestamp":"..."}
	{"type":"customer_scan_warning","target":"cust-9","data":{...},"timestamp":"..."}

Clients may send {"type":"ping"} and receive {"type":"pong"}. Protocol
level pings keep idle connections alive (pongWait 60s, pingPeriod 54s).

Back-pressure:

Publish never blocks. When the hub queue is full the event is dropped and
ErrHubBusy returned; when a client's send buffer is full the client is
disconnected. Both are counted in scanguard_websocket_errors_total.

Lifecycle:

Hub.Serve and BusSubscriber.Serve are suture services. Canceling the
context closes every client.
*/
package websocket
