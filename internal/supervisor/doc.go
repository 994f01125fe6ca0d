// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

/*
Package supervisor provides process supervision for ScanGuard using suture v4.

Long-running services are grouped into three layers so that a failing
component restarts without taking the others down:

	RootSupervisor ("scanguard")
	├── DataSupervisor ("data-layer")
	│   └── ledger-sweeper
	├── MessagingSupervisor ("messaging-layer")
	│   ├── notification-outbox
	│   ├── websocket-hub (if websocket enabled)
	│   └── websocket-bus-subscriber (if websocket delivery goes through the bus)
	└── APISupervisor ("api-layer")
	    └── http-server

Scans are checked and recorded on the request goroutine, so a crash in the
messaging layer delays notifications but never blocks scanning.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	if err != nil {
	    logging.Fatal().Err(err).Msg("supervisor")
	}
	tree.AddLayers(supervisor.Layers{
	    Data:      []suture.Service{engine.Sweeper()},
	    Messaging: []suture.Service{engine.Outbox(), hub},
	    API:       []suture.Service{services.NewHTTPServerService(server, 10*time.Second)},
	})
	err = tree.Serve(ctx)

Supervisor events (start, failure, backoff, restart) are logged through
sutureslog onto the zerolog-backed slog handler. After shutdown,
UnstoppedServiceReport lists services that ignored cancellation.
*/
package supervisor
