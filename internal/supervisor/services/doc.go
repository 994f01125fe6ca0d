// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

/*
Package services adapts components that do not already implement
suture.Service to the supervisor tree.

The ledger sweeper, notification outbox, websocket hub and bus subscriber
each implement Serve(ctx) themselves and are added to the tree directly.
Only the HTTP server needs a wrapper: ListenAndServe does not take a
context, so HTTPServerService runs it in a goroutine and calls Shutdown
when the supervisor cancels the service.

	server := services.NewHTTPServer(&cfg.Server, router)
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

A listen error (port in use, permission denied) is returned to suture, which
restarts the server with backoff. A graceful stop returns ctx.Err().
*/
package services
