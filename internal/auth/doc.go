// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

/*
Package auth verifies the identity tokens presented by employee terminals,
customer apps and admin dashboards.

The engine never authenticates; it trusts the subject this package puts in
the request context. Tokens are HS256 JWTs:

	{"sub": "emp-17", "role": "employee", "iss": "loyalty", "exp": ...}

The sub claim is the employee (or customer) identifier. A role equal to
security.admin_role grants the admin endpoints and admin realtime events.

Usage:

	mgr, err := auth.NewJWTManager(&cfg.Security)
	mw := auth.NewMiddleware(mgr, cfg.Security.AdminRole)

	r.Group(func(r chi.Router) {
	    r.Use(mw.Authenticate)
	    r.Post("/api/v1/scans", h.Scan)
	    r.With(mw.RequireAdmin).Get("/api/v1/alerts", h.Alerts)
	})

Websocket clients may pass the token as ?access_token= on the upgrade
request.
*/
package auth
