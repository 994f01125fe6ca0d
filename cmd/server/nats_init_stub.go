// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

//go:build !nats

package main

import (
	"github.com/tomtom215/scanguard/internal/config"
	"github.com/tomtom215/scanguard/internal/logging"
)

// initNATSBus is a no-op for non-NATS builds; initBus falls back to the
// in-process channel.
func initNATSBus(_ *config.Config) (*messageBus, error) {
	logging.Warn().Msg("NATS_ENABLED=true but NATS support not compiled (build with -tags nats)")
	return nil, nil
}
