// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

// Package alertstore provides the alert system of record: an embedded
// BadgerDB store and a client for an external alert API. Both implement
// alerting.AlertStore.
package alertstore

import (
	"context"
	"fmt"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/config"
)

// Store is an alert store that owns resources and can fetch single alerts
// for the admin API.
type Store interface {
	alerting.AlertStore
	GetAlert(ctx context.Context, id string) (*alerting.AbuseAlert, error)
	Close() error
}

// New opens the backend selected by cfg.Backend.
func New(cfg config.AlertStoreConfig) (Store, error) {
	switch cfg.Backend {
	case "badger", "":
		return OpenBadger(BadgerConfig{
			Path:      cfg.BadgerPath,
			InMemory:  cfg.BadgerInMemory,
			Retention: cfg.BadgerRetention,
		})
	case "http":
		return NewHTTPStore(HTTPConfig{
			URL:     cfg.HTTPURL,
			Token:   cfg.HTTPToken,
			Timeout: cfg.HTTPTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown alert store backend %q", cfg.Backend)
	}
}

// Close is a no-op; the HTTP client holds no resources.
func (s *HTTPStore) Close() error {
	return nil
}
