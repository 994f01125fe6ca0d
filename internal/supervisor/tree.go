// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig tunes restart behaviour. Zero fields take DefaultTreeConfig's value.
type TreeConfig struct {
	// A layer backs off once its failure count passes FailureThreshold;
	// the count decays by one every FailureDecay seconds.
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration

	// ShutdownTimeout bounds how long each service gets to return after
	// cancellation before it is listed by UnstoppedServiceReport.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// SupervisorTree is the process supervision tree.
//
//   - data: ledger sweeper
//   - messaging: notification outbox, websocket hub, bus subscriber
//   - api: HTTP server
//
// A crash in the messaging layer does not stop scans from being served.
type SupervisorTree struct {
	root      *suture.Supervisor
	data      *suture.Supervisor
	messaging *suture.Supervisor
	api       *suture.Supervisor
	config    TreeConfig
}

// Layers groups services by the layer they run in. Nil entries are skipped.
type Layers struct {
	Data      []suture.Service
	Messaging []suture.Service
	API       []suture.Service
}

// NewSupervisorTree builds the root and the three layer supervisors. Events
// from every level are logged through logger.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	spec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	layer := func(name string) *suture.Supervisor { return suture.New(name, spec) }

	// Layers added below inherit the root's EventHook.
	rootSpec := spec
	rootSpec.EventHook = (&sutureslog.Handler{Logger: logger}).MustHook()

	t := &SupervisorTree{
		root:      suture.New("scanguard", rootSpec),
		data:      layer("data-layer"),
		messaging: layer("messaging-layer"),
		api:       layer("api-layer"),
		config:    config,
	}
	t.root.Add(t.data)
	t.root.Add(t.messaging)
	t.root.Add(t.api)
	return t, nil
}

// Root returns the root supervisor.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// AddDataService adds a service to the data layer.
func (t *SupervisorTree) AddDataService(svc suture.Service) suture.ServiceToken {
	return t.data.Add(svc)
}

// AddMessagingService adds a service to the messaging layer.
func (t *SupervisorTree) AddMessagingService(svc suture.Service) suture.ServiceToken {
	return t.messaging.Add(svc)
}

// AddAPIService adds a service to the API layer.
func (t *SupervisorTree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// AddLayers adds every service in l to its layer and returns how many were added.
func (t *SupervisorTree) AddLayers(l Layers) int {
	n := 0
	for _, group := range []struct {
		sup  *suture.Supervisor
		svcs []suture.Service
	}{
		{t.data, l.Data},
		{t.messaging, l.Messaging},
		{t.api, l.API},
	} {
		for _, svc := range group.svcs {
			if svc == nil {
				continue
			}
			group.sup.Add(svc)
			n++
		}
	}
	return n
}

// Serve runs the tree until ctx is canceled.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine. The channel receives the
// result when the tree stops.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
