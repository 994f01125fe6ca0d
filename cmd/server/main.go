// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/alertstore"
	"github.com/tomtom215/scanguard/internal/api"
	"github.com/tomtom215/scanguard/internal/auth"
	"github.com/tomtom215/scanguard/internal/config"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/notify"
	"github.com/tomtom215/scanguard/internal/scanguard"
	"github.com/tomtom215/scanguard/internal/supervisor"
	"github.com/tomtom215/scanguard/internal/supervisor/services"
	ws "github.com/tomtom215/scanguard/internal/websocket"
)

// shutdownGrace bounds the post-tree cleanup: outbox drain and store close.
const shutdownGrace = 15 * time.Second

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	cfg.LogDivergences()

	logging.Info().
		Int("employee_hourly", cfg.Employee.MaxScansPerHour).
		Int("employee_daily", cfg.Employee.MaxScansPerDay).
		Int("cooldown_seconds", cfg.Employee.CooldownSeconds).
		Int("customer_daily_scans", cfg.Customer.MaxScansPerDay).
		Int("customer_daily_points", cfg.Customer.MaxPointsPerDay).
		Str("alert_store", cfg.AlertStore.Backend).
		Str("timezone", cfg.Ledger.Timezone).
		Msg("Starting ScanGuard with supervisor tree")

	app, err := newApplication(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridges zerolog to slog for sutureslog.
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	server := services.NewHTTPServer(&cfg.Server, app.handler)
	app.layers.API = append(app.layers.API, services.NewHTTPServerService(server, 10*time.Second))
	added := tree.AddLayers(app.layers)
	logging.Info().Int("services", added).Str("addr", server.Addr).Msg("Services added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	app.shutdown(shutdownCtx)

	logging.Info().Msg("ScanGuard stopped gracefully")
}

// application holds everything main wires together. The HTTP server is added
// by main so tests can drive handler without binding a port.
type application struct {
	store    alertstore.Store
	bus      *messageBus
	realtime *notify.WatermillPublisher
	engine   *scanguard.Engine
	hub      *ws.Hub
	handler  http.Handler
	layers   supervisor.Layers
}

// newApplication builds the engine and its collaborators from cfg. Nothing
// runs until the returned layers are served.
func newApplication(cfg *config.Config) (*application, error) {
	app := &application{}

	store, err := alertstore.New(cfg.AlertStore)
	if err != nil {
		return nil, fmt.Errorf("alert store: %w", err)
	}
	app.store = store
	logging.Info().Str("backend", cfg.AlertStore.Backend).Msg("Alert store initialized")

	email, err := notify.NewEmailSink(cfg.Notify.Email, cfg.Notify.SendTimeout)
	if err != nil {
		app.closeStore()
		return nil, fmt.Errorf("email sink: %w", err)
	}

	rt := cfg.Notify.Realtime
	if rt.BusEnabled {
		app.bus, err = initBus(cfg)
		if err != nil {
			app.closeStore()
			return nil, fmt.Errorf("message bus: %w", err)
		}
	}

	// With websocket_via_bus the hub is fed by the bus subscriber only, so it
	// is kept out of the dispatcher's sinks to avoid double delivery.
	viaBus := rt.WebSocketEnabled && rt.WebSocketViaBus && app.bus != nil
	var hubSink alerting.RealtimeSink
	if rt.WebSocketEnabled {
		app.hub = ws.NewHub()
		if !viaBus {
			hubSink = app.hub
		}
	}

	busPub := app.bus.publisher()
	realtime, pub := notify.NewRealtime(rt, hubSink, busPub)
	app.realtime = pub

	var realtimeSink alerting.RealtimeSink
	if realtime.Len() > 0 {
		realtimeSink = realtime
	}

	app.engine = scanguard.New(cfg, scanguard.Dependencies{
		Store:    store,
		Realtime: realtimeSink,
		Email:    email,
	})

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		app.shutdown(context.Background())
		return nil, fmt.Errorf("jwt: %w", err)
	}
	authMW := auth.NewMiddleware(jwtManager, cfg.Security.AdminRole)

	mwConfig := api.ChiMiddlewareConfigFromServer(&cfg.Server)
	if mwConfig.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (server.rate_limit_reqs=0)")
	}

	app.handler = api.NewRouter(api.Deps{
		Engine:       app.engine,
		Detectors:    app.engine.Detector(),
		Store:        store,
		Hub:          app.hub,
		Upgrader:     ws.NewUpgrader(cfg.Server.CORSOrigins),
		Auth:         authMW,
		EmployeeRole: cfg.Security.EmployeeRole,
		Middleware:   mwConfig,
	})

	app.layers.Data = []suture.Service{app.engine.Sweeper()}
	app.layers.Messaging = []suture.Service{app.engine.Outbox()}
	if app.hub != nil {
		app.layers.Messaging = append(app.layers.Messaging, app.hub)
	}
	if viaBus {
		app.layers.Messaging = append(app.layers.Messaging,
			ws.NewBusSubscriber(app.hub, app.bus.sub, rt.TopicPrefix))
	}

	logging.Info().
		Bool("websocket", app.hub != nil).
		Bool("bus", app.bus != nil).
		Bool("websocket_via_bus", viaBus).
		Bool("email", email != nil).
		Msg("Notification channels configured")
	return app, nil
}

// shutdown drains queued notifications, then releases the bus, the ledger
// and the alert store. Call it after the supervisor tree has stopped.
func (a *application) shutdown(ctx context.Context) {
	if a.engine != nil {
		// Workers are gone once the tree stops; run what is left here.
		if n := a.engine.Outbox().RunPending(ctx); n > 0 {
			logging.Info().Int("tasks", n).Msg("Flushed pending notifications")
		}
		if err := a.engine.Outbox().Flush(ctx); err != nil {
			logging.Warn().Err(err).Msg("Notification outbox did not drain")
		}
	}
	if a.realtime != nil {
		if err := a.realtime.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing realtime publisher")
		}
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing message bus")
		}
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing scan ledger")
		}
	}
	a.closeStore()
}

func (a *application) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing alert store")
	}
}
