// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/clock"
	"github.com/tomtom215/scanguard/internal/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// waitFor polls cond for up to a second.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSupervisorTreeConstruction(t *testing.T) {
	t.Run("creates hierarchical supervisor tree", func(t *testing.T) {
		tree, err := NewSupervisorTree(testLogger(), TreeConfig{
			FailureThreshold: 5,
			FailureBackoff:   time.Second,
			ShutdownTimeout:  10 * time.Second,
		})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
		if tree.Root() == nil {
			t.Error("root supervisor should not be nil")
		}
	})

	t.Run("applies default values for zero config", func(t *testing.T) {
		tree, err := NewSupervisorTree(testLogger(), TreeConfig{})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
		if tree.config != DefaultTreeConfig() {
			t.Errorf("config = %+v, want %+v", tree.config, DefaultTreeConfig())
		}
	})
}

func TestDefaultTreeConfig(t *testing.T) {
	config := DefaultTreeConfig()

	if config.FailureThreshold != 5.0 {
		t.Errorf("expected FailureThreshold 5.0, got %f", config.FailureThreshold)
	}
	if config.FailureDecay != 30.0 {
		t.Errorf("expected FailureDecay 30.0, got %f", config.FailureDecay)
	}
	if config.FailureBackoff != 15*time.Second {
		t.Errorf("expected FailureBackoff 15s, got %v", config.FailureBackoff)
	}
	if config.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected ShutdownTimeout 10s, got %v", config.ShutdownTimeout)
	}
}

func TestSupervisorTreeLifecycle(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   100 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}

	sweeper := newStubService("ledger-sweeper")
	outbox := newStubService("notification-outbox")
	hub := newStubService("websocket-hub")
	httpSvc := newStubService("http-server")

	added := tree.AddLayers(Layers{
		Data:      []suture.Service{sweeper},
		Messaging: []suture.Service{outbox, hub, nil},
		API:       []suture.Service{httpSvc},
	})
	if added != 4 {
		t.Errorf("AddLayers() = %d, want 4 (nil skipped)", added)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitFor(t, "all layers to start", func() bool {
		return sweeper.Runs() >= 1 && outbox.Runs() >= 1 &&
			hub.Runs() >= 1 && httpSvc.Runs() >= 1
	})

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down in time")
	}

	for _, svc := range []*stubService{sweeper, outbox, hub, httpSvc} {
		if svc.Exits() != svc.Runs() {
			t.Errorf("%s: started %d, stopped %d", svc, svc.Runs(), svc.Exits())
		}
	}
	report, err := tree.UnstoppedServiceReport()
	if err != nil || len(report) != 0 {
		t.Errorf("UnstoppedServiceReport() = %v, %v", report, err)
	}
}

func TestSupervisorTreeFailureIsolation(t *testing.T) {
	tree, _ := NewSupervisorTree(testLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	failingHub := newStubService("websocket-hub").crashFirst(2)
	httpSvc := newStubService("http-server")

	tree.AddMessagingService(failingHub)
	tree.AddAPIService(httpSvc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	waitFor(t, "hub restarts", func() bool { return failingHub.Runs() >= 3 })

	// The API layer is never restarted by a messaging failure.
	if httpSvc.Runs() != 1 {
		t.Errorf("http-server started %d times, want 1", httpSvc.Runs())
	}

	cancel()
	<-errCh
}

// TestSupervisorTree_RealServices runs the sweeper and outbox the way
// cmd/server does and checks that both do work while supervised.
func TestSupervisorTree_RealServices(t *testing.T) {
	start := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	fc := clock.NewFake(start)

	l := ledger.New(ledger.Config{Location: time.UTC, HourlyRetention: time.Hour, DailyRetention: 24 * time.Hour})
	defer func() { _ = l.Close() }()
	l.RecordEmployeeScan("emp-1", "cust-1", start)

	sweeper := ledger.NewSweeper(l, fc, time.Minute)
	outbox := alerting.NewOutbox(alerting.OutboxConfig{QueueSize: 4, Workers: 1, Timeout: time.Second})

	tree, _ := NewSupervisorTree(testLogger(), TreeConfig{ShutdownTimeout: time.Second})
	tree.AddLayers(Layers{
		Data:      []suture.Service{sweeper},
		Messaging: []suture.Service{outbox},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	done := make(chan struct{})
	if !outbox.Enqueue(alerting.Task{Channel: "test", Run: func(context.Context) error {
		close(done)
		return nil
	}}) {
		t.Fatal("Enqueue() rejected the task")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervised outbox never ran the task")
	}

	// Wait for the sweeper to register its ticker, then move past every
	// retention window so the pass evicts the employee.
	waitFor(t, "sweeper ticker", func() bool { return fc.Tickers() >= 1 })
	fc.Advance(48 * time.Hour)
	waitFor(t, "sweep", func() bool { return l.Stats().Employees == 0 })

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down in time")
	}
}
