// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package alerting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/metrics"
)

// Task is one best-effort notification send.
type Task struct {
	Channel    string
	AlertID    string
	EmployeeID string
	Run        func(ctx context.Context) error
}

// OutboxConfig sizes the outbox.
type OutboxConfig struct {
	QueueSize int
	Workers   int
	// Timeout bounds each task. A task that exceeds it is abandoned.
	Timeout time.Duration
}

// DefaultOutboxConfig returns default outbox sizing.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		QueueSize: 1024,
		Workers:   4,
		Timeout:   10 * time.Second,
	}
}

// Outbox is a bounded queue drained by a fixed worker pool. Enqueue never
// blocks: when the queue is full the task is dropped and counted. Failures
// are logged as DeliveryError and never retried.
//
// Outbox implements suture.Service; tasks enqueued before Serve starts wait
// in the queue.
type Outbox struct {
	queue   chan Task
	workers int
	timeout time.Duration

	// pending counts tasks accepted but not yet finished.
	pending atomic.Int64
}

// NewOutbox creates an outbox. Non-positive sizes fall back to defaults.
func NewOutbox(cfg OutboxConfig) *Outbox {
	def := DefaultOutboxConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Outbox{
		queue:   make(chan Task, cfg.QueueSize),
		workers: cfg.Workers,
		timeout: cfg.Timeout,
	}
}

// Enqueue queues a task and reports whether it was accepted.
func (o *Outbox) Enqueue(task Task) bool {
	o.pending.Add(1)
	select {
	case o.queue <- task:
		metrics.OutboxDepth.Set(float64(len(o.queue)))
		return true
	default:
		o.pending.Add(-1)
		metrics.OutboxDropped.WithLabelValues(task.Channel).Inc()
		logging.Warn().
			Str("channel", task.Channel).
			Str("alert_id", task.AlertID).
			Msg("notification outbox full, dropping task")
		return false
	}
}

// Len returns the number of queued tasks.
func (o *Outbox) Len() int {
	return len(o.queue)
}

// Serve runs the worker pool until ctx is cancelled. Queued tasks stay in
// the queue for the next Serve.
func (o *Outbox) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// String implements fmt.Stringer for suture logging.
func (o *Outbox) String() string {
	return "notification-outbox"
}

func (o *Outbox) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-o.queue:
			metrics.OutboxDepth.Set(float64(len(o.queue)))
			o.execute(ctx, task)
		}
	}
}

// RunPending executes queued tasks on the calling goroutine until the queue
// is empty. It is used to flush on shutdown and by tests that do not start
// the worker pool.
func (o *Outbox) RunPending(ctx context.Context) int {
	n := 0
	for {
		select {
		case task := <-o.queue:
			metrics.OutboxDepth.Set(float64(len(o.queue)))
			o.execute(ctx, task)
			n++
		default:
			return n
		}
	}
}

// Flush waits until every accepted task has finished or ctx is done.
func (o *Outbox) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for o.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (o *Outbox) execute(parent context.Context, task Task) {
	defer o.pending.Add(-1)

	ctx, cancel := context.WithTimeout(parent, o.timeout)
	defer cancel()

	err := runTask(ctx, task)
	timedOut := err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
	metrics.RecordDelivery(task.Channel, err, timedOut)
	if err == nil {
		return
	}

	level := zerolog.ErrorLevel
	if timedOut {
		level = zerolog.WarnLevel
	}
	logger := logging.Logger()
	logger.WithLevel(level).
		Err(&DeliveryError{Channel: task.Channel, AlertID: task.AlertID, Err: err}).
		Str("channel", task.Channel).
		Str("alert_id", task.AlertID).
		Str("employee_id", task.EmployeeID).
		Bool("timed_out", timedOut).
		Msg("notification delivery failed")
}

// runTask runs the send and abandons it when ctx expires first. The send
// goroutine is left to finish on its own; its result is discarded.
func runTask(ctx context.Context, task Task) (err error) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.New("notification task panicked")
			}
		}()
		done <- task.Run(ctx)
	}()

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
