// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/scanguard/internal/alerting"
)

// NamedSink labels a realtime sink for error reporting.
type NamedSink struct {
	Name string
	Sink alerting.RealtimeSink
}

// MultiRealtime publishes each event to every sink concurrently and waits
// for all of them or the context, whichever comes first.
type MultiRealtime struct {
	sinks []NamedSink
}

// NewMultiRealtime combines sinks. Nil sinks are ignored.
func NewMultiRealtime(sinks ...NamedSink) *MultiRealtime {
	m := &MultiRealtime{}
	for _, s := range sinks {
		if s.Sink != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *MultiRealtime) Len() int {
	return len(m.sinks)
}

// Publish returns the joined errors of the sinks that failed. A sink still
// running when ctx ends is reported as ctx.Err() and left to finish alone.
func (m *MultiRealtime) Publish(ctx context.Context, event alerting.Event) error {
	switch len(m.sinks) {
	case 0:
		return nil
	case 1:
		if err := m.sinks[0].Sink.Publish(ctx, event); err != nil {
			return fmt.Errorf("%s: %w", m.sinks[0].Name, err)
		}
		return nil
	}

	errs := make([]error, len(m.sinks))
	var wg sync.WaitGroup
	for i, s := range m.sinks {
		wg.Add(1)
		go func(i int, s NamedSink) {
			defer wg.Done()
			if err := s.Sink.Publish(ctx, event); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name, err)
			}
		}(i, s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return errors.Join(errs...)
	case <-ctx.Done():
		return fmt.Errorf("realtime fan-out: %w", ctx.Err())
	}
}
