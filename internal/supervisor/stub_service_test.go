// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"
)

// stubService blocks until canceled, optionally crashing on its first runs.
type stubService struct {
	name      string
	crashRuns int32
	runs      atomic.Int32
	exits     atomic.Int32
}

func newStubService(name string) *stubService {
	return &stubService{name: name}
}

// crashFirst makes the first n runs return an error immediately.
func (s *stubService) crashFirst(n int32) *stubService {
	s.crashRuns = n
	return s
}

func (s *stubService) Serve(ctx context.Context) error {
	run := s.runs.Add(1)
	defer s.exits.Add(1)
	if run <= s.crashRuns {
		return fmt.Errorf("%s: crash %d", s.name, run)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubService) Runs() int32  { return s.runs.Load() }
func (s *stubService) Exits() int32 { return s.exits.Load() }

func (s *stubService) String() string { return s.name }
