// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestGenerateCorrelationID(t *testing.T) {
	t.Parallel()

	a, b := GenerateCorrelationID(), GenerateCorrelationID()
	if len(a) != 8 {
		t.Errorf("len = %d, want 8", len(a))
	}
	if a == b {
		t.Error("expected distinct IDs")
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	if got := CorrelationIDFromContext(ctx); got != "abc12345" {
		t.Errorf("got %q", got)
	}
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context returned %q", got)
	}
}

func TestCtx_AddsCorrelationID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	ctx = ContextWithCorrelationID(ctx, "corr0001")

	Ctx(ctx).Info().Msg("dispatching")

	out := buf.String()
	if !strings.Contains(out, `"correlation_id":"corr0001"`) {
		t.Errorf("missing correlation_id in %s", out)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(NewTestLogger(&buf))
	defer SetLogger(prev)

	l := WithComponent("sweeper")
	l.Info().Msg("tick")

	if !strings.Contains(buf.String(), `"component":"sweeper"`) {
		t.Errorf("missing component in %s", buf.String())
	}
}
