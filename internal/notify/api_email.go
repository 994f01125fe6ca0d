// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/scanguard/internal/alerting"
)

// APIEmailConfig configures APIEmailSender.
type APIEmailConfig struct {
	// BaseURL is the provider root; requests go to BaseURL + "/emails".
	BaseURL string
	APIKey  string
	From    string

	// RateLimit is the sustained sends per second; zero means unlimited.
	RateLimit float64
	Timeout   time.Duration
}

// APIEmailSender delivers alert emails through a JSON email API.
type APIEmailSender struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
	limiter  *rate.Limiter
}

type apiEmailRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	Tags    []apiEmailTag     `json:"tags,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type apiEmailTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// APIStatusError is a non-2xx response from the email API.
type APIStatusError struct {
	StatusCode int
	Body       string
}

func (e *APIStatusError) Error() string {
	return fmt.Sprintf("email API returned status %d: %s", e.StatusCode, e.Body)
}

// NewAPIEmailSender creates an HTTP email sink.
func NewAPIEmailSender(cfg APIEmailConfig) *APIEmailSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}
	return &APIEmailSender{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/emails",
		apiKey:   cfg.APIKey,
		from:     cfg.From,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Send waits for a rate-limit token, then POSTs the email. Waiting honours
// the context, so a send that can't get a token before its deadline fails.
func (s *APIEmailSender) Send(ctx context.Context, msg alerting.Email) error {
	to := validRecipients(msg.To)
	if len(to) == 0 {
		return ErrNoRecipients
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("email API rate limit: %w", err)
	}

	payload := apiEmailRequest{
		From:    s.from,
		To:      to,
		Subject: msg.Subject,
		Text:    msg.Body,
	}
	if msg.RecipientSet != "" {
		payload.Tags = []apiEmailTag{{Name: "recipients", Value: strings.ReplaceAll(string(msg.RecipientSet), "+", "_")}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("email API request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // Best effort cleanup

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // Diagnostic only
		return &APIStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse
	return nil
}
