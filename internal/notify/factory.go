// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package notify

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/config"
	"github.com/tomtom215/scanguard/internal/logging"
)

// NewEmailSink builds the configured email sender. Provider "none" returns
// a nil sink, which the dispatcher treats as email disabled.
func NewEmailSink(cfg config.EmailConfig, timeout time.Duration) (alerting.EmailSink, error) {
	switch cfg.Provider {
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("notify.email.smtp_host is required for the smtp provider")
		}
		logging.Info().Str("host", cfg.SMTPHost).Int("port", cfg.SMTPPort).Bool("tls", cfg.SMTPUseTLS).Msg("email sink: smtp")
		return NewSMTPSender(SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			From:        cfg.From,
			UseTLS:      cfg.SMTPUseTLS,
			DialTimeout: timeout,
		}), nil
	case "api":
		if cfg.APIURL == "" {
			return nil, fmt.Errorf("notify.email.api_url is required for the api provider")
		}
		logging.Info().Str("url", cfg.APIURL).Float64("rate_limit", cfg.APIRateLimit).Msg("email sink: api")
		return NewAPIEmailSender(APIEmailConfig{
			BaseURL:   cfg.APIURL,
			APIKey:    cfg.APIKey,
			From:      cfg.From,
			RateLimit: cfg.APIRateLimit,
			Timeout:   timeout,
		}), nil
	case "none", "":
		logging.Info().Msg("email sink disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// NewRealtime combines the websocket hub and the message bus according to
// cfg. Either may be nil. The returned publisher is nil when the bus is
// disabled; the caller owns closing it.
func NewRealtime(cfg config.RealtimeConfig, hub alerting.RealtimeSink, bus message.Publisher) (*MultiRealtime, *WatermillPublisher) {
	var sinks []NamedSink
	if cfg.WebSocketEnabled && hub != nil {
		sinks = append(sinks, NamedSink{Name: "websocket", Sink: hub})
	}

	var pub *WatermillPublisher
	if cfg.BusEnabled && bus != nil {
		pub = NewWatermillPublisher(bus, cfg.TopicPrefix)
		sinks = append(sinks, NamedSink{Name: "bus", Sink: pub})
	}

	logging.Info().
		Bool("websocket", cfg.WebSocketEnabled && hub != nil).
		Bool("bus", pub != nil).
		Msg("realtime sinks configured")
	return NewMultiRealtime(sinks...), pub
}
