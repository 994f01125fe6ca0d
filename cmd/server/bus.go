// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package main

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/scanguard/internal/config"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/notify"
)

// messageBus is the pub/sub pair realtime events travel over. With the
// in-process channel both halves are the same object.
type messageBus struct {
	kind string
	pub  message.Publisher
	sub  message.Subscriber
}

// publisher returns nil for a nil bus so callers can pass it straight on.
func (b *messageBus) publisher() message.Publisher {
	if b == nil {
		return nil
	}
	return b.pub
}

// Close closes both halves once each.
func (b *messageBus) Close() error {
	if b == nil {
		return nil
	}
	if any(b.pub) == any(b.sub) {
		return b.pub.Close()
	}
	return errors.Join(b.sub.Close(), b.pub.Close())
}

// initBus selects the bus backend: NATS when nats.enabled is set (and the
// binary was built with -tags nats), otherwise the in-process gochannel.
func initBus(cfg *config.Config) (*messageBus, error) {
	if cfg.NATS.Enabled {
		bus, err := initNATSBus(cfg)
		if err != nil || bus != nil {
			return bus, err
		}
	}

	ch := notify.NewGoChannel(notify.NewWatermillLogger())
	logging.Info().Str("topic_prefix", cfg.Notify.Realtime.TopicPrefix).Msg("Realtime bus: in-process gochannel")
	return &messageBus{kind: "gochannel", pub: ch, sub: ch}, nil
}
