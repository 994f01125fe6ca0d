// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

//go:build nats

package main

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/scanguard/internal/config"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/notify"
)

// initNATSBus connects the realtime bus to an external NATS server.
//
// Realtime events are fire-and-forget, so core NATS is used with JetStream
// disabled, and subscribers join no queue group: every instance receives
// every event and pushes it to its own websocket clients.
func initNATSBus(cfg *config.Config) (*messageBus, error) {
	logger := notify.NewWatermillLogger()
	opts := natsOptions(logger)

	pub, err := wmNats.NewPublisher(natsPublisherConfig(cfg.NATS.URL, opts), logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(natsSubscriberConfig(cfg.NATS.URL, opts), logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	logging.Info().
		Str("url", cfg.NATS.URL).
		Str("topic_prefix", cfg.Notify.Realtime.TopicPrefix).
		Msg("Realtime bus: NATS")
	return &messageBus{kind: "nats", pub: pub, sub: sub}, nil
}

func natsOptions(logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}
}

func natsPublisherConfig(url string, opts []natsgo.Option) wmNats.PublisherConfig {
	return wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: opts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}
}

func natsSubscriberConfig(url string, opts []natsgo.Option) wmNats.SubscriberConfig {
	return wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: "",
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     5 * time.Second,
		NatsOptions:      opts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}
}
