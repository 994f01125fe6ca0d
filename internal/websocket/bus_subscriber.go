// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package websocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/metrics"
	"github.com/tomtom215/scanguard/internal/notify"
)

// BusSubscriber feeds the hub from the message bus instead of from the
// dispatcher directly. With a shared broker (NATS) every instance's
// websocket clients then see alerts raised on any instance.
type BusSubscriber struct {
	hub        *Hub
	subscriber message.Subscriber
	topics     []string
}

// NewBusSubscriber subscribes hub to the per-audience topics under prefix.
func NewBusSubscriber(hub *Hub, subscriber message.Subscriber, topicPrefix string) *BusSubscriber {
	if topicPrefix == "" {
		topicPrefix = notify.DefaultTopicPrefix
	}
	return &BusSubscriber{
		hub:        hub,
		subscriber: subscriber,
		topics: []string{
			topicPrefix + "." + alerting.AudienceAdmin,
			topicPrefix + "." + alerting.AudienceEmployee,
			topicPrefix + "." + alerting.AudienceCustomer,
		},
	}
}

// String implements fmt.Stringer for suture logging.
func (s *BusSubscriber) String() string {
	return "websocket-bus-subscriber"
}

// Serve consumes every topic until ctx is canceled. It is a suture service.
func (s *BusSubscriber) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, topic := range s.topics {
		messages, err := s.subscriber.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		wg.Add(1)
		go func(topic string, messages <-chan *message.Message) {
			defer wg.Done()
			s.processMessages(ctx, topic, messages)
		}(topic, messages)
	}

	logging.Info().Strs("topics", s.topics).Msg("bus to websocket subscriber started")
	wg.Wait()
	logging.Info().Msg("bus to websocket subscriber stopped")
	return ctx.Err()
}

func (s *BusSubscriber) processMessages(ctx context.Context, topic string, messages <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			s.handleMessage(ctx, topic, msg)
		}
	}
}

// handleMessage forwards one event. Messages are always acked: realtime
// delivery is best effort and the hub logs its own drops.
func (s *BusSubscriber) handleMessage(ctx context.Context, topic string, msg *message.Message) {
	event, err := notify.DecodeEvent(msg)
	if err != nil {
		metrics.WSErrors.WithLabelValues("bad_bus_message").Inc()
		logging.Warn().Err(err).Str("topic", topic).Msg("failed to decode bus event")
		msg.Ack()
		return
	}

	_ = s.hub.Publish(ctx, event) //nolint:errcheck // Drop already counted by the hub
	msg.Ack()
}
