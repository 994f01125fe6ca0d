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

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/logging"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "scanguard"

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// WatermillPublisher puts realtime events on a watermill topic per audience.
type WatermillPublisher struct {
	publisher message.Publisher
	prefix    string

	mu     sync.RWMutex
	closed bool
}

// NewWatermillPublisher wraps an existing watermill publisher.
func NewWatermillPublisher(pub message.Publisher, topicPrefix string) *WatermillPublisher {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &WatermillPublisher{publisher: pub, prefix: topicPrefix}
}

// NewGoChannel creates the in-process pub/sub used when no external broker
// is configured. Subscribers attached to it see every event published
// through a WatermillPublisher built on it.
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	if logger == nil {
		logger = NewWatermillLogger()
	}
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
}

// NewWatermillLogger adapts the global logger for watermill.
func NewWatermillLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}

// Topic returns the topic for an audience.
func (p *WatermillPublisher) Topic(audience string) string {
	if audience == "" {
		audience = alerting.AudienceAdmin
	}
	return p.prefix + "." + audience
}

// Publish serializes event and publishes it with audience metadata.
func (p *WatermillPublisher) Publish(ctx context.Context, event alerting.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	msg.Metadata.Set("event", event.Name)
	msg.Metadata.Set("audience", event.Audience)
	if event.Target != "" {
		msg.Metadata.Set("target", event.Target)
	}
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set("correlation_id", id)
	}

	if err := p.publisher.Publish(p.Topic(event.Audience), msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Name, err)
	}
	return nil
}

// Close closes the underlying publisher once.
func (p *WatermillPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// DecodeEvent parses a message published by WatermillPublisher.
func DecodeEvent(msg *message.Message) (alerting.Event, error) {
	var event alerting.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return event, fmt.Errorf("decode event %s: %w", msg.UUID, err)
	}
	return event, nil
}
