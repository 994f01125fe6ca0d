// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package alerting

import (
	"context"
	"fmt"
	"time"
)

// Realtime event names.
const (
	EventAdminAbuseAlert      = "admin_abuse_alert"
	EventAbuseDetected        = "abuse_detected"
	EventAdminEscalationAlert = "admin_escalation_alert"
	EventCustomerScanLimit    = "customer_scan_limit"
	EventCustomerScanWarning  = "customer_scan_warning"
)

// Audiences for realtime events.
const (
	AudienceAdmin    = "admin"
	AudienceEmployee = "employee"
	AudienceCustomer = "customer"
)

// Delivery channel names used in logs, metrics and DeliveryError.
const (
	ChannelStore    = "store"
	ChannelRealtime = "realtime"
	ChannelEmail    = "email"
)

// Event is one realtime notification.
type Event struct {
	Name     string `json:"event"`
	Audience string `json:"audience"`
	// Target is the employee or customer the event is addressed to.
	Target    string      `json:"target,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Email is a fully rendered message.
type Email struct {
	To           []string
	Subject      string
	Body         string
	RecipientSet RecipientSet
}

// RealtimeSink publishes events without waiting for consumers.
type RealtimeSink interface {
	Publish(ctx context.Context, event Event) error
}

// EmailSink sends a rendered email.
type EmailSink interface {
	Send(ctx context.Context, msg Email) error
}

// DeliveryError is a failed store write or notification send. It is logged
// and counted, never returned to the scan caller.
type DeliveryError struct {
	Channel string
	AlertID string
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.AlertID == "" {
		return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
	}
	return fmt.Sprintf("%s delivery failed for alert %s: %v", e.Channel, e.AlertID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
