// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package alerting

import (
	"context"
	"time"

	"github.com/tomtom215/scanguard/internal/detection"
	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/metrics"
)

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Store      AlertStore
	Realtime   RealtimeSink
	Email      EmailSink
	Outbox     *Outbox
	Recipients RecipientSelector
	Escalation *EscalationTracker

	// StoreTimeout bounds SaveAlert.
	StoreTimeout time.Duration
}

// Dispatcher turns detections into alerts, persists them, and queues their
// realtime and email notifications on the outbox. Nothing it does can fail
// the caller.
type Dispatcher struct {
	store        AlertStore
	realtime     RealtimeSink
	email        EmailSink
	outbox       *Outbox
	recipients   RecipientSelector
	escalation   *EscalationTracker
	storeTimeout time.Duration
}

// NewDispatcher creates a dispatcher. Nil sinks are skipped; a nil outbox
// gets a default one, which must then be served through Outbox().
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Outbox == nil {
		cfg.Outbox = NewOutbox(DefaultOutboxConfig())
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Dispatcher{
		store:        cfg.Store,
		realtime:     cfg.Realtime,
		email:        cfg.Email,
		outbox:       cfg.Outbox,
		recipients:   cfg.Recipients,
		escalation:   cfg.Escalation,
		storeTimeout: cfg.StoreTimeout,
	}
}

// Outbox returns the outbox notifications are queued on.
func (d *Dispatcher) Outbox() *Outbox {
	return d.outbox
}

// Escalation returns the escalation tracker, or nil.
func (d *Dispatcher) Escalation() *EscalationTracker {
	return d.escalation
}

// Raise builds an alert for one detection, persists it and queues its
// notifications. If the employee has crossed the escalation threshold an
// escalation alert is raised as well and returned after the ordinary one.
func (d *Dispatcher) Raise(ctx context.Context, employeeID, customerID string, det detection.Detection, now time.Time) []AbuseAlert {
	alert := NewAbuseAlert(employeeID, customerID, det, now)
	d.deliver(ctx, alert)
	raised := []AbuseAlert{*alert}

	if d.escalation == nil {
		return raised
	}
	violations, escalate := d.escalation.Observe(ctx, employeeID, now)
	if !escalate {
		return raised
	}

	esc := NewEscalationAlert(employeeID, violations, d.escalation.Window(), now)
	metrics.Escalations.Inc()
	logging.Ctx(ctx).Warn().
		Str("alert_id", esc.ID).
		Str("employee_id", employeeID).
		Int("violations", violations).
		Msg("employee escalated")
	d.deliver(ctx, esc)
	return append(raised, *esc)
}

// deliver persists the alert, then queues its realtime and email sends.
// A failed store write is logged and the alert is still announced.
func (d *Dispatcher) deliver(ctx context.Context, alert *AbuseAlert) {
	metrics.AlertsRaised.WithLabelValues(string(alert.AbuseType)).Inc()
	d.persist(ctx, alert)

	logging.Ctx(ctx).Info().
		Str("alert_id", alert.ID).
		Str("employee_id", alert.EmployeeID).
		Str("customer_id", alert.CustomerID).
		Str("abuse_type", string(alert.AbuseType)).
		Str("severity", string(alert.Severity)).
		Msg("abuse alert raised")

	d.queueRealtime(alert)
	d.queueEmail(alert)
}

func (d *Dispatcher) persist(ctx context.Context, alert *AbuseAlert) {
	if d.store == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()

	id, err := d.store.SaveAlert(storeCtx, alert)
	if err != nil {
		metrics.AlertPersistFailures.Inc()
		metrics.RecordDelivery(ChannelStore, err, storeCtx.Err() != nil)
		logging.Ctx(ctx).Error().
			Err(&DeliveryError{Channel: ChannelStore, AlertID: alert.ID, Err: err}).
			Str("employee_id", alert.EmployeeID).
			Msg("failed to persist alert")
		return
	}
	metrics.RecordDelivery(ChannelStore, nil, false)
	if id != "" {
		alert.ID = id
	}
}

func (d *Dispatcher) queueRealtime(alert *AbuseAlert) {
	if d.realtime == nil {
		return
	}

	var events []Event
	if alert.IsEscalation() {
		events = []Event{{Name: EventAdminEscalationAlert, Audience: AudienceAdmin, Data: *alert, Timestamp: alert.Timestamp}}
	} else {
		events = []Event{
			{Name: EventAdminAbuseAlert, Audience: AudienceAdmin, Data: *alert, Timestamp: alert.Timestamp},
			{Name: EventAbuseDetected, Audience: AudienceEmployee, Target: alert.EmployeeID, Data: abuseNotice(alert), Timestamp: alert.Timestamp},
		}
	}

	sink := d.realtime
	for _, ev := range events {
		ev := ev
		d.outbox.Enqueue(Task{
			Channel:    ChannelRealtime,
			AlertID:    alert.ID,
			EmployeeID: alert.EmployeeID,
			Run:        func(ctx context.Context) error { return sink.Publish(ctx, ev) },
		})
	}
}

func (d *Dispatcher) queueEmail(alert *AbuseAlert) {
	if d.email == nil {
		return
	}
	to := d.recipients.Select(alert)
	if len(to) == 0 {
		logging.Debug().Str("alert_id", alert.ID).Msg("no email recipients configured for alert")
		return
	}
	subject, body, err := RenderEmail(alert)
	if err != nil {
		logging.Error().Err(&DeliveryError{Channel: ChannelEmail, AlertID: alert.ID, Err: err}).Msg("failed to render alert email")
		return
	}

	msg := Email{To: to, Subject: subject, Body: body, RecipientSet: d.recipients.Set(alert)}
	sink := d.email
	d.outbox.Enqueue(Task{
		Channel:    ChannelEmail,
		AlertID:    alert.ID,
		EmployeeID: alert.EmployeeID,
		Run:        func(ctx context.Context) error { return sink.Send(ctx, msg) },
	})
}

// Notice is the reduced alert sent to the employee's own session.
type Notice struct {
	AlertID   string              `json:"alert_id"`
	AbuseType detection.AbuseType `json:"abuse_type"`
	Severity  detection.Severity  `json:"severity"`
	Message   string              `json:"message"`
}

func abuseNotice(alert *AbuseAlert) Notice {
	return Notice{
		AlertID:   alert.ID,
		AbuseType: alert.AbuseType,
		Severity:  alert.Severity,
		Message:   "Unusual scanning activity was detected on your account and reported to operations.",
	}
}

// Publish queues a realtime event that is not tied to an alert, such as a
// customer limit notice.
func (d *Dispatcher) Publish(event Event) {
	if d.realtime == nil {
		return
	}
	sink := d.realtime
	d.outbox.Enqueue(Task{
		Channel: ChannelRealtime,
		Run:     func(ctx context.Context) error { return sink.Publish(ctx, event) },
	})
}
