// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

/*
Package notify provides the outbound notification sinks used by the alert
dispatcher.

Email senders (alerting.EmailSink):

  - SMTPSender: plain SMTP with optional STARTTLS and PLAIN auth
  - APIEmailSender: HTTP email API (POST {base}/emails) with bearer token,
    paced by a token bucket so bursts of alerts stay under the provider limit

Realtime publishers (alerting.RealtimeSink):

  - WatermillPublisher: serializes events onto a watermill publisher, one
    topic per audience ({prefix}.admin, {prefix}.employee, {prefix}.customer).
    The default transport is the in-process gochannel pub/sub (NewGoChannel);
    cmd/server built with the nats tag connects it to a NATS server instead.
  - MultiRealtime: fans one event out to several sinks concurrently. A sink
    that fails or hangs does not prevent delivery to the others.

NewEmailSink and NewRealtime assemble the configured sinks. Every sink is called from an
outbox worker with a deadline already on the context, so none of them run
on the scan path.
*/
package notify
