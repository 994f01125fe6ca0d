// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/validation"
)

// ErrNoRecipients is returned when an email has no valid recipient.
var ErrNoRecipients = errors.New("email has no valid recipients")

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	UseTLS   bool

	// DialTimeout bounds the TCP connect. The context deadline bounds the rest.
	DialTimeout time.Duration
}

// SMTPSender delivers alert emails over SMTP, one session per email with
// every recipient on the envelope.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates an SMTP email sink.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.FromName == "" {
		cfg.FromName = "ScanGuard"
	}
	return &SMTPSender{cfg: cfg}
}

// Send delivers msg to every valid address in msg.To. Invalid addresses are
// skipped; if none remain the email is not sent.
func (s *SMTPSender) Send(ctx context.Context, msg alerting.Email) error {
	to := validRecipients(msg.To)
	if len(to) == 0 {
		return ErrNoRecipients
	}
	return s.sendSMTP(ctx, to, s.buildMessage(to, msg))
}

// buildMessage constructs the plain-text message with headers.
func (s *SMTPSender) buildMessage(to []string, msg alerting.Email) string {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s <%s>\r\n", s.cfg.FromName, s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	if msg.RecipientSet != "" {
		fmt.Fprintf(&b, "X-ScanGuard-Recipients: %s\r\n", msg.RecipientSet)
	}
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return b.String()
}

// sendSMTP runs one SMTP session.
func (s *SMTPSender) sendSMTP(ctx context.Context, to []string, msg string) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }() //nolint:errcheck // Best effort cleanup

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline) //nolint:errcheck // Deadline is advisory
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }() //nolint:errcheck // Best effort cleanup

	if s.cfg.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: s.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := writer.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// The message is accepted once DATA closes; QUIT failures don't matter.
	_ = client.Quit() //nolint:errcheck // Message already delivered
	return nil
}

// validRecipients drops addresses that fail validation.
func validRecipients(addrs []string) []string {
	v := validation.GetValidator()
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" || v.Var(addr, "required,email") != nil {
			continue
		}
		out = append(out, addr)
	}
	return out
}
