// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package notify

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/scanguard/internal/alerting"
)

// fakeSMTPServer speaks just enough SMTP for net/smtp: no extensions, no
// auth. It records the envelope and the DATA payload of each session.
type fakeSMTPServer struct {
	ln net.Listener

	mu    sync.Mutex
	from  string
	rcpts []string
	data  string
}

func newFakeSMTPServer(t *testing.T) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeSMTPServer{ln: ln}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeSMTPServer) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(s.ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	p, _ := strconv.Atoi(port)
	return host, p
}

func (s *fakeSMTPServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTPServer) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)
	write := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	write("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			write("250 fake")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			s.mu.Lock()
			s.from = strings.Trim(line[len("MAIL FROM:"):], "<>")
			s.mu.Unlock()
			write("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			s.mu.Lock()
			s.rcpts = append(s.rcpts, strings.Trim(line[len("RCPT TO:"):], "<>"))
			s.mu.Unlock()
			write("250 OK")
		case cmd == "DATA":
			write("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.data = b.String()
			s.mu.Unlock()
			write("250 queued")
		case cmd == "QUIT":
			write("221 bye")
			return
		default:
			write("250 OK")
		}
	}
}

func (s *fakeSMTPServer) snapshot() (string, []string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.from, append([]string(nil), s.rcpts...), s.data
}

func TestSMTPSender_Send(t *testing.T) {
	t.Parallel()

	server := newFakeSMTPServer(t)
	host, port := server.hostPort(t)
	sender := NewSMTPSender(SMTPConfig{Host: host, Port: port, From: "alerts@scanguard.example"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sender.Send(ctx, alerting.Email{
		To:           []string{"ops@example.com", "not-an-address", "senior@example.com"},
		Subject:      "[ScanGuard] CRITICAL repeated_scans",
		Body:         "line one\nline two",
		RecipientSet: alerting.RecipientsOperationsSenior,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	from, rcpts, data := server.snapshot()
	if from != "alerts@scanguard.example" {
		t.Errorf("MAIL FROM = %q", from)
	}
	if len(rcpts) != 2 || rcpts[0] != "ops@example.com" || rcpts[1] != "senior@example.com" {
		t.Errorf("RCPT TO = %v", rcpts)
	}
	for _, want := range []string{
		"Subject: [ScanGuard] CRITICAL repeated_scans\r\n",
		"To: ops@example.com, senior@example.com\r\n",
		"X-ScanGuard-Recipients: operations+senior\r\n",
		"line one\r\nline two",
	} {
		if !strings.Contains(data, want) {
			t.Errorf("DATA missing %q:\n%s", want, data)
		}
	}
}

func TestSMTPSender_NoValidRecipients(t *testing.T) {
	t.Parallel()

	sender := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1})
	err := sender.Send(context.Background(), alerting.Email{To: []string{"", "nope"}})
	if !errors.Is(err, ErrNoRecipients) {
		t.Errorf("Send() error = %v, want ErrNoRecipients", err)
	}
}

func TestSMTPSender_ConnectFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	_ = ln.Close()

	sender := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: addr.Port, DialTimeout: time.Second})
	err = sender.Send(context.Background(), alerting.Email{To: []string{"ops@example.com"}})
	if err == nil || !strings.Contains(err.Error(), "connect") {
		t.Errorf("Send() error = %v, want connect failure", err)
	}
}
