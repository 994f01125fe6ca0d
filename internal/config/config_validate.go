// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/scanguard/internal/logging"
	"github.com/tomtom215/scanguard/internal/validation"
)

// minJWTSecretLength matches the HS256 key size.
const minJWTSecretLength = 32

// ConfigurationError reports a missing or invalid setting. The engine must
// not start while one is outstanding.
type ConfigurationError struct {
	Field   string
	Problem string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Problem)
}

func configErr(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Problem: fmt.Sprintf(format, args...)}
}

// Validate checks struct tags first, then the cross-field rules.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		first := verr.First()
		return &ConfigurationError{Field: first.Field, Problem: strings.TrimPrefix(first.Message, first.Field+" ")}
	}

	checks := []func() error{
		c.validateLedger,
		c.validateAbuse,
		c.validateNotify,
		c.validateAlertStore,
		c.validateSecurity,
		c.validateLogging,
		c.validateNATS,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLedger() error {
	if c.Ledger.Timezone != "" && c.Ledger.Timezone != "Local" {
		if _, err := time.LoadLocation(c.Ledger.Timezone); err != nil {
			return configErr("ledger.timezone", "is not a known IANA zone: %v", err)
		}
	}
	if c.Ledger.HourlyRetention < time.Hour {
		return configErr("ledger.hourly_retention", "must be at least 1h")
	}
	if c.Ledger.DailyRetention < 24*time.Hour {
		return configErr("ledger.daily_retention", "must be at least 24h")
	}
	if c.Ledger.SweepInterval <= 0 {
		return configErr("ledger.sweep_interval", "must be positive")
	}
	return nil
}

func (c *Config) validateAbuse() error {
	if c.Abuse.EscalationWindow <= 0 {
		return configErr("abuse.escalation_window", "must be positive")
	}
	return nil
}

func (c *Config) validateNotify() error {
	if c.Notify.SendTimeout <= 0 {
		return configErr("notify.send_timeout", "must be positive")
	}
	if c.Notify.StoreTimeout <= 0 {
		return configErr("notify.store_timeout", "must be positive")
	}

	if c.Notify.Realtime.WebSocketViaBus && !c.Notify.Realtime.BusEnabled {
		return configErr("notify.realtime.websocket_via_bus", "requires notify.realtime.bus_enabled")
	}

	if err := validateAddresses("notify.recipients.operations", c.Notify.Recipients.Operations); err != nil {
		return err
	}
	if err := validateAddresses("notify.recipients.senior", c.Notify.Recipients.Senior); err != nil {
		return err
	}

	email := c.Notify.Email
	switch email.Provider {
	case "smtp":
		if email.SMTPHost == "" {
			return configErr("notify.email.smtp_host", "is required when provider is smtp")
		}
		if email.SMTPPort == 0 {
			return configErr("notify.email.smtp_port", "is required when provider is smtp")
		}
	case "api":
		if err := validateHTTPURL(email.APIURL, "notify.email.api_url"); err != nil {
			return err
		}
		if email.APIKey == "" {
			return configErr("notify.email.api_key", "is required when provider is api")
		}
	}
	if email.Provider != "none" {
		if _, err := mail.ParseAddress(email.From); err != nil {
			return configErr("notify.email.from", "is not a valid address: %v", err)
		}
		if len(c.Notify.Recipients.Operations) == 0 && len(c.Notify.Recipients.Senior) == 0 {
			logging.Warn().Str("provider", email.Provider).Msg("Email sink enabled but no recipients configured")
		}
	}
	return nil
}

func validateAddresses(field string, addrs []string) error {
	for _, a := range addrs {
		if _, err := mail.ParseAddress(a); err != nil {
			return configErr(field, "contains invalid address %q", a)
		}
	}
	return nil
}

func (c *Config) validateAlertStore() error {
	switch c.AlertStore.Backend {
	case "badger":
		if !c.AlertStore.BadgerInMemory && c.AlertStore.BadgerPath == "" {
			return configErr("alert_store.badger_path", "is required unless badger_in_memory is set")
		}
	case "http":
		if err := validateHTTPURL(c.AlertStore.HTTPURL, "alert_store.http_url"); err != nil {
			return err
		}
		if c.AlertStore.HTTPTimeout <= 0 {
			return configErr("alert_store.http_timeout", "must be positive")
		}
	}
	return nil
}

func (c *Config) validateSecurity() error {
	secret := c.Security.JWTSecret
	if secret == "" {
		return configErr("security.jwt_secret", "is required")
	}
	if len(secret) < minJWTSecretLength {
		return configErr("security.jwt_secret", "must be at least %d characters", minJWTSecretLength)
	}
	if containsPlaceholder(secret) {
		return configErr("security.jwt_secret", "looks like a placeholder value")
	}
	if c.Security.AdminRole == "" {
		return configErr("security.admin_role", "is required")
	}
	if c.Security.EmployeeRole == "" {
		return configErr("security.employee_role", "is required")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return configErr("logging.level", "must be one of: trace, debug, info, warn, error")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	u, err := url.Parse(c.NATS.URL)
	if err != nil {
		return configErr("nats.url", "failed to parse: %v", err)
	}
	switch u.Scheme {
	case "nats", "tls", "ws", "wss":
	default:
		return configErr("nats.url", "scheme must be nats, tls, ws, or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return configErr("nats.url", "host is required")
	}
	return nil
}

func validateHTTPURL(raw, field string) error {
	if raw == "" {
		return configErr(field, "is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return configErr(field, "failed to parse: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return configErr(field, "scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return configErr(field, "host is required")
	}
	return nil
}

var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
	"EXAMPLE",
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, p := range placeholderPatterns {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return false
}

// LogDivergences reports settings that change documented counting behaviour.
// main calls it once after Load.
func (c *Config) LogDivergences() {
	if c.Ledger.CarryPointsAcrossDays {
		logging.Warn().
			Msg("ledger.carry_points_across_days is on: customer point totals never reset at midnight and the daily points limit becomes a lifetime limit")
	}
	if !c.Abuse.Enabled {
		logging.Warn().Msg("abuse.enabled is off: quota checks accept every scan")
	}
}
