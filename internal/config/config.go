// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

// Package config loads ScanGuard configuration with koanf.
//
// Loading order:
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH or the DefaultConfigPaths search list)
//  3. Environment variables, using the legacy flat names in envMappings
//
// Every threshold and window the engine uses is settable here. Load refuses
// to return a Config that fails Validate; main treats that as fatal.
package config

import (
	"time"
)

// Config is the root configuration tree.
type Config struct {
	Employee   EmployeeConfig   `koanf:"employee"`
	Customer   CustomerConfig   `koanf:"customer"`
	Abuse      AbuseConfig      `koanf:"abuse"`
	Ledger     LedgerConfig     `koanf:"ledger"`
	Notify     NotifyConfig     `koanf:"notify"`
	AlertStore AlertStoreConfig `koanf:"alert_store"`
	Server     ServerConfig     `koanf:"server"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
	NATS       NATSConfig       `koanf:"nats"`
}

// EmployeeConfig holds per-employee scan quotas. A zero limit disables that check.
type EmployeeConfig struct {
	MaxScansPerHour int `koanf:"max_scans_per_hour" validate:"gte=0"`
	MaxScansPerDay  int `koanf:"max_scans_per_day" validate:"gte=0"`
	CooldownSeconds int `koanf:"cooldown_seconds" validate:"gte=0,lte=86400"`
}

// Cooldown returns CooldownSeconds as a duration.
func (e EmployeeConfig) Cooldown() time.Duration {
	return time.Duration(e.CooldownSeconds) * time.Second
}

// CustomerConfig holds per-customer daily quotas.
type CustomerConfig struct {
	MaxScansPerDay  int `koanf:"max_scans_per_day" validate:"gte=0"`
	MaxPointsPerDay int `koanf:"max_points_per_day" validate:"gte=0"`

	// WarningRatio is the fraction of a limit at which a warning is sent.
	WarningRatio float64 `koanf:"warning_ratio" validate:"gt=0,lt=1"`
}

// AbuseConfig controls pattern detection and escalation.
type AbuseConfig struct {
	// Enabled gates quota enforcement. When false every check passes.
	Enabled bool `koanf:"enabled"`

	PatternDetectionEnabled bool `koanf:"pattern_detection_enabled"`
	ThresholdSameCustomer   int  `koanf:"threshold_same_customer" validate:"gte=1"`
	ThresholdRapidScans     int  `koanf:"threshold_rapid_scans" validate:"gte=1"`

	UnusualHoursEnabled bool `koanf:"unusual_hours_enabled"`
	UnusualHoursStart   int  `koanf:"unusual_hours_start" validate:"gte=0,lte=23"`
	UnusualHoursEnd     int  `koanf:"unusual_hours_end" validate:"gte=0,lte=23"`

	EscalationThreshold int           `koanf:"escalation_threshold" validate:"gte=1"`
	EscalationWindow    time.Duration `koanf:"escalation_window"`
}

// LedgerConfig holds retention and calendar settings for the scan ledger.
type LedgerConfig struct {
	// Timezone is an IANA name; "Local" uses the host zone.
	Timezone        string        `koanf:"timezone"`
	HourlyRetention time.Duration `koanf:"hourly_retention"`
	DailyRetention  time.Duration `koanf:"daily_retention"`
	SweepInterval   time.Duration `koanf:"sweep_interval"`

	// CarryPointsAcrossDays keeps the customer points total running across
	// calendar days instead of resetting at midnight.
	CarryPointsAcrossDays bool `koanf:"carry_points_across_days"`
}

// Location resolves Timezone. Validate guarantees it parses.
func (l LedgerConfig) Location() *time.Location {
	if l.Timezone == "" || l.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// NotifyConfig controls the asynchronous notification outbox.
type NotifyConfig struct {
	QueueSize    int           `koanf:"queue_size" validate:"gte=1"`
	Workers      int           `koanf:"workers" validate:"gte=1,lte=64"`
	SendTimeout  time.Duration `koanf:"send_timeout"`
	StoreTimeout time.Duration `koanf:"store_timeout"`

	Realtime   RealtimeConfig   `koanf:"realtime"`
	Email      EmailConfig      `koanf:"email"`
	Recipients RecipientsConfig `koanf:"recipients"`
}

// RealtimeConfig selects the realtime sinks.
type RealtimeConfig struct {
	WebSocketEnabled bool   `koanf:"websocket_enabled"`
	BusEnabled       bool   `koanf:"bus_enabled"`
	TopicPrefix      string `koanf:"topic_prefix"`

	// WebSocketViaBus feeds the websocket hub from the bus topics instead of
	// from the dispatcher. Requires bus_enabled; use it with a shared broker.
	WebSocketViaBus bool `koanf:"websocket_via_bus"`
}

// EmailConfig selects and configures the email sink.
type EmailConfig struct {
	// Provider is "smtp", "api" or "none".
	Provider string `koanf:"provider" validate:"oneof=smtp api none"`
	From     string `koanf:"from"`

	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port" validate:"gte=0,lte=65535"`
	SMTPUsername string `koanf:"smtp_username"`
	SMTPPassword string `koanf:"smtp_password"`
	SMTPUseTLS   bool   `koanf:"smtp_use_tls"`

	APIURL       string  `koanf:"api_url"`
	APIKey       string  `koanf:"api_key"`
	APIRateLimit float64 `koanf:"api_rate_limit" validate:"gte=0"`
}

// RecipientsConfig holds the operations and senior recipient sets.
type RecipientsConfig struct {
	Operations []string `koanf:"operations"`
	Senior     []string `koanf:"senior"`
}

// AlertStoreConfig selects the alert store backend.
type AlertStoreConfig struct {
	// Backend is "badger" or "http".
	Backend string `koanf:"backend" validate:"oneof=badger http"`

	BadgerPath     string `koanf:"badger_path"`
	BadgerInMemory bool   `koanf:"badger_in_memory"`

	// BadgerRetention expires stored alerts; zero keeps them forever.
	BadgerRetention time.Duration `koanf:"badger_retention" validate:"gte=0"`

	HTTPURL     string        `koanf:"http_url"`
	HTTPToken   string        `koanf:"http_token"`
	HTTPTimeout time.Duration `koanf:"http_timeout"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// SecurityConfig holds the identity token settings.
type SecurityConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	JWTIssuer string `koanf:"jwt_issuer"`
	AdminRole string `koanf:"admin_role"`

	// EmployeeRole is the role claim of terminal tokens allowed to record
	// scans. Admin tokens may record scans as well.
	EmployeeRole string `koanf:"employee_role"`

	// TokenTTL is the lifetime of tokens issued by this service.
	TokenTTL time.Duration `koanf:"token_ttl"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// NATSConfig configures the NATS-backed realtime publisher (nats build tag).
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}
