// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/scanguard/config.yaml",
	"/etc/scanguard/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Employee: EmployeeConfig{
			MaxScansPerHour: 20,
			MaxScansPerDay:  100,
			CooldownSeconds: 30,
		},
		Customer: CustomerConfig{
			MaxScansPerDay:  5,
			MaxPointsPerDay: 10,
			WarningRatio:    0.8,
		},
		Abuse: AbuseConfig{
			Enabled:                 true,
			PatternDetectionEnabled: true,
			ThresholdSameCustomer:   5,
			ThresholdRapidScans:     20,
			UnusualHoursEnabled:     true,
			UnusualHoursStart:       23,
			UnusualHoursEnd:         5,
			EscalationThreshold:     3,
			EscalationWindow:        24 * time.Hour,
		},
		Ledger: LedgerConfig{
			Timezone:        "Local",
			HourlyRetention: 24 * time.Hour,
			DailyRetention:  7 * 24 * time.Hour,
			SweepInterval:   time.Hour,
		},
		Notify: NotifyConfig{
			QueueSize:    1024,
			Workers:      4,
			SendTimeout:  10 * time.Second,
			StoreTimeout: 5 * time.Second,
			Realtime: RealtimeConfig{
				WebSocketEnabled: true,
				BusEnabled:       false,
				TopicPrefix:      "scanguard",
				WebSocketViaBus:  false,
			},
			Email: EmailConfig{
				Provider:     "none",
				From:         "scanguard@localhost",
				SMTPPort:     587,
				SMTPUseTLS:   true,
				APIRateLimit: 2,
			},
		},
		AlertStore: AlertStoreConfig{
			Backend:         "badger",
			BadgerPath:      "/data/alerts",
			BadgerRetention: 90 * 24 * time.Hour,
			HTTPTimeout:     5 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Timeout:         30 * time.Second,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{},
		},
		Security: SecurityConfig{
			JWTIssuer: "",
			AdminRole:    "admin",
			EmployeeRole: "employee",
			TokenTTL:     12 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
		},
	}
}

// Load builds the configuration from defaults, file and environment, then
// validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in defaults. Tests and embedders start here.
func Default() *Config {
	return defaultConfig()
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths accept comma-separated strings from the environment.
var sliceConfigPaths = []string{
	"notify.recipients.operations",
	"notify.recipients.senior",
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps flat environment names to koanf paths. Unknown
// variables are ignored.
var envMappings = map[string]string{
	"max_scans_per_hour":          "employee.max_scans_per_hour",
	"max_scans_per_day":           "employee.max_scans_per_day",
	"scan_cooldown_seconds":       "employee.cooldown_seconds",
	"customer_max_scans_per_day":  "customer.max_scans_per_day",
	"customer_max_points_per_day": "customer.max_points_per_day",
	"customer_warning_ratio":      "customer.warning_ratio",

	"abuse_detection_enabled":       "abuse.enabled",
	"pattern_detection_enabled":     "abuse.pattern_detection_enabled",
	"abuse_threshold_same_customer": "abuse.threshold_same_customer",
	"abuse_threshold_rapid_scans":   "abuse.threshold_rapid_scans",
	"unusual_hours_enabled":         "abuse.unusual_hours_enabled",
	"unusual_hours_start":           "abuse.unusual_hours_start",
	"unusual_hours_end":             "abuse.unusual_hours_end",
	"abuse_escalation_threshold":    "abuse.escalation_threshold",
	"abuse_escalation_window":       "abuse.escalation_window",

	"ledger_timezone":                 "ledger.timezone",
	"ledger_hourly_retention":         "ledger.hourly_retention",
	"ledger_daily_retention":          "ledger.daily_retention",
	"ledger_sweep_interval":           "ledger.sweep_interval",
	"ledger_carry_points_across_days": "ledger.carry_points_across_days",

	"notify_queue_size":     "notify.queue_size",
	"notify_workers":        "notify.workers",
	"notify_send_timeout":   "notify.send_timeout",
	"notify_store_timeout":  "notify.store_timeout",
	"realtime_websocket":    "notify.realtime.websocket_enabled",
	"realtime_bus":          "notify.realtime.bus_enabled",
	"realtime_topic_prefix": "notify.realtime.topic_prefix",
	"realtime_ws_via_bus":   "notify.realtime.websocket_via_bus",
	"email_provider":        "notify.email.provider",
	"email_from":            "notify.email.from",
	"smtp_host":             "notify.email.smtp_host",
	"smtp_port":             "notify.email.smtp_port",
	"smtp_username":         "notify.email.smtp_username",
	"smtp_password":         "notify.email.smtp_password",
	"smtp_use_tls":          "notify.email.smtp_use_tls",
	"email_api_url":         "notify.email.api_url",
	"email_api_key":         "notify.email.api_key",
	"email_api_rate_limit":  "notify.email.api_rate_limit",
	"alert_recipients":      "notify.recipients.operations",
	"escalation_recipients": "notify.recipients.senior",

	"alert_store_backend":   "alert_store.backend",
	"alert_store_path":      "alert_store.badger_path",
	"alert_store_in_memory": "alert_store.badger_in_memory",
	"alert_store_retention": "alert_store.badger_retention",
	"alert_store_url":       "alert_store.http_url",
	"alert_store_token":     "alert_store.http_token",
	"alert_store_timeout":   "alert_store.http_timeout",

	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",
	"cors_origins":        "server.cors_origins",

	"jwt_secret":    "security.jwt_secret",
	"jwt_issuer":    "security.jwt_issuer",
	"admin_role":    "security.admin_role",
	"employee_role": "security.employee_role",
	"token_ttl":     "security.token_ttl",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"nats_enabled": "nats.enabled",
	"nats_url":     "nats.url",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
