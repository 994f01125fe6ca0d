// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package alerting

import (
	"strings"

	"github.com/tomtom215/scanguard/internal/config"
	"github.com/tomtom215/scanguard/internal/detection"
)

// RecipientSet names which configured lists an email went to.
type RecipientSet string

const (
	RecipientsOperations       RecipientSet = "operations"
	RecipientsOperationsSenior RecipientSet = "operations+senior"
	RecipientsSenior           RecipientSet = "senior"
)

// RecipientSelector routes alerts to email addresses.
//
//	ordinary alert        -> operations
//	CRITICAL alert        -> operations + senior
//	escalation (any sev.) -> senior
type RecipientSelector struct {
	Operations []string
	Senior     []string
}

// RecipientSelectorFromConfig copies the configured lists.
func RecipientSelectorFromConfig(cfg config.RecipientsConfig) RecipientSelector {
	return RecipientSelector{
		Operations: append([]string(nil), cfg.Operations...),
		Senior:     append([]string(nil), cfg.Senior...),
	}
}

// Set returns which recipient set an alert routes to.
func (s RecipientSelector) Set(alert *AbuseAlert) RecipientSet {
	switch {
	case alert.IsEscalation():
		return RecipientsSenior
	case alert.Severity == detection.SeverityCritical:
		return RecipientsOperationsSenior
	default:
		return RecipientsOperations
	}
}

// Select returns the de-duplicated addresses for an alert.
func (s RecipientSelector) Select(alert *AbuseAlert) []string {
	switch s.Set(alert) {
	case RecipientsSenior:
		return dedupe(s.Senior)
	case RecipientsOperationsSenior:
		return dedupe(s.Operations, s.Senior)
	default:
		return dedupe(s.Operations)
	}
}

func dedupe(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, addr := range list {
			key := strings.ToLower(strings.TrimSpace(addr))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, strings.TrimSpace(addr))
		}
	}
	return out
}
