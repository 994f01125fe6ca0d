// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package quota

import (
	"errors"
	"fmt"
	"time"
)

// Reason identifies which quota rule rejected a scan.
type Reason string

const (
	ReasonHourlyLimit         Reason = "HOURLY_LIMIT_EXCEEDED"
	ReasonCooldown            Reason = "COOLDOWN_ACTIVE"
	ReasonDailyLimit          Reason = "DAILY_LIMIT_EXCEEDED"
	ReasonCustomerDailyScans  Reason = "CUSTOMER_DAILY_SCAN_LIMIT_EXCEEDED"
	ReasonCustomerDailyPoints Reason = "CUSTOMER_DAILY_POINTS_LIMIT_EXCEEDED"
)

// Sentinel errors, one per reason. *QuotaError unwraps to these.
var (
	ErrHourlyLimitExceeded      = errors.New("hourly scan limit exceeded")
	ErrCooldownActive           = errors.New("scan cooldown active")
	ErrDailyLimitExceeded       = errors.New("daily scan limit exceeded")
	ErrDailyScanLimitExceeded   = errors.New("customer daily scan limit exceeded")
	ErrDailyPointsLimitExceeded = errors.New("customer daily points limit exceeded")
)

var reasonSentinels = map[Reason]error{
	ReasonHourlyLimit:         ErrHourlyLimitExceeded,
	ReasonCooldown:            ErrCooldownActive,
	ReasonDailyLimit:          ErrDailyLimitExceeded,
	ReasonCustomerDailyScans:  ErrDailyScanLimitExceeded,
	ReasonCustomerDailyPoints: ErrDailyPointsLimitExceeded,
}

// QuotaError rejects a scan attempt. Current and Limit are in the unit of the
// violated rule (scans, points, or seconds for the cooldown).
type QuotaError struct {
	Reason     Reason
	Subject    string
	Current    int
	Limit      int
	RetryAfter time.Duration
}

// Code returns the stable machine-readable reason.
func (e *QuotaError) Code() string {
	return string(e.Reason)
}

// Error returns the human-readable rejection message.
func (e *QuotaError) Error() string {
	switch e.Reason {
	case ReasonHourlyLimit:
		return fmt.Sprintf("hourly scan limit reached (%d/%d); try again later", e.Current, e.Limit)
	case ReasonCooldown:
		return fmt.Sprintf("please wait %d seconds between scans", retrySeconds(e.RetryAfter))
	case ReasonDailyLimit:
		return fmt.Sprintf("daily scan limit reached (%d/%d)", e.Current, e.Limit)
	case ReasonCustomerDailyScans:
		return fmt.Sprintf("customer has reached the daily scan limit (%d/%d)", e.Current, e.Limit)
	case ReasonCustomerDailyPoints:
		return fmt.Sprintf("customer has reached the daily points limit (%d/%d)", e.Current, e.Limit)
	default:
		return fmt.Sprintf("quota exceeded: %s", e.Reason)
	}
}

// Unwrap returns the sentinel for the reason so errors.Is works.
func (e *QuotaError) Unwrap() error {
	return reasonSentinels[e.Reason]
}

// IsCustomer reports whether the rejection came from a customer rule.
func (e *QuotaError) IsCustomer() bool {
	return e.Reason == ReasonCustomerDailyScans || e.Reason == ReasonCustomerDailyPoints
}

// retrySeconds rounds up so "wait 0 seconds" is never shown while blocked.
func retrySeconds(d time.Duration) int {
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
