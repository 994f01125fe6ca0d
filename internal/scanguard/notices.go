// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package scanguard

import (
	"fmt"

	"github.com/tomtom215/scanguard/internal/quota"
)

// LimitNotice is the payload of a customer_scan_limit event.
type LimitNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Current int    `json:"current"`
	Max     int    `json:"max"`
}

// WarningNotice is the payload of a customer_scan_warning event.
type WarningNotice struct {
	Dimension string `json:"dimension"`
	Message   string `json:"message"`
	Current   int    `json:"current"`
	Max       int    `json:"max"`
	Remaining int    `json:"remaining"`
}

func limitNotice(qe *quota.QuotaError) LimitNotice {
	return LimitNotice{
		Code:    qe.Code(),
		Message: qe.Error(),
		Current: qe.Current,
		Max:     qe.Limit,
	}
}

func warningNotice(w quota.Warning) WarningNotice {
	remaining := w.Limit - w.Current
	return WarningNotice{
		Dimension: w.Dimension,
		Message:   fmt.Sprintf("You have used %d of %d daily %s; %d left today.", w.Current, w.Limit, w.Dimension, remaining),
		Current:   w.Current,
		Max:       w.Limit,
		Remaining: remaining,
	}
}
