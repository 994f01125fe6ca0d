// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/tomtom215/scanguard/internal/quota"
	"github.com/tomtom215/scanguard/internal/scanguard"
	"github.com/tomtom215/scanguard/internal/validation"
)

// ErrBodyTooLarge is reported for request bodies over maxBodyBytes.
var ErrBodyTooLarge = errors.New("request body too large")

// QuotaRejected writes a 429 for a quota rejection. Cooldown rejections
// also set Retry-After.
func (rw *ResponseWriter) QuotaRejected(qe *quota.QuotaError) {
	current, limit := qe.Current, qe.Limit
	apiErr := &APIError{
		Code:    qe.Code(),
		Message: qe.Error(),
		Current: &current,
		Limit:   &limit,
	}
	if qe.RetryAfter > 0 {
		secs := int(math.Ceil(qe.RetryAfter.Seconds()))
		apiErr.RetryAfterSeconds = secs
		rw.w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	rw.writeError(http.StatusTooManyRequests, apiErr)
}

// Validation writes the field failures of a request body.
func (rw *ResponseWriter) Validation(ve *validation.Errors) {
	rw.ValidationError(ve.First().Message, ve.Fields)
}

// SelfScan writes a 400 for an employee scanning their own customer account.
func (rw *ResponseWriter) SelfScan() {
	rw.Error(http.StatusBadRequest, ErrCodeSelfScan, "Employees cannot scan their own customer account")
}

// EngineError maps an error returned by the scan engine to a response.
func (rw *ResponseWriter) EngineError(err error) {
	var qe *quota.QuotaError
	switch {
	case errors.As(err, &qe):
		rw.QuotaRejected(qe)
	case errors.Is(err, scanguard.ErrMissingIdentity):
		rw.BadRequest(err.Error())
	default:
		rw.InternalError("Scan could not be processed")
	}
}
