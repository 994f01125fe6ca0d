// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

// Package validation wraps go-playground/validator v10 behind a thread-safe
// singleton. It validates API request bodies and the configuration tree.
//
// Field names in errors come from the json tag when present, then the koanf
// tag, so messages match what the caller actually sent.
//
//	type ScanRequest struct {
//	    CustomerID string `json:"customer_id" validate:"required,identity"`
//	    Points     int    `json:"points" validate:"gte=0,lte=1000"`
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// identityPattern accepts the opaque identifiers issued by the identity layer.
var identityPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]{0,127}$`)

// FieldError is a single failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// Error implements error.
func (e FieldError) Error() string {
	return e.Message
}

// Errors collects every failed rule for one struct.
type Errors struct {
	Fields []FieldError
}

// Error joins the individual messages.
func (ve *Errors) Error() string {
	if len(ve.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(ve.Fields))
	for i, f := range ve.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// First returns the first failed rule.
func (ve *Errors) First() FieldError {
	if len(ve.Fields) == 0 {
		return FieldError{Field: "unknown", Tag: "unknown", Message: "validation failed"}
	}
	return ve.Fields[0]
}

// GetValidator returns the singleton validator.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(fieldName)
		_ = validate.RegisterValidation("identity", func(fl validator.FieldLevel) bool {
			return identityPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "koanf"} {
		name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

// IsIdentity reports whether s is an acceptable employee or customer ID.
func IsIdentity(s string) bool {
	return identityPattern.MatchString(s)
}

// ValidateStruct validates s. It returns nil or *Errors.
func ValidateStruct(s interface{}) *Errors {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Errors{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	out := make([]FieldError, len(fieldErrs))
	for i, fe := range fieldErrs {
		out[i] = FieldError{
			Field:   namespace(fe),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: translate(fe),
		}
	}
	return &Errors{Fields: out}
}

// namespace drops the root struct name, so "Config.employee.max_scans_per_hour"
// becomes "employee.max_scans_per_hour".
func namespace(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

var simpleMessages = map[string]string{
	"required":      "%s is required",
	"identity":      "%s must be an opaque identifier (letters, digits, . _ : @ -)",
	"url":           "%s must be a valid URL",
	"email":         "%s must be a valid email address",
	"hostname_port": "%s must be host:port",
}

var paramMessages = map[string]string{
	"oneof":       "%s must be one of: %s",
	"gte":         "%s must be greater than or equal to %s",
	"lte":         "%s must be less than or equal to %s",
	"gt":          "%s must be greater than %s",
	"lt":          "%s must be less than %s",
	"min":         "%s must be at least %s",
	"max":         "%s must be at most %s",
	"required_if": "%s is required when %s",
}

func translate(fe validator.FieldError) string {
	field := namespace(fe)
	if tmpl, ok := simpleMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := paramMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
