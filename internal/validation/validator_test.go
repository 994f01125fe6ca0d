// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package validation

import (
	"strings"
	"testing"
)

type scanBody struct {
	CustomerID string `json:"customer_id" validate:"required,identity"`
	Points     int    `json:"points" validate:"gte=0,lte=1000"`
}

type employeeSection struct {
	MaxPerHour int `koanf:"max_scans_per_hour" validate:"gte=0"`
}

type nested struct {
	Employee employeeSection `koanf:"employee"`
}

func TestGetValidator_Singleton(t *testing.T) {
	t.Parallel()

	if GetValidator() != GetValidator() {
		t.Error("GetValidator should return the same instance")
	}
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      scanBody
		wantField string
		wantTag   string
	}{
		{"valid", scanBody{CustomerID: "cust-42", Points: 1}, "", ""},
		{"missing customer", scanBody{Points: 1}, "customer_id", "required"},
		{"bad identifier", scanBody{CustomerID: "has space"}, "customer_id", "identity"},
		{"negative points", scanBody{CustomerID: "c1", Points: -1}, "points", "gte"},
		{"too many points", scanBody{CustomerID: "c1", Points: 5000}, "points", "lte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateStruct(&tt.body)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			first := err.First()
			if first.Field != tt.wantField || first.Tag != tt.wantTag {
				t.Errorf("got %s/%s, want %s/%s", first.Field, first.Tag, tt.wantField, tt.wantTag)
			}
		})
	}
}

func TestValidateStruct_KoanfNamespace(t *testing.T) {
	t.Parallel()

	n := nested{Employee: employeeSection{MaxPerHour: -3}}

	err := ValidateStruct(&n)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.First().Field; got != "employee.max_scans_per_hour" {
		t.Errorf("Field = %q", got)
	}
	if !strings.Contains(err.Error(), "greater than or equal to 0") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestIsIdentity(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"emp-1", "c_2", "user@store.example", "a:b.c"} {
		if !IsIdentity(ok) {
			t.Errorf("IsIdentity(%q) = false", ok)
		}
	}
	for _, bad := range []string{"", "-leading", "with space", strings.Repeat("x", 200)} {
		if IsIdentity(bad) {
			t.Errorf("IsIdentity(%q) = true", bad)
		}
	}
}

func TestErrors_Empty(t *testing.T) {
	t.Parallel()

	e := &Errors{}
	if e.Error() != "validation failed" {
		t.Errorf("Error() = %q", e.Error())
	}
	if e.First().Tag != "unknown" {
		t.Errorf("First().Tag = %q", e.First().Tag)
	}
}
