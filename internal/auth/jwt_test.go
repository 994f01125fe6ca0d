// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/scanguard/internal/config"
)

const testSecret = "this_is_a_very_long_secret_key_for_testing_purposes_12345"

func testJWTConfig() *config.SecurityConfig {
	return &config.SecurityConfig{
		JWTSecret: testSecret,
		JWTIssuer: "loyalty",
		AdminRole: "admin",
		TokenTTL:  time.Hour,
	}
}

// signRaw signs arbitrary claims with the test secret.
func signRaw(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key interface{}) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestNewJWTManager(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.SecurityConfig
		wantErr bool
	}{
		{"valid secret", testJWTConfig(), false},
		{"empty secret", &config.SecurityConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, err := NewJWTManager(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("NewJWTManager() expected error, got nil")
				}
				return
			}
			if err != nil || manager == nil {
				t.Fatalf("NewJWTManager() = %v, %v", manager, err)
			}
		})
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	manager, err := NewJWTManager(testJWTConfig())
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}

	tests := []struct {
		name    string
		subject string
		role    string
	}{
		{"employee", "emp-17", "employee"},
		{"admin", "ops-lead", "admin"},
		{"no role", "cust-9", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := manager.GenerateToken(tt.subject, tt.role)
			if err != nil {
				t.Fatalf("GenerateToken() error = %v", err)
			}

			claims, err := manager.ValidateToken(token)
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if claims.Subject != tt.subject || claims.Role != tt.role || claims.Issuer != "loyalty" {
				t.Errorf("claims = %+v", claims)
			}
		})
	}
}

func TestValidateToken_Rejections(t *testing.T) {
	manager, err := NewJWTManager(testJWTConfig())
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "emp-1",
		Issuer:    "loyalty",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))

	otherIssuer := valid
	otherIssuer.Issuer = "someone-else"

	noSubject := valid
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not_a_jwt_token"},
		{"invalid token format", "invalid.token.format"},
		{"wrong secret", signRaw(t, jwt.SigningMethodHS256, &Claims{RegisteredClaims: valid}, []byte("second_secret_key_that_is_different_from_first_12345"))},
		{"expired", signRaw(t, jwt.SigningMethodHS256, &Claims{RegisteredClaims: expired}, []byte(testSecret))},
		{"other issuer", signRaw(t, jwt.SigningMethodHS256, &Claims{RegisteredClaims: otherIssuer}, []byte(testSecret))},
		{"HS512 not accepted", signRaw(t, jwt.SigningMethodHS512, &Claims{RegisteredClaims: valid}, []byte(testSecret))},
		{"none algorithm", signRaw(t, jwt.SigningMethodNone, &Claims{RegisteredClaims: valid}, jwt.UnsafeAllowNoneSignatureType)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := manager.ValidateToken(tt.token)
			if err == nil {
				t.Error("ValidateToken() expected error, got nil")
			}
			if claims != nil {
				t.Error("ValidateToken() expected nil claims")
			}
		})
	}

	t.Run("missing subject", func(t *testing.T) {
		token := signRaw(t, jwt.SigningMethodHS256, &Claims{RegisteredClaims: noSubject}, []byte(testSecret))
		if _, err := manager.ValidateToken(token); !errors.Is(err, ErrMissingSubject) {
			t.Errorf("ValidateToken() = %v, want ErrMissingSubject", err)
		}
	})
}
