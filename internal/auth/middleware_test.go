// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestMiddleware(t *testing.T) (*Middleware, *JWTManager) {
	t.Helper()
	mgr, err := NewJWTManager(testJWTConfig())
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	return NewMiddleware(mgr, "admin"), mgr
}

func TestMiddleware_Authenticate(t *testing.T) {
	m, mgr := newTestMiddleware(t)
	validToken, _ := mgr.GenerateToken("emp-1", "employee")

	tests := []struct {
		name        string
		authHeader  string
		query       string
		upgrade     bool
		wantStatus  int
		wantSubject string
	}{
		{name: "missing token returns 401", wantStatus: http.StatusUnauthorized},
		{name: "valid bearer token", authHeader: "Bearer " + validToken, wantStatus: http.StatusOK, wantSubject: "emp-1"},
		{name: "lowercase scheme", authHeader: "bearer " + validToken, wantStatus: http.StatusOK, wantSubject: "emp-1"},
		{name: "basic scheme rejected", authHeader: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized},
		{name: "invalid token returns 401", authHeader: "Bearer invalid.jwt.token", wantStatus: http.StatusUnauthorized},
		{name: "query token on upgrade", query: "?access_token=" + validToken, upgrade: true, wantStatus: http.StatusOK, wantSubject: "emp-1"},
		{name: "query token ignored without upgrade", query: "?access_token=" + validToken, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured *Claims
			handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = ClaimsFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantSubject != "" && (captured == nil || captured.Subject != tt.wantSubject) {
				t.Errorf("claims = %+v, want subject %q", captured, tt.wantSubject)
			}
		})
	}
}

func TestMiddleware_RequireAdmin(t *testing.T) {
	m, mgr := newTestMiddleware(t)
	adminToken, _ := mgr.GenerateToken("ops", "admin")
	empToken, _ := mgr.GenerateToken("emp-1", "employee")

	handler := m.Authenticate(m.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"admin allowed", adminToken, http.StatusOK},
		{"employee forbidden", empToken, http.StatusForbidden},
		{"anonymous unauthorized", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}

	t.Run("without Authenticate", func(t *testing.T) {
		w := httptest.NewRecorder()
		m.RequireAdmin(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

func TestMiddleware_RequireRole(t *testing.T) {
	m, mgr := newTestMiddleware(t)
	adminToken, _ := mgr.GenerateToken("ops", "admin")
	empToken, _ := mgr.GenerateToken("emp-1", "employee")
	custToken, _ := mgr.GenerateToken("cust-7", "customer")
	noRoleToken, _ := mgr.GenerateToken("someone", "")

	handler := m.Authenticate(m.RequireRole("employee")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"employee allowed", empToken, http.StatusOK},
		{"admin allowed", adminToken, http.StatusOK},
		{"customer forbidden", custToken, http.StatusForbidden},
		{"empty role forbidden", noRoleToken, http.StatusForbidden},
		{"anonymous unauthorized", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/scans", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}

	t.Run("without Authenticate", func(t *testing.T) {
		w := httptest.NewRecorder()
		m.RequireRole("employee")(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

func TestNewMiddleware_DefaultAdminRole(t *testing.T) {
	m := NewMiddleware(nil, "")
	if !m.IsAdmin(&Claims{Role: "admin"}) || m.IsAdmin(&Claims{Role: "employee"}) || m.IsAdmin(nil) {
		t.Error("IsAdmin() with default role misbehaves")
	}
}
