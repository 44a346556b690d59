// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package authz

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emsgrid/emsgrid/internal/auth"
	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/models"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

func newTestEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	e, err := NewEnforcer(nil)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestEmbeddedPolicyRoleGrants(t *testing.T) {
	e := newTestEnforcer(t)

	tests := []struct {
		name    string
		subject string
		object  string
		action  string
		want    bool
	}{
		{"doctor reads sessions", models.RoleDoctor, "/api/v1/sessions", "read", true},
		{"doctor reads one session", models.RoleDoctor, "/api/v1/sessions/s-1", "read", true},
		{"doctor posts chat", models.RoleDoctor, "/api/v1/sessions/s-1/messages", "write", true},
		{"doctor cannot create sessions", models.RoleDoctor, "/api/v1/sessions", "write", false},
		{"nurse reads ambulances", models.RoleNurse, "/api/v1/ambulances", "read", true},
		{"nurse cannot write ambulances", models.RoleNurse, "/api/v1/ambulances", "write", false},
		{"dispatcher creates sessions", models.RoleDispatcher, "/api/v1/sessions", "write", true},
		{"dispatcher writes ambulances", models.RoleDispatcher, "/api/v1/ambulances", "write", true},
		{"paramedic onboards", models.RoleParamedic, "/api/v1/sessions/s-1/onboard", "write", true},
		{"paramedic cannot write ambulances", models.RoleParamedic, "/api/v1/ambulances", "write", false},
		{"admin deletes anywhere", models.RoleAdmin, "/api/v1/notifications/n-1", "delete", true},
		{"admin reads anywhere", models.RoleAdmin, "/api/v1/ambulances", "read", true},
		{"staff marks notification read", models.RoleDoctor, "/api/v1/notifications/n-1", "write", true},
		{"staff deletes notification", models.RoleNurse, "/api/v1/notifications/n-1", "delete", true},
		{"unknown role denied", "visitor", "/api/v1/sessions", "read", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Enforce(tt.subject, tt.object, tt.action)
			if err != nil {
				t.Fatalf("Enforce() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Enforce(%s, %s, %s) = %v, want %v",
					tt.subject, tt.object, tt.action, got, tt.want)
			}
		})
	}
}

func TestPerUserRoleAssignment(t *testing.T) {
	e := newTestEnforcer(t)

	allowed, err := e.Enforce("u-1", "/api/v1/ambulances", "write")
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if allowed {
		t.Fatal("user allowed before role assignment")
	}

	if _, err := e.AddRoleForUser("u-1", models.RoleDispatcher); err != nil {
		t.Fatalf("AddRoleForUser() error = %v", err)
	}
	allowed, err = e.Enforce("u-1", "/api/v1/ambulances", "write")
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if !allowed {
		t.Error("user denied after dispatcher assignment")
	}

	if _, err := e.DeleteRoleForUser("u-1", models.RoleDispatcher); err != nil {
		t.Fatalf("DeleteRoleForUser() error = %v", err)
	}
	allowed, err = e.Enforce("u-1", "/api/v1/ambulances", "write")
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if allowed {
		t.Error("user still allowed after role removal")
	}
}

func TestDecisionCacheServesRepeatLookups(t *testing.T) {
	e, err := NewEnforcer(&EnforcerConfig{
		CacheEnabled: true,
		CacheTTL:     time.Minute,
	})
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	t.Cleanup(e.Close)

	for i := 0; i < 3; i++ {
		allowed, err := e.Enforce(models.RoleDoctor, "/api/v1/sessions", "read")
		if err != nil {
			t.Fatalf("Enforce() error = %v", err)
		}
		if !allowed {
			t.Fatalf("lookup %d denied", i)
		}
	}
}

func TestMiddlewareAuthorize(t *testing.T) {
	e := newTestEnforcer(t)
	mw := NewMiddleware(e)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := mw.Authorize(next)

	tests := []struct {
		name       string
		claims     *auth.Claims
		method     string
		path       string
		wantStatus int
	}{
		{
			name:       "no claims",
			claims:     nil,
			method:     http.MethodGet,
			path:       "/api/v1/sessions",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "doctor reads sessions",
			claims:     &auth.Claims{UserID: "u-1", Role: models.RoleDoctor},
			method:     http.MethodGet,
			path:       "/api/v1/sessions",
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "doctor cannot create session",
			claims:     &auth.Claims{UserID: "u-1", Role: models.RoleDoctor},
			method:     http.MethodPost,
			path:       "/api/v1/sessions",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "dispatcher creates session",
			claims:     &auth.Claims{UserID: "u-2", Role: models.RoleDispatcher},
			method:     http.MethodPost,
			path:       "/api/v1/sessions",
			wantStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.claims != nil {
				req = req.WithContext(auth.WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestMiddlewareHonorsPerUserGrant(t *testing.T) {
	e := newTestEnforcer(t)
	mw := NewMiddleware(e)

	if _, err := e.AddRoleForUser("u-9", models.RoleDispatcher); err != nil {
		t.Fatalf("AddRoleForUser() error = %v", err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := mw.Authorize(next)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ambulances", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		UserID: "u-9",
		Role:   models.RoleNurse,
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}
