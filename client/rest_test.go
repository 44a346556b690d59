// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/emsgrid/emsgrid/internal/models"
)

func writeEnvelope(w http.ResponseWriter, status int, env interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func TestLoginStoresToken(t *testing.T) {
	var sawAuthHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			writeEnvelope(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"data": map[string]interface{}{
					"token": "tok-123",
					"user":  map[string]string{"id": "u1", "username": "alice", "role": models.RoleDoctor},
				},
			})
		case "/api/v1/ambulances":
			sawAuthHeader = r.Header.Get("Authorization")
			writeEnvelope(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"data":    []models.Ambulance{},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	rest := NewREST(RESTConfig{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	user, err := rest.Login(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("user id = %q, want u1", user.ID)
	}
	if rest.Token() != "tok-123" {
		t.Errorf("Token() = %q, want tok-123", rest.Token())
	}

	if _, err := rest.Ambulances(ctx); err != nil {
		t.Fatalf("Ambulances() error = %v", err)
	}
	if sawAuthHeader != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", sawAuthHeader)
	}
}

func TestLoginFailureSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"error":   map[string]string{"code": "AUTHENTICATION_ERROR", "message": "invalid credentials"},
		})
	}))
	defer srv.Close()

	rest := NewREST(RESTConfig{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := rest.Login(ctx, "alice", "wrong")
	var apiErr *APIRequestError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Login() error = %v, want *APIRequestError", err)
	}
	if apiErr.Code != "AUTHENTICATION_ERROR" || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("api error = %+v", apiErr)
	}
	if rest.Token() != "" {
		t.Error("token stored despite failed login")
	}
}

func TestSendMessageDecodesCreatedMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions/s1/messages" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeEnvelope(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"data": models.ChatMessage{
				ID:        "m1",
				SessionID: "s1",
				Message:   body["message"],
			},
		})
	}))
	defer srv.Close()

	rest := NewREST(RESTConfig{BaseURL: srv.URL, Token: "tok"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := rest.SendMessage(ctx, "s1", "eta 5 minutes")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.ID != "m1" || msg.Message != "eta 5 minutes" {
		t.Errorf("message = %+v", msg)
	}
}
