// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/models"
)

// APIRequestError is a structured failure from the HTTP surface.
type APIRequestError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIRequestError) Error() string {
	return fmt.Sprintf("client: api request failed (%d %s): %s", e.Status, e.Code, e.Message)
}

// RESTConfig holds HTTP client settings.
type RESTConfig struct {
	// BaseURL is the server root, e.g. http://host:8090.
	BaseURL string
	Token   string
	Timeout time.Duration
}

// REST calls the EMSGrid HTTP API. Transport failures and server errors
// run through a circuit breaker so a down backend fails fast instead of
// piling up timeouts; 4xx responses never trip the breaker.
type REST struct {
	base  string
	httpc *http.Client
	cb    *gobreaker.CircuitBreaker[[]byte]

	mu    sync.RWMutex
	token string
}

// NewREST builds the HTTP client. Breaker thresholds: opens at a 60%
// failure rate over at least 10 requests, counts reset every minute,
// half-open after 30 seconds.
func NewREST(cfg RESTConfig) *REST {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "emsgrid-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("api circuit breaker state change")
		},
	})

	return &REST{
		base:  cfg.BaseURL,
		httpc: &http.Client{Timeout: timeout},
		cb:    cb,
		token: cfg.Token,
	}
}

// SetToken replaces the bearer token for subsequent requests.
func (r *REST) SetToken(token string) {
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
}

// Token returns the current bearer token.
func (r *REST) Token() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

// do performs one enveloped request. out, when non-nil, receives the
// decoded data field.
func (r *REST) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	var status int
	raw, err := r.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, r.base+path, reqBody)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token := r.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := r.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("client: server error %d", resp.StatusCode)
		}
		status = resp.StatusCode
		return data, nil
	})
	if err != nil {
		return err
	}

	var env struct {
		Success bool             `json:"success"`
		Data    json.RawMessage  `json:"data"`
		Error   *models.APIError `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	if !env.Success {
		apiErr := &APIRequestError{Status: status}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("client: decode response data: %w", err)
	}
	return nil
}

// Login authenticates and stores the issued token for later calls.
func (r *REST) Login(ctx context.Context, username, password string) (*models.User, error) {
	var result struct {
		Token string       `json:"token"`
		User  *models.User `json:"user"`
	}
	err := r.do(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &result)
	if err != nil {
		return nil, err
	}
	r.SetToken(result.Token)
	return result.User, nil
}

// Logout revokes the current token.
func (r *REST) Logout(ctx context.Context) error {
	return r.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
}

// SendMessage posts a chat message; the server persists it and fans it
// out to the session room.
func (r *REST) SendMessage(ctx context.Context, sessionID, text string) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := r.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/messages", sessionID),
		map[string]string{"message": text}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Messages fetches one page of a session's history, ascending by
// creation time.
func (r *REST) Messages(ctx context.Context, sessionID string, limit, offset int) (*models.MessagePage, error) {
	var page models.MessagePage
	path := fmt.Sprintf("/api/v1/sessions/%s/messages?limit=%d&offset=%d", sessionID, limit, offset)
	if err := r.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Notifications fetches one page of the caller's feed, newest first.
func (r *REST) Notifications(ctx context.Context, limit, offset int) (*models.NotificationPage, error) {
	var page models.NotificationPage
	path := fmt.Sprintf("/api/v1/notifications?limit=%d&offset=%d", limit, offset)
	if err := r.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// MarkNotificationRead marks one notification read.
func (r *REST) MarkNotificationRead(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodPost, "/api/v1/notifications/"+id+"/read", nil, nil)
}

// MarkAllNotificationsRead marks the whole feed read.
func (r *REST) MarkAllNotificationsRead(ctx context.Context) error {
	return r.do(ctx, http.MethodPost, "/api/v1/notifications/read-all", nil, nil)
}

// DeleteNotification removes one notification.
func (r *REST) DeleteNotification(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodDelete, "/api/v1/notifications/"+id, nil, nil)
}

// DeleteAllNotifications clears the feed.
func (r *REST) DeleteAllNotifications(ctx context.Context) error {
	return r.do(ctx, http.MethodDelete, "/api/v1/notifications", nil, nil)
}

// Ambulances lists the fleet (server-side cached with a 5 minute TTL).
func (r *REST) Ambulances(ctx context.Context) ([]models.Ambulance, error) {
	var vehicles []models.Ambulance
	if err := r.do(ctx, http.MethodGet, "/api/v1/ambulances", nil, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}
