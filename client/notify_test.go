// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/emsgrid/emsgrid/internal/models"
)

// notifyBackend serves a fixed notification list and can be told to fail
// mutations.
type notifyBackend struct {
	items       []models.Notification
	failNextMut bool
}

func (b *notifyBackend) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && b.failNextMut {
			b.failNextMut = false
			writeEnvelope(w, http.StatusInternalServerError, map[string]interface{}{
				"success": false,
				"error":   map[string]string{"code": "DATABASE_ERROR", "message": "update failed"},
			})
			return
		}

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/notifications":
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			end := offset + limit
			if end > len(b.items) {
				end = len(b.items)
			}
			page := []models.Notification{}
			if offset < len(b.items) {
				page = b.items[offset:end]
			}
			writeEnvelope(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"data": models.NotificationPage{
					Notifications: page,
					Limit:         limit,
					Offset:        offset,
					HasMore:       len(page) == limit,
				},
			})

		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/notifications/read-all":
			writeEnvelope(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"data":    map[string]int{"updated": len(b.items)},
			})

		case r.Method == http.MethodPost:
			writeEnvelope(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"data":    map[string]string{"status": "read"},
			})

		case r.Method == http.MethodDelete:
			writeEnvelope(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"data":    map[string]string{"status": "deleted"},
			})

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}
}

func setupFeed(t *testing.T, backend *notifyBackend, limit int) *NotificationFeed {
	t.Helper()
	srv := httptest.NewServer(backend.handler(t))
	t.Cleanup(srv.Close)
	rest := NewREST(RESTConfig{BaseURL: srv.URL, Token: "tok"})
	return NewNotificationFeed(rest, limit)
}

func seedNotifications(n int) []models.Notification {
	items := make([]models.Notification, n)
	for i := range items {
		items[i] = models.Notification{
			ID:    "n-" + strconv.Itoa(i+1),
			Title: "Dispatch update",
		}
	}
	return items
}

func TestNotificationFeedPagination(t *testing.T) {
	feed := setupFeed(t, &notifyBackend{items: seedNotifications(3)}, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := feed.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(feed.Notifications()); got != 2 {
		t.Fatalf("notifications = %d, want 2", got)
	}
	// The first page was full-size, so more may exist.
	if !feed.HasMore() {
		t.Error("HasMore() = false after full page")
	}

	if err := feed.Load(ctx); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if got := len(feed.Notifications()); got != 3 {
		t.Fatalf("notifications = %d, want 3", got)
	}
	if feed.HasMore() {
		t.Error("HasMore() = true after short page")
	}
}

func TestNotificationPushPrepends(t *testing.T) {
	feed := setupFeed(t, &notifyBackend{items: seedNotifications(2)}, 10)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := feed.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	feed.Push(models.Notification{ID: "n-live", Title: "New session assigned"})

	items := feed.Notifications()
	if len(items) != 3 || items[0].ID != "n-live" {
		t.Errorf("items = %+v, want n-live first", items)
	}
}

func TestMarkAllReadMutatesOnlyOnSuccess(t *testing.T) {
	backend := &notifyBackend{items: seedNotifications(3)}
	feed := setupFeed(t, backend, 10)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := feed.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Failure leaves the local list untouched.
	backend.failNextMut = true
	if err := feed.MarkAllRead(ctx); err == nil {
		t.Fatal("MarkAllRead() succeeded despite server failure")
	}
	for _, n := range feed.Notifications() {
		if n.IsRead {
			t.Fatal("local entry mutated on failed request")
		}
	}

	// Success marks every entry read.
	if err := feed.MarkAllRead(ctx); err != nil {
		t.Fatalf("MarkAllRead() error = %v", err)
	}
	for _, n := range feed.Notifications() {
		if !n.IsRead {
			t.Errorf("notification %s still unread", n.ID)
		}
	}
}

func TestMarkReadAndDeleteMutateLocally(t *testing.T) {
	feed := setupFeed(t, &notifyBackend{items: seedNotifications(2)}, 10)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := feed.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := feed.MarkRead(ctx, "n-1"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	items := feed.Notifications()
	if !items[0].IsRead || items[1].IsRead {
		t.Errorf("read flags = %v/%v, want true/false", items[0].IsRead, items[1].IsRead)
	}

	if err := feed.Delete(ctx, "n-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	items = feed.Notifications()
	if len(items) != 1 || items[0].ID != "n-2" {
		t.Errorf("items after delete = %+v", items)
	}

	if err := feed.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if got := len(feed.Notifications()); got != 0 {
		t.Errorf("items after delete-all = %d, want 0", got)
	}
}
