// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package notify persists per-user notifications and publishes them for
// realtime push.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/emsgrid/emsgrid/internal/eventbus"
	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/models"
	"github.com/emsgrid/emsgrid/internal/store"
)

// ErrEmptyTitle rejects notifications without a title.
var ErrEmptyTitle = errors.New("notify: title is empty")

// Service coordinates notification persistence and push.
type Service struct {
	store *store.Store
	bus   eventbus.Bus
	now   func() time.Time
}

// NewService wires the notification service.
func NewService(st *store.Store, bus eventbus.Bus) *Service {
	return &Service{store: st, bus: bus, now: time.Now}
}

// Push persists a notification and publishes it for realtime delivery.
// Like chat, the database write is the source of truth; a publish failure
// only costs the live push, the notification still appears in the feed.
func (s *Service) Push(ctx context.Context, userID, title, message string) (*models.Notification, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	n := &models.Notification{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		IsRead:    false,
		CreatedAt: s.now().UTC(),
	}

	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}

	if err := s.bus.Publish(ctx, eventbus.TopicNotifications, eventbus.NotificationEvent{
		UserID:       userID,
		Notification: *n,
	}); err != nil {
		logging.Err(err).
			Str("user_id", userID).
			Str("notification_id", n.ID).
			Msg("publish notification event")
	}

	return n, nil
}

// Feed returns one page of a user's notifications, newest first.
func (s *Service) Feed(ctx context.Context, userID string, limit, offset int) (*models.NotificationPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	items, err := s.store.ListNotifications(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("notify: list feed: %w", err)
	}
	return &models.NotificationPage{
		Notifications: items,
		Limit:         limit,
		Offset:        offset,
		HasMore:       len(items) == limit,
	}, nil
}

// MarkRead marks one notification read.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.store.MarkNotificationRead(ctx, userID, id)
}

// MarkAllRead marks every unread notification read and returns the count.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}

// Delete removes one notification.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.store.DeleteNotification(ctx, userID, id)
}

// DeleteAll clears a user's feed and returns the count.
func (s *Service) DeleteAll(ctx context.Context, userID string) (int64, error) {
	return s.store.DeleteAllNotifications(ctx, userID)
}
