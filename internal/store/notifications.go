// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/emsgrid/emsgrid/internal/models"
)

// CreateNotification persists one notification.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("store: create notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications newest-first.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	var items []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("store: list notifications: %w", err)
	}
	return items, nil
}

// MarkNotificationRead marks one notification read. Returns ErrNotFound if
// the notification does not exist or belongs to another user.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("store: mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification of a user read
// and returns how many were updated.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("store: mark all notifications read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteNotification removes one notification owned by the user.
func (s *Store) DeleteNotification(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Notification{})
	if res.Error != nil {
		return fmt.Errorf("store: delete notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllNotifications removes every notification of a user.
func (s *Store) DeleteAllNotifications(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: delete all notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeReadNotificationsBefore deletes read notifications created before
// the cutoff. The janitor runs this nightly.
func (s *Store) PurgeReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, cutoff).
		Delete(&models.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: purge notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}
