// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package store

import (
	"context"
	"fmt"

	"github.com/emsgrid/emsgrid/internal/models"
)

// CreateMessage persists one chat message. The caller assigns the ULID.
func (s *Store) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("store: create message: %w", err)
	}
	return nil
}

// ListMessages returns a session's messages ordered oldest-first.
// ULIDs sort lexicographically by creation time, so the id tiebreak keeps
// same-timestamp messages stable.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return msgs, nil
}

// CountMessages returns the total number of messages in a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return count, nil
}
