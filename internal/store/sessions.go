// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emsgrid/emsgrid/internal/models"
)

// ErrSessionTerminal is returned when mutating an offboarded or cancelled
// session.
var ErrSessionTerminal = errors.New("store: session already terminal")

// CreateSession persists a new transport session (patient onboarding).
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// GetSession fetches one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sess, nil
}

// ListSessions returns sessions filtered by status ("" = all), newest first.
func (s *Store) ListSessions(ctx context.Context, status string, limit, offset int) ([]models.Session, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var sessions []models.Session
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionStatus moves a session to a new status. Terminal sessions
// (offboarded, cancelled) reject further transitions. Offboarding stamps
// OffboardedAt.
func (s *Store) UpdateSessionStatus(ctx context.Context, id, status string) (*models.Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Terminal() {
		return nil, ErrSessionTerminal
	}

	updates := map[string]interface{}{"status": status}
	if status == models.SessionOffboarded {
		now := time.Now().UTC()
		updates["offboarded_at"] = &now
	}

	if err := s.db.WithContext(ctx).Model(sess).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("store: update session status: %w", err)
	}
	return s.GetSession(ctx, id)
}
