// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package auth

import (
	"context"
	"errors"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/models"
	"github.com/emsgrid/emsgrid/internal/store"
)

// Service authenticates users against the relational store and manages
// their tokens.
type Service struct {
	store *store.Store
	jwt   *JWTManager
}

// NewService wires the auth service.
func NewService(st *store.Store, jwt *JWTManager) *Service {
	return &Service{store: st, jwt: jwt}
}

// LoginResult carries the issued token and the authenticated user.
type LoginResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Login checks credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := CheckPassword(user.PasswordHash, password); err != nil {
		logging.Warn().Str("username", username).Msg("failed login attempt")
		return nil, err
	}

	token, err := s.jwt.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, err
	}

	logging.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("user logged in")
	return &LoginResult{Token: token, User: user}, nil
}

// Logout revokes the presented token.
func (s *Service) Logout(_ context.Context, claims *Claims) error {
	return s.jwt.Revoke(claims)
}

// Validate verifies a raw bearer token.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	return s.jwt.ValidateToken(tokenString)
}
