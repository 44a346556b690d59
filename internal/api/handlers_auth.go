// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package api

import (
	"errors"
	"net/http"

	"github.com/emsgrid/emsgrid/internal/auth"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login verifies credentials and issues a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "invalid credentials", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "login failed", err)
		return
	}

	respondSuccess(w, http.StatusOK, result)
}

// Logout revokes the presented token. Requires authentication, so the
// claims are always on the context here.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "not authenticated", nil)
		return
	}

	if err := h.auth.Logout(r.Context(), claims); err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "logout failed", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
