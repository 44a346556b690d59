// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emsgrid/emsgrid/internal/auth"
	"github.com/emsgrid/emsgrid/internal/chat"
)

type sendMessageRequest struct {
	Message string `json:"message" validate:"required"`
}

// ListMessages returns one page of a session's history, ascending by
// creation time.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := h.store.GetSession(r.Context(), sessionID); err != nil {
		respondStoreError(w, err)
		return
	}

	page, err := h.chat.History(r.Context(), sessionID,
		getIntParam(r, "limit", 50), getIntParam(r, "offset", 0))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, page)
}

// SendMessage persists a chat message; realtime fan-out happens through
// the event bus.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "not authenticated", nil)
		return
	}

	var req sendMessageRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	sender, err := h.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	msg, err := h.chat.Send(r.Context(), chi.URLParam(r, "id"), sender, req.Message, "")
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		default:
			respondStoreError(w, err)
		}
		return
	}
	respondSuccess(w, http.StatusCreated, msg)
}
