// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emsgrid/emsgrid/internal/auth"
)

// ListNotifications returns the caller's feed, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	page, err := h.notify.Feed(r.Context(), claims.UserID,
		getIntParam(r, "limit", 20), getIntParam(r, "offset", 0))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, page)
}

// MarkNotificationRead marks one of the caller's notifications read.
// Another user's notification answers 404, not 403; IDs are not probeable.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	if err := h.notify.MarkRead(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"status": "read"})
}

// MarkAllNotificationsRead marks the caller's whole feed read.
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	updated, err := h.notify.MarkAllRead(r.Context(), claims.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]int64{"updated": updated})
}

// DeleteNotification removes one of the caller's notifications.
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	if err := h.notify.Delete(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DeleteAllNotifications clears the caller's feed.
func (h *Handler) DeleteAllNotifications(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	deleted, err := h.notify.DeleteAll(r.Context(), claims.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
