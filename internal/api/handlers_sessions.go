// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/models"
)

type onboardRequest struct {
	AmbulanceID   string `json:"ambulanceId" validate:"required"`
	PatientName   string `json:"patientName" validate:"required"`
	PatientRef    string `json:"patientRef"`
	DestinationID string `json:"destinationId" validate:"required"`
}

// CreateSession onboards a patient: a new transport session opens in the
// onboarded state and a system line starts its chat history.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req onboardRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if _, err := h.fleet.Get(r.Context(), req.AmbulanceID); err != nil {
		respondStoreError(w, err)
		return
	}

	sess := &models.Session{
		ID:            uuid.New().String(),
		Status:        models.SessionOnboarded,
		AmbulanceID:   req.AmbulanceID,
		PatientName:   req.PatientName,
		PatientRef:    req.PatientRef,
		DestinationID: req.DestinationID,
		OnboardedAt:   time.Now().UTC(),
	}
	if err := h.store.CreateSession(r.Context(), sess); err != nil {
		respondStoreError(w, err)
		return
	}

	h.systemLine(r, sess.ID, "Patient onboarded, transport session opened")
	logging.Info().
		Str("session_id", sess.ID).
		Str("ambulance_id", sess.AmbulanceID).
		Msg("transport session opened")
	respondSuccess(w, http.StatusCreated, sess)
}

// GetSession returns one session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, sess)
}

// ListSessions returns sessions newest first, optionally filtered by
// status.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := getIntParam(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	sessions, err := h.store.ListSessions(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, sessions)
}

// TransitSession marks the transport as en route.
func (h *Handler) TransitSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.SessionInTransit, "Transport en route to destination")
}

// OffboardSession terminates a session on patient handover.
func (h *Handler) OffboardSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.SessionOffboarded, "Patient offboarded, transport session closed")
}

// CancelSession terminates a session without handover.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.SessionCancelled, "Transport session cancelled")
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, status, announcement string) {
	id := chi.URLParam(r, "id")
	sess, err := h.store.UpdateSessionStatus(r.Context(), id, status)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	h.systemLine(r, id, announcement)
	logging.Info().Str("session_id", id).Str("status", status).Msg("session transitioned")
	respondSuccess(w, http.StatusOK, sess)
}

// systemLine records a lifecycle announcement in the session chat. The
// transition already succeeded; a failed announcement is only logged.
func (h *Handler) systemLine(r *http.Request, sessionID, text string) {
	if _, err := h.chat.SendSystem(r.Context(), sessionID, text); err != nil {
		logging.Err(err).Str("session_id", sessionID).Msg("record system chat line")
	}
}
