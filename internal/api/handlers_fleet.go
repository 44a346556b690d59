// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/emsgrid/emsgrid/internal/fleet"
	"github.com/emsgrid/emsgrid/internal/models"
)

type registerAmbulanceRequest struct {
	OrganizationID string `json:"organizationId" validate:"required"`
	CallSign       string `json:"callSign" validate:"required"`
	Plate          string `json:"plate"`
}

type ambulanceStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// ListAmbulances serves the fleet listing from the TTL cache.
func (h *Handler) ListAmbulances(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.fleet.List(r.Context(), r.URL.Query().Get("organizationId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, vehicles)
}

// RegisterAmbulance adds a vehicle to the fleet.
func (h *Handler) RegisterAmbulance(w http.ResponseWriter, r *http.Request) {
	var req registerAmbulanceRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	a := &models.Ambulance{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		CallSign:       req.CallSign,
		Plate:          req.Plate,
		Status:         fleet.StatusAvailable,
	}
	if err := h.fleet.Register(r.Context(), a); err != nil {
		respondStoreError(w, err)
		return
	}
	respondSuccess(w, http.StatusCreated, a)
}

// SetAmbulanceStatus transitions a vehicle between available, dispatched
// and maintenance.
func (h *Handler) SetAmbulanceStatus(w http.ResponseWriter, r *http.Request) {
	var req ambulanceStatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.fleet.SetStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, fleet.ErrInvalidStatus) {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		respondStoreError(w, err)
		return
	}

	vehicle, err := h.fleet.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, vehicle)
}
