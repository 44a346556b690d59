// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package api is the HTTP surface of EMSGrid: REST endpoints for auth,
// transport sessions, chat history, notifications and the fleet listing,
// plus the websocket upgrade that feeds the realtime hub. Every endpoint
// answers with the {success, data | error} envelope.
package api

import (
	"errors"
	"net/http"

	"github.com/emsgrid/emsgrid/internal/auth"
	"github.com/emsgrid/emsgrid/internal/chat"
	"github.com/emsgrid/emsgrid/internal/fleet"
	"github.com/emsgrid/emsgrid/internal/notify"
	"github.com/emsgrid/emsgrid/internal/realtime"
	"github.com/emsgrid/emsgrid/internal/store"
)

// Handler carries the service dependencies of every endpoint.
type Handler struct {
	store  *store.Store
	auth   *auth.Service
	chat   *chat.Service
	notify *notify.Service
	fleet  *fleet.Service
	hub    *realtime.Hub
}

// NewHandler wires the endpoint handlers.
func NewHandler(st *store.Store, authSvc *auth.Service, chatSvc *chat.Service, notifySvc *notify.Service, fleetSvc *fleet.Service, hub *realtime.Hub) *Handler {
	return &Handler{
		store:  st,
		auth:   authSvc,
		chat:   chatSvc,
		notify: notifySvc,
		fleet:  fleetSvc,
		hub:    hub,
	}
}

// respondStoreError maps store sentinels onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, store.ErrSessionTerminal):
		respondError(w, http.StatusConflict, "CONFLICT", "session already offboarded or cancelled", nil)
	default:
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "storage failure", err)
	}
}
