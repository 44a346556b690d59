// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/emsgrid/emsgrid/internal/auth"
	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/realtime"
)

// upgrader relies on CheckOrigin because the websocket handshake is not
// subject to CORS; the origin list is mirrored from the CORS config by
// the router.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			wildcard = true
		}
		allowed[origin] = true
	}

	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard {
				return true
			}
			return allowed[origin]
		},
	}
}

// WebSocket upgrades the connection and hands it to the realtime hub.
// Authentication already ran; the claims identify the connection's user
// for presence, typing and personal notification delivery.
func (h *Handler) WebSocket(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		if claims == nil {
			respondError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "not authenticated", nil)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			logging.Err(err).Msg("websocket upgrade failed")
			return
		}

		user, err := h.store.GetUser(r.Context(), claims.UserID)
		displayName := claims.Username
		if err == nil {
			displayName = user.FirstName + " " + user.LastName
		}

		client := realtime.NewClient(h.hub, conn, claims.UserID, displayName, claims.Role)
		h.hub.Register <- client
		client.Start()

		logging.Info().
			Str("user_id", claims.UserID).
			Uint64("conn_id", client.ID()).
			Msg("websocket client connected")
	}
}
