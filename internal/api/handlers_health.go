// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package api

import (
	"net/http"
)

// HealthLive reports process liveness. It never touches dependencies so
// a wedged database cannot make the orchestrator restart-loop the pod.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady reports readiness: the store must answer and the hub must
// be running.
func (h *Handler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	if err := h.store.Ping(); err != nil {
		respondError(w, http.StatusServiceUnavailable, "DATABASE_ERROR", "store unreachable", err)
		return
	}

	hits, misses, _, keys := h.fleet.CacheStats()
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"status":           "ready",
		"connectedClients": h.hub.ClientCount(),
		"fleetCache": map[string]int64{
			"hits":   hits,
			"misses": misses,
			"keys":   keys,
		},
	})
}
