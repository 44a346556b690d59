// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package metrics registers Prometheus instrumentation for the realtime
// hub, the HTTP API and the SFU media plane.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Realtime hub metrics
	WSConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emsgrid_ws_connected_clients",
			Help: "Current number of connected websocket clients",
		},
	)

	WSActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emsgrid_ws_active_rooms",
			Help: "Current number of session rooms with at least one member",
		},
	)

	WSEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emsgrid_ws_events_total",
			Help: "Total websocket events processed by direction and type",
		},
		[]string{"direction", "type"},
	)

	WSDroppedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emsgrid_ws_dropped_messages_total",
			Help: "Messages dropped because a client send buffer was full",
		},
	)

	// Chat metrics
	ChatMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emsgrid_chat_messages_total",
			Help: "Total chat messages persisted",
		},
	)

	// Notification metrics
	NotificationsPushedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emsgrid_notifications_pushed_total",
			Help: "Total notifications pushed over the realtime channel",
		},
	)

	// Video metrics
	VideoRoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emsgrid_video_rooms_active",
			Help: "Current number of active video rooms",
		},
	)

	VideoProducersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emsgrid_video_producers_active",
			Help: "Current number of active media producers",
		},
	)

	VideoRPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emsgrid_video_rpc_duration_seconds",
			Help:    "Duration of SFU signaling RPCs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "success"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emsgrid_api_requests_total",
			Help: "Total API requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emsgrid_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordAPIRequest records one handled HTTP request.
func RecordAPIRequest(method, path string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordVideoRPC records one SFU signaling RPC.
func RecordVideoRPC(method string, success bool, duration time.Duration) {
	VideoRPCDuration.WithLabelValues(method, strconv.FormatBool(success)).Observe(duration.Seconds())
}
