// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emsgrid/emsgrid/internal/authz"
	"github.com/emsgrid/emsgrid/internal/config"
)

// Router assembles the HTTP surface.
type Router struct {
	cfg        config.SecurityConfig
	handler    *Handler
	middleware *Middleware
	authz      *authz.Middleware
}

// NewRouter wires handlers, middleware and the role enforcer.
func NewRouter(cfg config.SecurityConfig, handler *Handler, mw *Middleware, authzMW *authz.Middleware) *Router {
	return &Router{
		cfg:        cfg,
		handler:    handler,
		middleware: mw,
		authz:      authzMW,
	}
}

// Setup configures all routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	// Health and metrics are unauthenticated; orchestrators and scrapers
	// have no tokens.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Login has the strictest rate limit; logout only needs a valid token.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(router.middleware.RateLimitLogin()).Post("/login", router.handler.Login)
		r.Group(func(r chi.Router) {
			r.Use(router.middleware.Authenticate)
			r.Post("/logout", router.handler.Logout)
		})
	})

	// Everything else requires authentication and passes the role policy.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics())
		r.Use(router.middleware.Authenticate)
		r.Use(router.authz.Authorize)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", router.handler.ListSessions)
			r.Post("/", router.handler.CreateSession)
			r.Get("/{id}", router.handler.GetSession)
			r.Post("/{id}/transit", router.handler.TransitSession)
			r.Post("/{id}/offboard", router.handler.OffboardSession)
			r.Post("/{id}/cancel", router.handler.CancelSession)
			r.Get("/{id}/messages", router.handler.ListMessages)
			r.Post("/{id}/messages", router.handler.SendMessage)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", router.handler.ListNotifications)
			r.Post("/read-all", router.handler.MarkAllNotificationsRead)
			r.Post("/{id}/read", router.handler.MarkNotificationRead)
			r.Delete("/{id}", router.handler.DeleteNotification)
			r.Delete("/", router.handler.DeleteAllNotifications)
		})

		r.Route("/ambulances", func(r chi.Router) {
			r.Get("/", router.handler.ListAmbulances)
			r.Post("/", router.handler.RegisterAmbulance)
			r.Patch("/{id}/status", router.handler.SetAmbulanceStatus)
		})

		r.Get("/ws", router.handler.WebSocket(newUpgrader(router.cfg.CORSOrigins)))
	})

	return r
}
