// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package fleet serves the ambulance roster. Listings go through a TTL
// cache because dashboards poll them far more often than the fleet
// changes; mutations invalidate the cache so the next read is fresh.
package fleet

import (
	"context"
	"fmt"

	"github.com/emsgrid/emsgrid/internal/cache"
	"github.com/emsgrid/emsgrid/internal/config"
	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/models"
	"github.com/emsgrid/emsgrid/internal/store"
)

// Vehicle statuses.
const (
	StatusAvailable   = "available"
	StatusDispatched  = "dispatched"
	StatusMaintenance = "maintenance"
)

// ErrInvalidStatus rejects unknown vehicle statuses.
var ErrInvalidStatus = fmt.Errorf("fleet: invalid status (available, dispatched, maintenance)")

// Service answers fleet queries with a read-through cache.
type Service struct {
	store *store.Store
	cache *cache.Cache
}

// NewService builds the fleet service with a cache sized by config.
func NewService(st *store.Store, cfg config.FleetConfig) *Service {
	return &Service{
		store: st,
		cache: cache.New(cfg.CacheTTL),
	}
}

// List returns the fleet, optionally filtered by operator organization.
// Results are cached per filter for the configured TTL.
func (s *Service) List(ctx context.Context, organizationID string) ([]models.Ambulance, error) {
	key := cache.GenerateKey("fleet:list", organizationID)
	if cached, ok := s.cache.Get(key); ok {
		if fleet, ok := cached.([]models.Ambulance); ok {
			return fleet, nil
		}
	}

	fleet, err := s.store.ListAmbulances(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, fleet)

	logging.Debug().
		Int("count", len(fleet)).
		Str("organization_id", organizationID).
		Msg("fleet listing refreshed from store")
	return fleet, nil
}

// Register adds a vehicle and invalidates cached listings.
func (s *Service) Register(ctx context.Context, a *models.Ambulance) error {
	if err := validStatus(a.Status); err != nil {
		return err
	}
	if err := s.store.CreateAmbulance(ctx, a); err != nil {
		return err
	}
	s.cache.Clear()
	logging.Info().Str("ambulance_id", a.ID).Str("call_sign", a.CallSign).Msg("ambulance registered")
	return nil
}

// SetStatus transitions a vehicle and invalidates cached listings.
func (s *Service) SetStatus(ctx context.Context, id, status string) error {
	if err := validStatus(status); err != nil {
		return err
	}
	if err := s.store.UpdateAmbulanceStatus(ctx, id, status); err != nil {
		return err
	}
	s.cache.Clear()
	return nil
}

// Get fetches one vehicle, bypassing the cache.
func (s *Service) Get(ctx context.Context, id string) (*models.Ambulance, error) {
	return s.store.GetAmbulance(ctx, id)
}

// CacheStats exposes the cache counters for the health endpoint.
func (s *Service) CacheStats() (hits, misses, evictions, keys int64) {
	return s.cache.GetStats()
}

// Close stops the cache sweeper.
func (s *Service) Close() {
	s.cache.Close()
}

func validStatus(status string) error {
	switch status {
	case StatusAvailable, StatusDispatched, StatusMaintenance:
		return nil
	default:
		return ErrInvalidStatus
	}
}
