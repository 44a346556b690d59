// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package store

import (
	"context"
	"fmt"

	"github.com/emsgrid/emsgrid/internal/models"
)

// ListAmbulances returns the fleet, optionally filtered by organization.
func (s *Store) ListAmbulances(ctx context.Context, organizationID string) ([]models.Ambulance, error) {
	q := s.db.WithContext(ctx).Order("call_sign ASC")
	if organizationID != "" {
		q = q.Where("organization_id = ?", organizationID)
	}
	var fleet []models.Ambulance
	if err := q.Find(&fleet).Error; err != nil {
		return nil, fmt.Errorf("store: list ambulances: %w", err)
	}
	return fleet, nil
}

// CreateAmbulance registers a new vehicle.
func (s *Store) CreateAmbulance(ctx context.Context, a *models.Ambulance) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("store: create ambulance: %w", err)
	}
	return nil
}

// GetAmbulance fetches one vehicle by ID.
func (s *Store) GetAmbulance(ctx context.Context, id string) (*models.Ambulance, error) {
	var a models.Ambulance
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// UpdateAmbulanceStatus transitions a vehicle between available,
// dispatched and maintenance.
func (s *Store) UpdateAmbulanceStatus(ctx context.Context, id, status string) error {
	res := s.db.WithContext(ctx).Model(&models.Ambulance{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("store: update ambulance status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateOrganization registers a hospital or fleet operator.
func (s *Store) CreateOrganization(ctx context.Context, o *models.Organization) error {
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("store: create organization: %w", err)
	}
	return nil
}

// ListOrganizations returns all organizations ordered by name.
func (s *Store) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	var orgs []models.Organization
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("store: list organizations: %w", err)
	}
	return orgs, nil
}
