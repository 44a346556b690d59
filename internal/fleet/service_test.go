// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package fleet

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/emsgrid/emsgrid/internal/config"
	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/models"
	"github.com/emsgrid/emsgrid/internal/store"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

func setupService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st, err := store.NewWithDB(db)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc := NewService(st, config.FleetConfig{CacheTTL: 5 * time.Minute})
	t.Cleanup(svc.Close)
	return svc, st
}

func seedAmbulance(t *testing.T, st *store.Store, id, callSign, orgID string) {
	t.Helper()
	err := st.CreateAmbulance(context.Background(), &models.Ambulance{
		ID:             id,
		OrganizationID: orgID,
		CallSign:       callSign,
		Status:         StatusAvailable,
	})
	if err != nil {
		t.Fatalf("seed ambulance: %v", err)
	}
}

func TestListOrdersByCallSign(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	seedAmbulance(t, st, "a-2", "MEDIC-2", "org-1")
	seedAmbulance(t, st, "a-1", "MEDIC-1", "org-1")
	seedAmbulance(t, st, "a-3", "RESCUE-9", "org-2")

	fleet, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(fleet) != 3 {
		t.Fatalf("len = %d, want 3", len(fleet))
	}
	if fleet[0].CallSign != "MEDIC-1" || fleet[2].CallSign != "RESCUE-9" {
		t.Errorf("order = %s,%s,%s, want call-sign ascending",
			fleet[0].CallSign, fleet[1].CallSign, fleet[2].CallSign)
	}

	filtered, err := svc.List(ctx, "org-2")
	if err != nil {
		t.Fatalf("List(org-2) error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "a-3" {
		t.Errorf("filtered = %+v, want only a-3", filtered)
	}
}

func TestListServesFromCacheUntilInvalidated(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	seedAmbulance(t, st, "a-1", "MEDIC-1", "org-1")

	first, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("len = %d, want 1", len(first))
	}

	// Write behind the service's back: the cached listing must not see it.
	seedAmbulance(t, st, "a-2", "MEDIC-2", "org-1")

	cached, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(cached) != 1 {
		t.Errorf("cached len = %d, want stale 1", len(cached))
	}

	// A mutation through the service invalidates the cache.
	err = svc.Register(ctx, &models.Ambulance{
		ID: "a-3", CallSign: "MEDIC-3", OrganizationID: "org-1", Status: StatusAvailable,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	fresh, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(fresh) != 3 {
		t.Errorf("fresh len = %d, want 3", len(fresh))
	}

	hits, misses, _, _ := svc.CacheStats()
	if hits == 0 || misses == 0 {
		t.Errorf("stats hits=%d misses=%d, want both nonzero", hits, misses)
	}
}

func TestSetStatus(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	seedAmbulance(t, st, "a-1", "MEDIC-1", "org-1")

	if err := svc.SetStatus(ctx, "a-1", "teleporting"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("invalid status error = %v, want ErrInvalidStatus", err)
	}
	if err := svc.SetStatus(ctx, "missing", StatusDispatched); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown vehicle error = %v, want ErrNotFound", err)
	}

	if err := svc.SetStatus(ctx, "a-1", StatusDispatched); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	got, err := svc.Get(ctx, "a-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusDispatched {
		t.Errorf("status = %s, want %s", got.Status, StatusDispatched)
	}

	// The status change must be visible through the (invalidated) listing.
	fleet, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if fleet[0].Status != StatusDispatched {
		t.Errorf("listed status = %s, want %s", fleet[0].Status, StatusDispatched)
	}
}

func TestRegisterValidatesStatus(t *testing.T) {
	svc, _ := setupService(t)

	err := svc.Register(context.Background(), &models.Ambulance{
		ID: "a-1", CallSign: "MEDIC-1", Status: "flying",
	})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("Register() error = %v, want ErrInvalidStatus", err)
	}
}
