// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package janitor runs scheduled maintenance: read notifications older
// than the retention window are purged on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/emsgrid/emsgrid/internal/config"
	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/store"
)

// cronParser accepts standard 5-field cron expressions (minute, hour,
// dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Janitor purges aged data on a schedule.
type Janitor struct {
	store     *store.Store
	schedule  cron.Schedule
	retention time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// New parses the schedule and builds the janitor.
func New(st *store.Store, cfg config.JanitorConfig) (*Janitor, error) {
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("janitor: parse schedule %q: %w", cfg.Schedule, err)
	}
	return &Janitor{
		store:     st,
		schedule:  sched,
		retention: cfg.NotificationRetention,
		now:       time.Now,
	}, nil
}

// Serve sleeps until each scheduled fire time and runs one sweep. The
// signature fits suture's Service interface.
func (j *Janitor) Serve(ctx context.Context) error {
	for {
		next := j.schedule.Next(j.now())
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		logging.Debug().Time("next_run", next).Msg("janitor sleeping until next sweep")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		j.Sweep(ctx)
	}
}

// Sweep runs one maintenance pass.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := j.now().Add(-j.retention)
	purged, err := j.store.PurgeReadNotificationsBefore(ctx, cutoff)
	if err != nil {
		logging.Err(err).Msg("janitor notification purge failed")
		return
	}
	if purged > 0 {
		logging.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("purged read notifications")
	}
}
