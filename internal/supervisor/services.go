// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package supervisor

import (
	"context"

	"github.com/emsgrid/emsgrid/internal/realtime"
)

// HubService adapts the realtime hub to suture's Service interface.
type HubService struct {
	Hub *realtime.Hub
}

// Serve runs the hub loop until the context is cancelled.
func (s *HubService) Serve(ctx context.Context) error {
	return s.Hub.RunWithContext(ctx)
}

func (s *HubService) String() string { return "realtime-hub" }

// BridgeService adapts the bus-to-hub bridge to suture's Service
// interface.
type BridgeService struct {
	Bridge *realtime.Bridge
}

// Serve subscribes the bridge and blocks until the context is
// cancelled, then stops it.
func (s *BridgeService) Serve(ctx context.Context) error {
	if err := s.Bridge.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Bridge.Stop()
	return ctx.Err()
}

func (s *BridgeService) String() string { return "eventbus-bridge" }
