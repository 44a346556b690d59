// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emsgrid/emsgrid/internal/api"
	"github.com/emsgrid/emsgrid/internal/auth"
	"github.com/emsgrid/emsgrid/internal/authz"
	"github.com/emsgrid/emsgrid/internal/chat"
	"github.com/emsgrid/emsgrid/internal/config"
	"github.com/emsgrid/emsgrid/internal/eventbus"
	"github.com/emsgrid/emsgrid/internal/fleet"
	"github.com/emsgrid/emsgrid/internal/janitor"
	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/notify"
	"github.com/emsgrid/emsgrid/internal/realtime"
	"github.com/emsgrid/emsgrid/internal/store"
	"github.com/emsgrid/emsgrid/internal/supervisor"
	"github.com/emsgrid/emsgrid/internal/video"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coordination server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path (default: search standard locations)")
	return cmd
}

func runServe(configPath string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)

	logging.Info().
		Str("version", Version).
		Str("commit", Commit).
		Msg("starting emsgrid server")

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Err(err).Msg("closing store")
		}
	}()

	bus, err := eventbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Err(err).Msg("closing event bus")
		}
	}()

	revoked, err := auth.OpenRevocationStore(cfg.Security.RevocationPath)
	if err != nil {
		return fmt.Errorf("open revocation store: %w", err)
	}
	defer func() {
		if err := revoked.Close(); err != nil {
			logging.Err(err).Msg("closing revocation store")
		}
	}()

	jwtMgr, err := auth.NewJWTManager(cfg.Security, revoked)
	if err != nil {
		return err
	}
	authSvc := auth.NewService(st, jwtMgr)

	hub := realtime.NewHub()
	videoSrv, err := video.NewServer(cfg.Video)
	if err != nil {
		return fmt.Errorf("start video server: %w", err)
	}
	hub.SetVideoSignaler(videoSrv)
	bridge := realtime.NewBridge(hub, bus)

	chatSvc := chat.NewService(st, bus)
	notifySvc := notify.NewService(st, bus)
	fleetSvc := fleet.NewService(st, cfg.Fleet)
	defer fleetSvc.Close()

	jan, err := janitor.New(st, cfg.Janitor)
	if err != nil {
		return err
	}

	enforcer, err := authz.NewEnforcer(nil)
	if err != nil {
		return fmt.Errorf("build authorization enforcer: %w", err)
	}
	defer enforcer.Close()

	handler := api.NewHandler(st, authSvc, chatSvc, notifySvc, fleetSvc, hub)
	mw := api.NewMiddleware(cfg.Security, authSvc)
	router := api.NewRouter(cfg.Security, handler, mw, authz.NewMiddleware(enforcer))
	server := api.NewServer(cfg.Server, router.Setup())

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(&supervisor.HubService{Hub: hub})
	tree.AddMessagingService(&supervisor.BridgeService{Bridge: bridge})
	tree.AddMessagingService(jan)
	tree.AddAPIService(server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", cfg.Server.Addr()).Msg("serving")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("shutdown complete")
	return nil
}
