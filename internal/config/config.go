// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package config loads EMSGrid configuration via Koanf v2 with layered
// sources: built-in defaults, optional YAML file, environment variables
// (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Video    VideoConfig    `koanf:"video"`
	Fleet    FleetConfig    `koanf:"fleet"`
	Janitor  JanitorConfig  `koanf:"janitor"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SecurityConfig holds authentication and rate limiting settings.
type SecurityConfig struct {
	JWTSecret       string        `koanf:"jwt_secret"`
	SessionTimeout  time.Duration `koanf:"session_timeout"`
	RevocationPath  string        `koanf:"revocation_path"` // badger dir; empty = in-memory
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// DatabaseConfig holds the relational store settings.
// Driver "mysql" is the production default; "sqlite" backs tests and
// single-node evaluation setups.
type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// NATSConfig configures the event bus backend. When disabled the bus runs
// on an in-process GoChannel pub/sub; when enabled, chat/notification
// events fan out across instances over NATS JetStream.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
}

// VideoConfig configures the SFU media plane.
type VideoConfig struct {
	ICEServers []string      `koanf:"ice_servers"`
	RPCTimeout time.Duration `koanf:"rpc_timeout"`
}

// FleetConfig configures the ambulance listing cache.
type FleetConfig struct {
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// JanitorConfig configures scheduled maintenance.
type JanitorConfig struct {
	// Schedule is a cron expression for the nightly cleanup run.
	Schedule string `koanf:"schedule"`
	// NotificationRetention is how long read notifications are kept.
	NotificationRetention time.Duration `koanf:"notification_retention"`
}

// LoggingConfig mirrors logging.Config for koanf loading.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			SessionTimeout:  24 * time.Hour,
			RevocationPath:  "",
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{},
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			DSN:    "",
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/nats/jetstream",
		},
		Video: VideoConfig{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
			RPCTimeout: 10 * time.Second,
		},
		Fleet: FleetConfig{
			CacheTTL: 5 * time.Minute,
		},
		Janitor: JanitorConfig{
			Schedule:              "0 3 * * *",
			NotificationRetention: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for values that would make the server
// unusable or insecure.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("database.driver %q not supported (mysql, sqlite)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Fleet.CacheTTL <= 0 {
		return fmt.Errorf("fleet.cache_ttl must be positive")
	}
	if c.Video.RPCTimeout <= 0 {
		return fmt.Errorf("video.rpc_timeout must be positive")
	}
	return nil
}
