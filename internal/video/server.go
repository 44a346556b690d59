// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package video is the SFU media plane. Each transport session gets one
// video room; peers publish camera and microphone tracks once and the
// server forwards RTP to every subscriber, so ambulance uplinks carry a
// single copy of each stream regardless of how many viewers join.
//
// Signaling rides the websocket RPC channel. Transports are negotiated
// with plain SDP: connectWebRtcTransport carries the client's offer for a
// publish transport, consume returns a server offer for a subscribe
// transport and resumeConsumer carries the client's answer back.
package video

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/emsgrid/emsgrid/internal/config"
	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/metrics"
	"github.com/emsgrid/emsgrid/internal/realtime"
)

var (
	ErrNotInRoom        = errors.New("video: peer has not joined a video room")
	ErrUnknownTransport = errors.New("video: unknown transport")
	ErrUnknownProducer  = errors.New("video: unknown producer")
	ErrUnknownConsumer  = errors.New("video: unknown consumer")
	ErrUnknownRPC       = errors.New("video: unknown rpc")
	ErrInvalidKind      = errors.New("video: kind must be audio or video")
	ErrAlreadyInRoom    = errors.New("video: peer already joined a video room")
	ErrConsumeOwnStream = errors.New("video: cannot consume own producer")
)

// Server owns all video rooms and implements realtime.VideoSignaler.
type Server struct {
	api *webrtc.API
	cfg config.VideoConfig

	mu    sync.RWMutex
	rooms map[string]*Room
	// peerRoom maps a connection to the room it joined.
	peerRoom map[uint64]*Room
}

// NewServer builds the shared WebRTC API. ICE timeouts are widened so a
// brief relay or NAT hiccup does not terminate an active consultation.
func NewServer(cfg config.VideoConfig) (*Server, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("video: register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("video: register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return &Server{
		api:      api,
		cfg:      cfg,
		rooms:    make(map[string]*Room),
		peerRoom: make(map[uint64]*Room),
	}, nil
}

func (s *Server) iceServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(s.cfg.ICEServers))
	for _, url := range s.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return servers
}

// HandleRPC dispatches one signaling RPC from the websocket plane.
func (s *Server) HandleRPC(ctx context.Context, peer realtime.PeerInfo, event string, data []byte) (interface{}, error) {
	switch event {
	case realtime.EventJoinVideoRoom:
		var p joinPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return s.join(peer, p.SessionID)

	case realtime.EventLeaveVideoRoom:
		s.PeerLeft(peer)
		return nil, nil

	case realtime.EventGetRouterRtpCapabilities:
		return routerRtpCapabilities(), nil

	case realtime.EventCreateWebRtcTransport:
		var p createTransportPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return s.createTransport(peer, p)

	case realtime.EventConnectWebRtcTransport:
		var p connectTransportPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return s.connectTransport(ctx, peer, p)

	case realtime.EventProduce:
		var p producePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return s.produce(peer, p)

	case realtime.EventConsume:
		var p consumePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return s.consume(ctx, peer, p)

	case realtime.EventResumeConsumer:
		var p resumeConsumerPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return s.resumeConsumer(ctx, peer, p)

	case realtime.EventGetProducers:
		return s.listProducers(peer)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRPC, event)
	}
}

func decode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return errors.New("video: missing rpc payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("video: malformed rpc payload: %w", err)
	}
	return nil
}

// join adds the peer to a session's video room, creating the room on
// first join.
func (s *Server) join(info realtime.PeerInfo, sessionID string) (interface{}, error) {
	if sessionID == "" {
		return nil, errors.New("video: sessionId is required")
	}

	s.mu.Lock()
	if _, joined := s.peerRoom[info.ConnID]; joined {
		s.mu.Unlock()
		return nil, ErrAlreadyInRoom
	}
	room, ok := s.rooms[sessionID]
	if !ok {
		room = newRoom(sessionID)
		s.rooms[sessionID] = room
		metrics.VideoRoomsActive.Set(float64(len(s.rooms)))
	}
	s.peerRoom[info.ConnID] = room
	s.mu.Unlock()

	room.addPeer(newPeer(info))

	logging.Info().
		Str("session_id", sessionID).
		Str("user_id", info.UserID).
		Msg("peer joined video room")
	return map[string]interface{}{"sessionId": sessionID}, nil
}

// PeerLeft removes a peer and tears down everything it owned. Safe to
// call for peers that never joined; disconnect handling calls it for
// every dropped connection.
func (s *Server) PeerLeft(info realtime.PeerInfo) {
	s.mu.Lock()
	room, ok := s.peerRoom[info.ConnID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.peerRoom, info.ConnID)
	s.mu.Unlock()

	closedProducers := room.removePeer(info.ConnID)

	s.mu.Lock()
	if room.empty() {
		delete(s.rooms, room.sessionID)
		metrics.VideoRoomsActive.Set(float64(len(s.rooms)))
	}
	s.mu.Unlock()

	for _, producerID := range closedProducers {
		room.broadcastExcept(info.ConnID, realtime.EventProducerClosed, producerClosedPayload{
			ProducerID: producerID,
			UserID:     info.UserID,
		})
	}

	logging.Info().
		Str("session_id", room.sessionID).
		Str("user_id", info.UserID).
		Int("producers_closed", len(closedProducers)).
		Msg("peer left video room")
}

func (s *Server) roomFor(connID uint64) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.peerRoom[connID]
	if !ok {
		return nil, ErrNotInRoom
	}
	return room, nil
}

// RoomCount reports active video rooms.
func (s *Server) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
