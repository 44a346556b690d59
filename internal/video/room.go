// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package video

import (
	"sort"
	"sync"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/metrics"
	"github.com/emsgrid/emsgrid/internal/realtime"
)

// Room holds the peers of one session's video call and the producers
// they publish.
type Room struct {
	sessionID string

	mu        sync.RWMutex
	peers     map[uint64]*Peer
	producers map[string]*Producer
}

func newRoom(sessionID string) *Room {
	return &Room{
		sessionID: sessionID,
		peers:     make(map[uint64]*Peer),
		producers: make(map[string]*Producer),
	}
}

func (r *Room) addPeer(p *Peer) {
	r.mu.Lock()
	r.peers[p.info.ConnID] = p
	r.mu.Unlock()
}

func (r *Room) peer(connID uint64) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[connID]
	return p, ok
}

// removePeer drops a peer, closes its transports and unregisters its
// producers. Returns the IDs of producers that were closed so the caller
// can announce them.
func (r *Room) removePeer(connID uint64) []string {
	r.mu.Lock()
	p, ok := r.peers[connID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.peers, connID)

	var closed []string
	for id, producer := range r.producers {
		if producer.ownerConnID == connID {
			delete(r.producers, id)
			closed = append(closed, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(closed)
	p.close()
	metrics.VideoProducersActive.Sub(float64(len(closed)))
	return closed
}

func (r *Room) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers) == 0
}

// registerProducer indexes a producer once its media is flowing.
func (r *Room) registerProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
	metrics.VideoProducersActive.Inc()
}

func (r *Room) producer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

// producerList returns ready producers not owned by the asking peer,
// sorted by ID for stable replies.
func (r *Room) producerList(exceptConnID uint64) []producerInfo {
	r.mu.RLock()
	out := make([]producerInfo, 0, len(r.producers))
	for _, p := range r.producers {
		if p.ownerConnID == exceptConnID || !p.ready() {
			continue
		}
		out = append(out, producerInfo{
			ProducerID: p.id,
			UserID:     p.ownerUserID,
			Kind:       p.kind,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProducerID < out[j].ProducerID })
	return out
}

// broadcastExcept pushes an event to every peer in the room except one,
// in connection ID order.
func (r *Room) broadcastExcept(exceptConnID uint64, eventType string, payload interface{}) {
	env, err := realtime.NewEnvelope(eventType, "", payload)
	if err != nil {
		logging.Err(err).Str("type", eventType).Msg("marshal video event")
		return
	}

	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.info.ConnID == exceptConnID {
			continue
		}
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].info.ConnID < peers[j].info.ConnID })
	for _, p := range peers {
		if !p.info.Send(env) {
			logging.Warn().
				Str("session_id", r.sessionID).
				Str("user_id", p.info.UserID).
				Str("type", eventType).
				Msg("video event dropped, peer send buffer full")
		}
	}
}
