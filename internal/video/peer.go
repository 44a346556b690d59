// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package video

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/realtime"
)

// transport is one PeerConnection owned by a peer: a send transport
// receives the peer's published tracks, a recv transport carries the
// tracks it consumes.
type transport struct {
	id        string
	direction string
	pc        *webrtc.PeerConnection
}

// Peer is one connection's state inside a video room.
type Peer struct {
	info realtime.PeerInfo

	mu         sync.Mutex
	transports map[string]*transport
	// pending holds producers announced via produce that are waiting for
	// their track to arrive; unclaimed holds tracks that arrived before
	// produce was called. Matching is FIFO per kind.
	pending   []*Producer
	unclaimed []*trackBinding
	consumers map[string]*consumer
	// consumed guards against subscribing to the same producer twice.
	consumed map[string]string // producerID -> consumerID
	closed   bool
}

// trackBinding is a remote track with its forwarding-side local track.
// local is created at activation, once the producer ID is known.
type trackBinding struct {
	kind   string
	remote *webrtc.TrackRemote
	local  *webrtc.TrackLocalStaticRTP
	pc     *webrtc.PeerConnection
}

// consumer is one subscription on a recv transport.
type consumer struct {
	id          string
	producerID  string
	transportID string
}

// Producer is one published stream. It is announced by produce and
// becomes ready when the matching track arrives on the send transport.
type Producer struct {
	id          string
	kind        string
	ownerConnID uint64
	ownerUserID string

	mu      sync.Mutex
	binding *trackBinding
}

func (p *Producer) bind(b *trackBinding) {
	p.mu.Lock()
	p.binding = b
	p.mu.Unlock()
}

func (p *Producer) ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.binding != nil
}

func (p *Producer) track() *webrtc.TrackLocalStaticRTP {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.binding == nil {
		return nil
	}
	return p.binding.local
}

// requestKeyframe asks the publisher for an IDR so a new consumer does
// not stare at gray video until the next scheduled keyframe.
func (p *Producer) requestKeyframe() {
	p.mu.Lock()
	b := p.binding
	p.mu.Unlock()

	if b == nil || b.kind != KindVideo {
		return
	}
	err := b.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(b.remote.SSRC())},
	})
	if err != nil {
		logging.Debug().Err(err).Str("producer_id", p.id).Msg("send PLI")
	}
}

func newPeer(info realtime.PeerInfo) *Peer {
	return &Peer{
		info:       info,
		transports: make(map[string]*transport),
		consumers:  make(map[string]*consumer),
		consumed:   make(map[string]string),
	}
}

func (p *Peer) addTransport(t *transport) {
	p.mu.Lock()
	p.transports[t.id] = t
	p.mu.Unlock()
}

func (p *Peer) transport(id string) (*transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.transports[id]
	return t, ok
}

// claimTrack matches a produce call with an already-arrived track.
func (p *Peer) claimTrack(kind string) *trackBinding {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, b := range p.unclaimed {
		if b.kind == kind {
			p.unclaimed = append(p.unclaimed[:i], p.unclaimed[i+1:]...)
			return b
		}
	}
	return nil
}

// enqueuePending registers a producer waiting for its track.
func (p *Peer) enqueuePending(producer *Producer) {
	p.mu.Lock()
	p.pending = append(p.pending, producer)
	p.mu.Unlock()
}

// matchPending pops the oldest pending producer of the track's kind, or
// stores the binding as unclaimed when produce has not been called yet.
// Returns the matched producer, if any.
func (p *Peer) matchPending(b *trackBinding) *Producer {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, producer := range p.pending {
		if producer.kind == b.kind {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return producer
		}
	}
	p.unclaimed = append(p.unclaimed, b)
	return nil
}

func (p *Peer) addConsumer(c *consumer) {
	p.mu.Lock()
	p.consumers[c.id] = c
	p.consumed[c.producerID] = c.id
	p.mu.Unlock()
}

func (p *Peer) consumerByID(id string) (*consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.consumers[id]
	return c, ok
}

// alreadyConsumed returns the consumer ID guarding a producer, if any.
func (p *Peer) alreadyConsumed(producerID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.consumed[producerID]
	return id, ok
}

// close tears down every transport.
func (p *Peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	transports := make([]*transport, 0, len(p.transports))
	for _, t := range p.transports {
		transports = append(transports, t)
	}
	p.transports = make(map[string]*transport)
	p.mu.Unlock()

	for _, t := range transports {
		if err := t.pc.Close(); err != nil {
			logging.Debug().Err(err).Str("transport_id", t.id).Msg("close transport")
		}
	}
}

// forwardRTP copies packets from the publisher's remote track to the
// shared local track until the publisher goes away. Write errors other
// than ErrClosedPipe are publisher-fatal; no-reader periods are fine.
func forwardRTP(b *trackBinding, producerID string) {
	for {
		packet, _, err := b.remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Debug().Err(err).Str("producer_id", producerID).Msg("rtp read ended")
			}
			return
		}
		if err := b.local.WriteRTP(packet); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			logging.Debug().Err(err).Str("producer_id", producerID).Msg("rtp write failed")
			return
		}
	}
}
