// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package video

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/pion/webrtc/v4"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/realtime"
)

// createTransport allocates a PeerConnection for one direction. A send
// transport starts watching for published tracks immediately; clients
// negotiate it afterwards with connectWebRtcTransport.
func (s *Server) createTransport(info realtime.PeerInfo, p createTransportPayload) (interface{}, error) {
	if p.Direction != DirectionSend && p.Direction != DirectionRecv {
		return nil, fmt.Errorf("video: direction must be %q or %q", DirectionSend, DirectionRecv)
	}

	room, err := s.roomFor(info.ConnID)
	if err != nil {
		return nil, err
	}
	peer, ok := room.peer(info.ConnID)
	if !ok {
		return nil, ErrNotInRoom
	}

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: s.iceServers(),
	})
	if err != nil {
		return nil, fmt.Errorf("video: create peer connection: %w", err)
	}

	t := &transport{
		id:        ulid.Make().String(),
		direction: p.Direction,
		pc:        pc,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logging.Debug().
			Str("transport_id", t.id).
			Str("direction", t.direction).
			Str("state", state.String()).
			Msg("transport connection state")
	})

	if p.Direction == DirectionSend {
		pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			s.handleIncomingTrack(room, peer, pc, remote)
		})
	}

	peer.addTransport(t)
	return createTransportResult{
		TransportID: t.id,
		Direction:   t.direction,
		ICEServers:  s.iceServers(),
	}, nil
}

// handleIncomingTrack forwards a newly published track and binds it to
// its producer. Publishers may call produce before or after the track
// arrives; matchPending covers both orders.
func (s *Server) handleIncomingTrack(room *Room, peer *Peer, pc *webrtc.PeerConnection, remote *webrtc.TrackRemote) {
	kind := KindAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = KindVideo
	}

	b := &trackBinding{kind: kind, remote: remote, pc: pc}
	producer := peer.matchPending(b)
	if producer == nil {
		logging.Debug().
			Str("session_id", room.sessionID).
			Str("kind", kind).
			Msg("track arrived before produce, parked")
		return
	}
	s.activateProducer(room, peer, producer, b)
}

// activateProducer creates the forwarding track and opens the producer
// to consumers. The forwarded track's ID is the producer ID; subscribers
// use it to attribute arriving media.
func (s *Server) activateProducer(room *Room, peer *Peer, producer *Producer, b *trackBinding) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		b.remote.Codec().RTPCodecCapability,
		producer.id,
		"emsgrid-"+room.sessionID,
	)
	if err != nil {
		logging.Err(err).
			Str("session_id", room.sessionID).
			Str("user_id", peer.info.UserID).
			Msg("create forwarding track")
		return
	}
	b.local = local
	go forwardRTP(b, producer.id)

	producer.bind(b)
	room.registerProducer(producer)
	room.broadcastExcept(peer.info.ConnID, realtime.EventNewProducer, newProducerPayload{
		ProducerID: producer.id,
		UserID:     producer.ownerUserID,
		Kind:       producer.kind,
	})
	logging.Info().
		Str("session_id", room.sessionID).
		Str("user_id", peer.info.UserID).
		Str("producer_id", producer.id).
		Str("kind", producer.kind).
		Msg("producer active")
}

// connectTransport answers the client's offer and waits for ICE
// gathering so the returned SDP carries complete candidates.
func (s *Server) connectTransport(ctx context.Context, info realtime.PeerInfo, p connectTransportPayload) (interface{}, error) {
	room, err := s.roomFor(info.ConnID)
	if err != nil {
		return nil, err
	}
	peer, ok := room.peer(info.ConnID)
	if !ok {
		return nil, ErrNotInRoom
	}
	t, ok := peer.transport(p.TransportID)
	if !ok {
		return nil, ErrUnknownTransport
	}

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.Offer.SDP,
	}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("video: set remote offer: %w", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("video: create answer: %w", err)
	}
	gatherDone := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("video: set local answer: %w", err)
	}

	select {
	case <-gatherDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	local := t.pc.LocalDescription()
	return connectTransportResult{
		Answer: sessionDescription{Type: local.Type.String(), SDP: local.SDP},
	}, nil
}

// produce announces a published stream. The producer becomes consumable
// once the matching track arrives on the send transport.
func (s *Server) produce(info realtime.PeerInfo, p producePayload) (interface{}, error) {
	if p.Kind != KindAudio && p.Kind != KindVideo {
		return nil, ErrInvalidKind
	}

	room, err := s.roomFor(info.ConnID)
	if err != nil {
		return nil, err
	}
	peer, ok := room.peer(info.ConnID)
	if !ok {
		return nil, ErrNotInRoom
	}
	t, ok := peer.transport(p.TransportID)
	if !ok {
		return nil, ErrUnknownTransport
	}
	if t.direction != DirectionSend {
		return nil, errors.New("video: produce requires a send transport")
	}

	producer := &Producer{
		id:          ulid.Make().String(),
		kind:        p.Kind,
		ownerConnID: info.ConnID,
		ownerUserID: info.UserID,
	}

	if b := peer.claimTrack(p.Kind); b != nil {
		s.activateProducer(room, peer, producer, b)
	} else {
		peer.enqueuePending(producer)
	}

	return produceResult{ProducerID: producer.id, Kind: producer.kind}, nil
}

// consume subscribes the peer to a producer over a recv transport and
// returns the server's offer. Consuming the same producer again returns
// the existing consumer without renegotiating.
func (s *Server) consume(ctx context.Context, info realtime.PeerInfo, p consumePayload) (interface{}, error) {
	room, err := s.roomFor(info.ConnID)
	if err != nil {
		return nil, err
	}
	peer, ok := room.peer(info.ConnID)
	if !ok {
		return nil, ErrNotInRoom
	}

	producer, ok := room.producer(p.ProducerID)
	if !ok {
		return nil, ErrUnknownProducer
	}
	if producer.ownerConnID == info.ConnID {
		return nil, ErrConsumeOwnStream
	}

	if existing, ok := peer.alreadyConsumed(p.ProducerID); ok {
		return consumeResult{
			ConsumerID: existing,
			ProducerID: producer.id,
			Kind:       producer.kind,
			UserID:     producer.ownerUserID,
		}, nil
	}

	t, ok := peer.transport(p.TransportID)
	if !ok {
		return nil, ErrUnknownTransport
	}
	if t.direction != DirectionRecv {
		return nil, errors.New("video: consume requires a recv transport")
	}

	track := producer.track()
	if track == nil {
		return nil, fmt.Errorf("video: producer %s has no media yet", producer.id)
	}
	if _, err := t.pc.AddTrack(track); err != nil {
		return nil, fmt.Errorf("video: add track: %w", err)
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("video: create offer: %w", err)
	}
	gatherDone := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("video: set local offer: %w", err)
	}

	select {
	case <-gatherDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c := &consumer{
		id:          ulid.Make().String(),
		producerID:  producer.id,
		transportID: t.id,
	}
	peer.addConsumer(c)

	local := t.pc.LocalDescription()
	return consumeResult{
		ConsumerID: c.id,
		ProducerID: producer.id,
		Kind:       producer.kind,
		UserID:     producer.ownerUserID,
		Offer:      sessionDescription{Type: local.Type.String(), SDP: local.SDP},
	}, nil
}

// resumeConsumer applies the client's answer and kicks the publisher for
// a keyframe so the new subscriber renders immediately.
func (s *Server) resumeConsumer(_ context.Context, info realtime.PeerInfo, p resumeConsumerPayload) (interface{}, error) {
	room, err := s.roomFor(info.ConnID)
	if err != nil {
		return nil, err
	}
	peer, ok := room.peer(info.ConnID)
	if !ok {
		return nil, ErrNotInRoom
	}
	c, ok := peer.consumerByID(p.ConsumerID)
	if !ok {
		return nil, ErrUnknownConsumer
	}
	t, ok := peer.transport(c.transportID)
	if !ok {
		return nil, ErrUnknownTransport
	}

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  p.Answer.SDP,
	}
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return nil, fmt.Errorf("video: set remote answer: %w", err)
	}

	if producer, ok := room.producer(c.producerID); ok {
		producer.requestKeyframe()
	}
	return nil, nil
}

// listProducers answers getProducers with the streams available to the
// asking peer.
func (s *Server) listProducers(info realtime.PeerInfo) (interface{}, error) {
	room, err := s.roomFor(info.ConnID)
	if err != nil {
		return nil, err
	}
	return producersResult{Producers: room.producerList(info.ConnID)}, nil
}
