// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/realtime"
)

// CallState is the video call lifecycle state.
type CallState int

const (
	CallIdle CallState = iota
	CallAcquiringMedia
	CallNegotiating
	CallConnected
	CallClosing
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallAcquiringMedia:
		return "acquiring_media"
	case CallNegotiating:
		return "negotiating"
	case CallConnected:
		return "connected"
	case CallClosing:
		return "closing"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrCallActive is returned when Start is called on a non-idle call.
var ErrCallActive = errors.New("client: call already active")

// newProducerConsumeTimeout bounds the signaling for a producer that
// appears mid-call.
const newProducerConsumeTimeout = 15 * time.Second

// MediaSource supplies the local tracks to publish. Implementations wrap
// a camera/microphone capture pipeline; Close must stop the capture.
type MediaSource interface {
	AcquireTracks(ctx context.Context) ([]webrtc.TrackLocal, error)
	Close() error
}

// ProducerInfo describes one remote stream available to consume.
type ProducerInfo struct {
	ProducerID string `json:"producerId"`
	UserID     string `json:"userId"`
	Kind       string `json:"kind"`
}

// RemoteTrack is one received media track.
type RemoteTrack struct {
	Kind  string
	Track *webrtc.TrackRemote
}

// RouterCapabilities lists the codecs the SFU forwards.
type RouterCapabilities struct {
	Codecs []RouterCodec `json:"codecs"`
}

// RouterCodec is one forwardable codec.
type RouterCodec struct {
	Kind      string `json:"kind"`
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

// signaler is the slice of Client the call orchestration needs.
type signaler interface {
	Call(ctx context.Context, event string, payload, out interface{}) error
	Emit(event string, payload interface{}) error
	On(event string, fn Handler) *Subscription
}

// consumerConn is one established subscription on the shared recv
// transport.
type consumerConn struct {
	consumerID string
	producerID string
	userID     string
	kind       string
}

// Call orchestrates one SFU video call for a session. The lifecycle is
// an explicit state machine: Idle -> AcquiringMedia -> Negotiating ->
// Connected, with any failure moving through Failed back to Idle. There
// is no automatic retry; the caller starts a new call.
//
// Remote tracks are aggregated per user ID. A producer is never consumed
// twice, and a peer never consumes its own streams.
type Call struct {
	sig       signaler
	sessionID string
	userID    string

	mu      sync.Mutex
	state   CallState
	lastErr error
	onState func(CallState)

	routerCaps RouterCapabilities

	source      MediaSource
	sendPC      *webrtc.PeerConnection
	producerIDs []string

	// consumeMu serializes the consume handshake: every consume
	// renegotiates the one shared recv transport.
	consumeMu       sync.Mutex
	recvPC          *webrtc.PeerConnection
	recvTransportID string

	consumed  map[string]bool
	owners    map[string]string // producerID -> owning userID
	consumers []*consumerConn
	remote    map[string][]RemoteTrack

	subs []*Subscription
}

// NewCall builds an idle call bound to one session. userID must match
// the authenticated user so own producers are never consumed.
func NewCall(c *Client, sessionID, userID string) *Call {
	return newCall(c, sessionID, userID)
}

func newCall(sig signaler, sessionID, userID string) *Call {
	return &Call{
		sig:       sig,
		sessionID: sessionID,
		userID:    userID,
		state:     CallIdle,
		consumed:  make(map[string]bool),
		owners:    make(map[string]string),
		remote:    make(map[string][]RemoteTrack),
	}
}

// State returns the current lifecycle state.
func (cl *Call) State() CallState {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.state
}

// Err returns the failure that ended the last attempt, if any.
func (cl *Call) Err() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.lastErr
}

// Capabilities returns the router codec listing fetched during setup.
func (cl *Call) Capabilities() RouterCapabilities {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.routerCaps
}

// OnStateChange registers a single observer for state transitions.
func (cl *Call) OnStateChange(fn func(CallState)) {
	cl.mu.Lock()
	cl.onState = fn
	cl.mu.Unlock()
}

func (cl *Call) transition(to CallState) {
	cl.mu.Lock()
	cl.state = to
	fn := cl.onState
	cl.mu.Unlock()
	if fn != nil {
		fn(to)
	}
}

// Start runs the call setup handshake: acquire local media, join the
// video room, publish local tracks, subscribe to every existing producer
// and watch for new ones. Returns once Connected or after the failure
// teardown completes.
func (cl *Call) Start(ctx context.Context, source MediaSource) error {
	cl.mu.Lock()
	if cl.state != CallIdle {
		cl.mu.Unlock()
		return ErrCallActive
	}
	cl.source = source
	cl.lastErr = nil
	cl.mu.Unlock()

	cl.transition(CallAcquiringMedia)
	tracks, err := source.AcquireTracks(ctx)
	if err != nil {
		return cl.fail(fmt.Errorf("client: acquire media: %w", err))
	}

	cl.transition(CallNegotiating)
	err = cl.sig.Call(ctx, realtime.EventJoinVideoRoom, realtime.RoomPayload{SessionID: cl.sessionID}, nil)
	if err != nil {
		return cl.fail(err)
	}

	var caps RouterCapabilities
	if err := cl.sig.Call(ctx, realtime.EventGetRouterRtpCapabilities, struct{}{}, &caps); err != nil {
		return cl.fail(err)
	}
	cl.mu.Lock()
	cl.routerCaps = caps
	cl.mu.Unlock()

	if len(tracks) > 0 {
		if err := cl.setupPublish(ctx, tracks); err != nil {
			return cl.fail(err)
		}
	}

	// Watch before enumerating so a producer appearing mid-setup is not
	// missed; the consumed set makes the overlap harmless.
	cl.watchProducers()

	var existing struct {
		Producers []ProducerInfo `json:"producers"`
	}
	if err := cl.sig.Call(ctx, realtime.EventGetProducers, struct{}{}, &existing); err != nil {
		return cl.fail(err)
	}
	for _, p := range existing.Producers {
		if err := cl.consumeProducer(ctx, p); err != nil {
			return cl.fail(err)
		}
	}

	cl.transition(CallConnected)
	return nil
}

// fail records the error, tears everything down and settles back to
// Idle.
func (cl *Call) fail(err error) error {
	cl.mu.Lock()
	cl.lastErr = err
	cl.mu.Unlock()

	logging.Err(err).Str("session_id", cl.sessionID).Msg("video call failed")
	cl.transition(CallFailed)
	cl.teardown()
	cl.transition(CallIdle)
	return err
}

// Close ends the call with the ordered teardown sequence. Closing an
// idle call is a no-op.
func (cl *Call) Close() {
	cl.mu.Lock()
	if cl.state == CallIdle || cl.state == CallClosing {
		cl.mu.Unlock()
		return
	}
	cl.mu.Unlock()

	cl.transition(CallClosing)
	cl.teardown()
	cl.transition(CallIdle)
}

// teardown releases everything in order: local media first, then the
// publish and subscribe connections, then room membership, then event
// subscriptions.
func (cl *Call) teardown() {
	cl.mu.Lock()
	source := cl.source
	sendPC := cl.sendPC
	recvPC := cl.recvPC
	subs := cl.subs
	cl.source = nil
	cl.sendPC = nil
	cl.recvPC = nil
	cl.recvTransportID = ""
	cl.producerIDs = nil
	cl.consumers = nil
	cl.consumed = make(map[string]bool)
	cl.owners = make(map[string]string)
	cl.remote = make(map[string][]RemoteTrack)
	cl.subs = nil
	cl.mu.Unlock()

	if source != nil {
		if err := source.Close(); err != nil {
			logging.Warn().Err(err).Msg("close media source")
		}
	}
	if sendPC != nil {
		_ = sendPC.Close()
	}
	if recvPC != nil {
		_ = recvPC.Close()
	}
	if err := cl.sig.Emit(realtime.EventLeaveVideoRoom, realtime.RoomPayload{SessionID: cl.sessionID}); err != nil {
		logging.Warn().Err(err).Msg("leave video room")
	}
	for _, s := range subs {
		s.Close()
	}
}

// setupPublish negotiates the send transport and produces each local
// track.
func (cl *Call) setupPublish(ctx context.Context, tracks []webrtc.TrackLocal) error {
	transportID, pc, err := cl.createTransport(ctx, "send")
	if err != nil {
		return err
	}
	cl.mu.Lock()
	cl.sendPC = pc
	cl.mu.Unlock()

	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			return fmt.Errorf("client: add local track: %w", err)
		}
	}

	offer, err := localDescription(ctx, pc, true)
	if err != nil {
		return err
	}

	var connected struct {
		Answer sdpPayload `json:"answer"`
	}
	err = cl.sig.Call(ctx, realtime.EventConnectWebRtcTransport, map[string]interface{}{
		"transportId": transportID,
		"offer":       sdpPayload{Type: offer.Type.String(), SDP: offer.SDP},
	}, &connected)
	if err != nil {
		return err
	}
	err = pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  connected.Answer.SDP,
	})
	if err != nil {
		return fmt.Errorf("client: set publish answer: %w", err)
	}

	for _, track := range tracks {
		var produced struct {
			ProducerID string `json:"producerId"`
		}
		err = cl.sig.Call(ctx, realtime.EventProduce, map[string]string{
			"transportId": transportID,
			"kind":        track.Kind().String(),
		}, &produced)
		if err != nil {
			return err
		}
		cl.mu.Lock()
		cl.producerIDs = append(cl.producerIDs, produced.ProducerID)
		cl.mu.Unlock()
	}
	return nil
}

// watchProducers subscribes to mid-call producer arrivals and closures.
func (cl *Call) watchProducers() {
	newSub := cl.sig.On(realtime.EventNewProducer, decoding(realtime.EventNewProducer, func(p ProducerInfo) {
		// Handlers run on the socket read loop, and the consume RPCs
		// need that same loop to deliver their replies.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), newProducerConsumeTimeout)
			defer cancel()
			if err := cl.consumeProducer(ctx, p); err != nil {
				logging.Err(err).
					Str("producer_id", p.ProducerID).
					Msg("consume new producer")
			}
		}()
	}))

	type closedPayload struct {
		ProducerID string `json:"producerId"`
		UserID     string `json:"userId"`
	}
	closedSub := cl.sig.On(realtime.EventProducerClosed, decoding(realtime.EventProducerClosed, func(p closedPayload) {
		cl.dropProducer(p.ProducerID)
	}))

	cl.mu.Lock()
	cl.subs = append(cl.subs, newSub, closedSub)
	cl.mu.Unlock()
}

// consumeProducer subscribes to one remote stream over the shared recv
// transport. Own producers and already-consumed producers are no-ops.
// The server re-offers the whole transport on every consume, so the
// handshakes are serialized.
func (cl *Call) consumeProducer(ctx context.Context, p ProducerInfo) error {
	cl.consumeMu.Lock()
	defer cl.consumeMu.Unlock()

	if !cl.planConsume(p) {
		return nil
	}

	transportID, pc, err := cl.recvTransport(ctx)
	if err != nil {
		cl.unplanConsume(p.ProducerID)
		return err
	}

	var result struct {
		ConsumerID string     `json:"consumerId"`
		ProducerID string     `json:"producerId"`
		Kind       string     `json:"kind"`
		UserID     string     `json:"userId"`
		Offer      sdpPayload `json:"offer"`
	}
	err = cl.sig.Call(ctx, realtime.EventConsume, map[string]string{
		"transportId": transportID,
		"producerId":  p.ProducerID,
	}, &result)
	if err != nil {
		cl.unplanConsume(p.ProducerID)
		return err
	}

	err = pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  result.Offer.SDP,
	})
	if err != nil {
		cl.unplanConsume(p.ProducerID)
		return fmt.Errorf("client: set consume offer: %w", err)
	}
	answer, err := localDescription(ctx, pc, false)
	if err != nil {
		cl.unplanConsume(p.ProducerID)
		return err
	}

	err = cl.sig.Call(ctx, realtime.EventResumeConsumer, map[string]interface{}{
		"consumerId": result.ConsumerID,
		"answer":     sdpPayload{Type: answer.Type.String(), SDP: answer.SDP},
	}, nil)
	if err != nil {
		cl.unplanConsume(p.ProducerID)
		return err
	}

	cl.mu.Lock()
	cl.consumers = append(cl.consumers, &consumerConn{
		consumerID: result.ConsumerID,
		producerID: p.ProducerID,
		userID:     result.UserID,
		kind:       result.Kind,
	})
	cl.mu.Unlock()
	return nil
}

// recvTransport returns the shared subscribe transport, creating it on
// first use. Forwarded tracks carry their producer ID, which maps each
// arriving track back to the owning participant.
func (cl *Call) recvTransport(ctx context.Context) (string, *webrtc.PeerConnection, error) {
	cl.mu.Lock()
	if cl.recvPC != nil {
		id, pc := cl.recvTransportID, cl.recvPC
		cl.mu.Unlock()
		return id, pc, nil
	}
	cl.mu.Unlock()

	id, pc, err := cl.createTransport(ctx, "recv")
	if err != nil {
		return "", nil, err
	}
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		cl.mu.Lock()
		userID, ok := cl.owners[remote.ID()]
		cl.mu.Unlock()
		if !ok {
			logging.Warn().Str("track_id", remote.ID()).Msg("track without a matching consumer")
			return
		}
		cl.addRemoteTrack(userID, remote)
	})

	cl.mu.Lock()
	cl.recvTransportID = id
	cl.recvPC = pc
	cl.mu.Unlock()
	return id, pc, nil
}

// planConsume applies the consumption guards and marks the producer
// consumed. Returns false for own producers and repeats.
func (cl *Call) planConsume(p ProducerInfo) bool {
	if p.UserID == cl.userID {
		return false
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.consumed[p.ProducerID] {
		return false
	}
	cl.consumed[p.ProducerID] = true
	cl.owners[p.ProducerID] = p.UserID
	return true
}

// unplanConsume rolls the guard back after a failed handshake so a later
// announcement can claim the producer again.
func (cl *Call) unplanConsume(producerID string) {
	cl.mu.Lock()
	delete(cl.consumed, producerID)
	delete(cl.owners, producerID)
	cl.mu.Unlock()
}

// dropProducer forgets the subscription to a closed producer and removes
// its tracks. The shared recv transport stays up for the others.
func (cl *Call) dropProducer(producerID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	delete(cl.consumed, producerID)
	delete(cl.owners, producerID)

	var dropped *consumerConn
	kept := cl.consumers[:0]
	for _, c := range cl.consumers {
		if c.producerID == producerID {
			dropped = c
			continue
		}
		kept = append(kept, c)
	}
	cl.consumers = kept
	if dropped == nil {
		return
	}

	tracks := cl.remote[dropped.userID][:0]
	for _, t := range cl.remote[dropped.userID] {
		if t.Kind != dropped.kind {
			tracks = append(tracks, t)
		}
	}
	if len(tracks) == 0 {
		delete(cl.remote, dropped.userID)
	} else {
		cl.remote[dropped.userID] = tracks
	}
}

// addRemoteTrack aggregates a received track under its owner.
func (cl *Call) addRemoteTrack(userID string, track *webrtc.TrackRemote) {
	kind := "audio"
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = "video"
	}
	cl.mu.Lock()
	cl.remote[userID] = append(cl.remote[userID], RemoteTrack{Kind: kind, Track: track})
	cl.mu.Unlock()
}

// RemoteTracks returns the received tracks of one participant.
func (cl *Call) RemoteTracks(userID string) []RemoteTrack {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]RemoteTrack, len(cl.remote[userID]))
	copy(out, cl.remote[userID])
	return out
}

// Participants lists user IDs with at least one received track.
func (cl *Call) Participants() []string {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	ids := make([]string, 0, len(cl.remote))
	for id := range cl.remote {
		ids = append(ids, id)
	}
	return ids
}

// createTransport allocates a server transport and the matching local
// PeerConnection.
func (cl *Call) createTransport(ctx context.Context, direction string) (string, *webrtc.PeerConnection, error) {
	var created struct {
		TransportID string             `json:"transportId"`
		Direction   string             `json:"direction"`
		ICEServers  []webrtc.ICEServer `json:"iceServers"`
	}
	err := cl.sig.Call(ctx, realtime.EventCreateWebRtcTransport,
		map[string]string{"direction": direction}, &created)
	if err != nil {
		return "", nil, err
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: created.ICEServers})
	if err != nil {
		return "", nil, fmt.Errorf("client: create peer connection: %w", err)
	}
	return created.TransportID, pc, nil
}

// sdpPayload is the wire form of a session description.
type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// localDescription creates the local offer or answer and waits for ICE
// gathering so the SDP carries complete candidates.
func localDescription(ctx context.Context, pc *webrtc.PeerConnection, offer bool) (*webrtc.SessionDescription, error) {
	var (
		desc webrtc.SessionDescription
		err  error
	)
	if offer {
		desc, err = pc.CreateOffer(nil)
	} else {
		desc, err = pc.CreateAnswer(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("client: create description: %w", err)
	}

	gatherDone := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("client: set local description: %w", err)
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return pc.LocalDescription(), nil
}
