// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package video

import "github.com/pion/webrtc/v4"

const (
	KindAudio = "audio"
	KindVideo = "video"

	DirectionSend = "send"
	DirectionRecv = "recv"
)

type joinPayload struct {
	SessionID string `json:"sessionId"`
}

type createTransportPayload struct {
	Direction string `json:"direction"`
}

type createTransportResult struct {
	TransportID string             `json:"transportId"`
	Direction   string             `json:"direction"`
	ICEServers  []webrtc.ICEServer `json:"iceServers"`
}

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type connectTransportPayload struct {
	TransportID string             `json:"transportId"`
	Offer       sessionDescription `json:"offer"`
}

type connectTransportResult struct {
	Answer sessionDescription `json:"answer"`
}

type producePayload struct {
	TransportID string `json:"transportId"`
	Kind        string `json:"kind"`
}

type produceResult struct {
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
}

type consumePayload struct {
	TransportID string `json:"transportId"`
	ProducerID  string `json:"producerId"`
}

type consumeResult struct {
	ConsumerID string             `json:"consumerId"`
	ProducerID string             `json:"producerId"`
	Kind       string             `json:"kind"`
	UserID     string             `json:"userId"`
	Offer      sessionDescription `json:"offer"`
}

type resumeConsumerPayload struct {
	ConsumerID string             `json:"consumerId"`
	Answer     sessionDescription `json:"answer"`
}

// producerInfo describes one remote stream available to consume.
type producerInfo struct {
	ProducerID string `json:"producerId"`
	UserID     string `json:"userId"`
	Kind       string `json:"kind"`
}

type producersResult struct {
	Producers []producerInfo `json:"producers"`
}

// newProducerPayload is pushed to room members when a stream appears.
type newProducerPayload struct {
	ProducerID string `json:"producerId"`
	UserID     string `json:"userId"`
	Kind       string `json:"kind"`
}

// producerClosedPayload is pushed when a stream goes away.
type producerClosedPayload struct {
	ProducerID string `json:"producerId"`
	UserID     string `json:"userId"`
}

// rtpCapabilities mirrors the router capability listing clients use to
// decide what they can publish.
type rtpCapabilities struct {
	Codecs []rtpCodecCapability `json:"codecs"`
}

type rtpCodecCapability struct {
	Kind      string `json:"kind"`
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

// routerRtpCapabilities lists the codecs the SFU forwards. Matching the
// default pion media engine: Opus for audio, VP8 and H264 for video.
func routerRtpCapabilities() rtpCapabilities {
	return rtpCapabilities{
		Codecs: []rtpCodecCapability{
			{Kind: KindAudio, MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			{Kind: KindVideo, MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			{Kind: KindVideo, MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		},
	}
}
