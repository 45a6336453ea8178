// Package relay implements Component F of spec §4.F: building the
// three server-originated system message types (ready, peer, error)
// and Component E's routing step (spec §4.E step 5), tying the
// message pipeline to the channel registry.
package relay

import (
	"encoding/json"

	"github.com/lightningnetwork/wsrelayd/catalog"
	"github.com/lightningnetwork/wsrelayd/internal/log"
	"github.com/lightningnetwork/wsrelayd/message"
	"github.com/lightningnetwork/wsrelayd/registry"
)

var relayLog = log.Get(log.Relay)

// ErrorCounter is the narrow interface the relay layer needs from the
// registry to bump per-code counters (spec §4.E: "all validation
// failures increment the corresponding per-code counter"). Injecting
// this at construction breaks the circular reference spec §9 calls
// out between the error handler and the registry, instead of a
// late-bound setter.
type ErrorCounter interface {
	IncrementError(code catalog.Code)
}

// frame is the wire shape shared by ready/peer/error (spec §6).
type frame struct {
	Header  message.Header `json:"header"`
	Payload interface{}    `json:"payload"`
}

func newFrame(typ message.Type, payload interface{}) frame {
	return frame{
		Header: message.Header{
			Type:      typ,
			ID:        message.NewID(),
			Timestamp: message.NowISO8601(),
		},
		Payload: payload,
	}
}

// ReadyPayload is spec §4.F/§6's `ready` payload.
type ReadyPayload struct {
	PeerID    string       `json:"peerId"`
	ChannelID string       `json:"channelId"`
	Peer      *PeerSummary `json:"peer"`
}

// PeerSummary is the {peerId, metadata?} shape nested in ReadyPayload
// and used to describe the other side of the pair.
type PeerSummary struct {
	PeerID   string                 `json:"peerId"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PeerEventPayload is spec §4.F/§6's `peer` payload.
type PeerEventPayload struct {
	PeerID   string                 `json:"peerId"`
	Event    string                 `json:"event"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ErrorPayload is spec §4.F/§6's `error` payload.
type ErrorPayload struct {
	Code      catalog.Code `json:"code"`
	Message   string       `json:"message"`
	MessageID string       `json:"messageId,omitempty"`
	Details   string       `json:"details,omitempty"`
}

// BuildReady builds the `ready` frame emitted once to a peer
// immediately after admission (spec §4.F). existing is nil when the
// newcomer is the first peer in the channel.
func BuildReady(peerID, channelID string, existing *registry.Peer) []byte {
	payload := ReadyPayload{PeerID: peerID, ChannelID: channelID}
	if existing != nil {
		payload.Peer = &PeerSummary{
			PeerID:   existing.PeerID,
			Metadata: map[string]interface{}(existing.ClientInfo),
		}
	}
	return mustMarshal(newFrame(message.Type("ready"), payload))
}

// BuildPeerJoined builds the `peer` frame with event "joined" sent to
// the already-present side when a second peer is admitted (spec
// §4.F, and the open question in spec §9 resolved in favor of
// notifying only the existing side here; the newcomer learns of the
// existing peer through its own `ready` frame).
func BuildPeerJoined(newPeerID string, clientInfo registry.ClientInfo) []byte {
	payload := PeerEventPayload{
		PeerID:   newPeerID,
		Event:    "joined",
		Metadata: map[string]interface{}(clientInfo),
	}
	return mustMarshal(newFrame(message.Type("peer"), payload))
}

// BuildPeerLeft builds the `peer` frame with event "left", reason
// connection_closed, sent to the survivor (spec §4.C removePeer step
// 3, §4.F).
func BuildPeerLeft(leftPeerID string) []byte {
	payload := PeerEventPayload{
		PeerID:   leftPeerID,
		Event:    "left",
		Metadata: map[string]interface{}{"reason": "connection_closed"},
	}
	return mustMarshal(newFrame(message.Type("peer"), payload))
}

// BuildError builds an `error` frame (spec §4.F, §6).
func BuildError(code catalog.Code, messageID, details string) []byte {
	entry := catalog.MustLookup(code)
	payload := ErrorPayload{
		Code:      code,
		Message:   entry.Message,
		MessageID: messageID,
		Details:   details,
	}
	return mustMarshal(newFrame(message.Type("error"), payload))
}

func mustMarshal(f frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		// Every frame built by this package is a fixed, JSON-safe
		// struct; a marshal failure here would be a programming bug,
		// not a runtime condition callers can recover from.
		panic("relay: failed to marshal server-originated frame: " + err.Error())
	}
	return b
}

// Dispatcher ties the message pipeline's decoded envelope to the
// registry's relay operation, implementing spec §4.E step 5's routing
// table.
type Dispatcher struct {
	reg      *registry.Registry
	counters ErrorCounter
}

// NewDispatcher builds a Dispatcher over reg, using counters to bump
// per-code error counts.
func NewDispatcher(reg *registry.Registry, counters ErrorCounter) *Dispatcher {
	return &Dispatcher{reg: reg, counters: counters}
}

// Outcome describes what the caller (the connection's message-read
// loop) should do after Dispatch returns.
type Outcome struct {
	// ErrorFrame is non-nil when an `error` frame must be sent to the
	// sender.
	ErrorFrame []byte
	// Code is set alongside ErrorFrame so the caller can look up
	// whether the error is recoverable (spec §7).
	Code catalog.Code
	// Relayed is true only when RelayToPeer actually forwarded raw to
	// a peer (Sent or Queued); a silently-dropped ack or a missing
	// peer leaves this false, so the caller can count a relay only
	// when one happened.
	Relayed bool
}

// Dispatch implements spec §4.E step 5: data/control require a peer
// (missing peer -> recoverable NO_PEER_CONNECTED); ack silently drops
// when no peer is present, never surfacing an error (spec §9's
// resolved open question).
func (d *Dispatcher) Dispatch(channelID, senderID string, env *message.Envelope, raw []byte, messageID string) Outcome {
	switch env.Header.Type {
	case message.TypeAck:
		if !d.reg.HasPeer(channelID, senderID) {
			relayLog.Debugf("dropping ack %s: no peer in channel %s", messageID, channelID)
			return Outcome{}
		}
		result := d.reg.RelayToPeer(channelID, senderID, raw)
		return Outcome{Relayed: result.Sent}

	case message.TypeData, message.TypeControl:
		if !d.reg.HasPeer(channelID, senderID) {
			d.counters.IncrementError(catalog.NoPeerConnected)
			return Outcome{
				ErrorFrame: BuildError(catalog.NoPeerConnected, messageID, "no peer connected"),
				Code:       catalog.NoPeerConnected,
			}
		}

		result := d.reg.RelayToPeer(channelID, senderID, raw)
		if result.Status == registry.RelayDropped {
			d.counters.IncrementError(catalog.NoPeerConnected)
			return Outcome{
				ErrorFrame: BuildError(catalog.NoPeerConnected, messageID, "peer disconnected"),
				Code:       catalog.NoPeerConnected,
			}
		}
		return Outcome{Relayed: result.Sent}

	default:
		d.counters.IncrementError(catalog.InvalidMessage)
		return Outcome{
			ErrorFrame: BuildError(catalog.InvalidMessage, messageID, "unknown message type"),
			Code:       catalog.InvalidMessage,
		}
	}
}
