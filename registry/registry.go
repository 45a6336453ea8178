// Package registry implements the channel/peer registry described in
// spec §4.C: a map of channelId -> Channel, each Channel holding at
// most PeersPerChannel live Peers, with the at-most-two-peers and
// unique-peer-id invariants enforced under lock.
//
// The locking discipline follows spec §5: the top-level mutex guards
// channel creation/deletion (to preserve the MAX_CHANNELS invariant);
// sends are always performed after the lock has been released, in the
// style of lnd's peer/server registries in server.go, which hand off
// collected targets before doing any blocking I/O.
package registry

import (
	"sync"
	"time"

	"github.com/lightningnetwork/wsrelayd/catalog"
	"github.com/lightningnetwork/wsrelayd/internal/log"
	"github.com/lightningnetwork/wsrelayd/transport"
)

// PeersPerChannel is the hard cap on live peers in a single channel
// (spec §3).
const PeersPerChannel = 2

var regLog = log.Get(log.Registry)

// ClientInfo is the optional platform/version/arbitrary-key-value bag
// a peer may attach at admission (spec §3, ConnectionData.clientInfo).
type ClientInfo map[string]interface{}

// Peer is a live connection belonging to exactly one channel.
type Peer struct {
	PeerID      string
	Conn        transport.Conn
	ConnectedAt time.Time
	ClientInfo  ClientInfo
}

// Channel is the logical pairing room (spec §3).
type Channel struct {
	ChannelID string
	CreatedAt time.Time
	peers     map[string]*Peer
}

// Stats is a point-in-time snapshot of registry-wide counters (spec
// §4.C getStats, §3 invariant 4: MessagesRelayed, BytesTransferred
// and the per-code Errors only ever grow for the process lifetime;
// Channels and Peers reflect live state and go up and down).
type Stats struct {
	Channels         int
	Peers            int
	MessagesRelayed  uint64
	BytesTransferred uint64
	Errors           map[catalog.Code]uint64
}

// JoinEvent describes a peer-joined notification the caller (the
// connection state machine / relay package) must deliver after a
// successful AddPeer. At most one JoinEvent is ever produced by one
// AddPeer call (the open-question in spec §9 resolved as: notify the
// existing peer about the newcomer via `peer(joined)`; the newcomer
// itself learns about the existing peer through its own `ready`
// frame, built by the caller from ExistingPeer).
type JoinEvent struct {
	// NotifyPeerID is the peer that should receive a peer(joined)
	// frame about NewPeerID.
	NotifyPeerID string
	NewPeerID    string
	NewClientInfo ClientInfo
}

// LeaveEvent describes a peer-left notification to deliver after a
// successful RemovePeer.
type LeaveEvent struct {
	NotifyPeerID string
	LeftPeerID   string
}

// AddResult is returned by AddPeer on success.
type AddResult struct {
	TotalPeers int
	// ExistingPeer is non-nil when a peer was already present in the
	// channel; the caller uses it to build the `ready` frame's `peer`
	// field (spec §4.F).
	ExistingPeer *Peer
	// Join is non-nil when the registry now has two peers and a
	// peer(joined) notification must be sent to ExistingPeer.
	Join *JoinEvent
}

// Registry is the concurrency-safe channel/peer map. The zero value
// is not usable; construct with New.
type Registry struct {
	mu          sync.Mutex
	channels    map[string]*Channel
	maxChannels int

	messagesRelayed  uint64
	bytesTransferred uint64
	errorCounts      map[catalog.Code]uint64
}

// New builds an empty Registry capped at maxChannels live channels
// (spec §3 invariant 2, configured via MAX_CHANNELS).
func New(maxChannels int) *Registry {
	return &Registry{
		channels:    make(map[string]*Channel),
		maxChannels: maxChannels,
		errorCounts: make(map[catalog.Code]uint64),
	}
}

// AddPeer implements spec §4.C's addPeer algorithm.
func (r *Registry) AddPeer(channelID, peerID string, conn transport.Conn, info ClientInfo) (*AddResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if !ok {
		if len(r.channels) >= r.maxChannels {
			r.incrementErrorLocked(catalog.MaxChannelsReached)
			return nil, catalog.New(catalog.MaxChannelsReached, channelID)
		}
		ch = &Channel{
			ChannelID: channelID,
			CreatedAt: time.Now(),
			peers:     make(map[string]*Peer),
		}
		r.channels[channelID] = ch
	}

	if len(ch.peers) >= PeersPerChannel {
		r.incrementErrorLocked(catalog.ChannelFull)
		return nil, catalog.New(catalog.ChannelFull, channelID)
	}

	if _, dup := ch.peers[peerID]; dup {
		r.incrementErrorLocked(catalog.DuplicatePeerID)
		return nil, catalog.New(catalog.DuplicatePeerID, peerID)
	}

	var existing *Peer
	for _, p := range ch.peers {
		existing = p
		break
	}

	ch.peers[peerID] = &Peer{
		PeerID:      peerID,
		Conn:        conn,
		ConnectedAt: time.Now(),
		ClientInfo:  info,
	}

	result := &AddResult{
		TotalPeers:   len(ch.peers),
		ExistingPeer: existing,
	}
	if len(ch.peers) == PeersPerChannel && existing != nil {
		result.Join = &JoinEvent{
			NotifyPeerID:  existing.PeerID,
			NewPeerID:     peerID,
			NewClientInfo: info,
		}
	}

	regLog.Debugf("peer %s joined channel %s (total=%d)", peerID, channelID, result.TotalPeers)

	return result, nil
}

// RemovePeer implements spec §4.C's removePeer algorithm, including
// the tombstone check that protects a legitimate peer from a rejected
// duplicate-id attempt's close event.
func (r *Registry) RemovePeer(channelID, peerID string, conn transport.Conn) *LeaveEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return nil
	}

	p, ok := ch.peers[peerID]
	if !ok {
		return nil
	}

	// Tombstone check: a stale/duplicate socket closing must never
	// evict the legitimate peer's record.
	if p.Conn != conn {
		return nil
	}

	delete(ch.peers, peerID)
	regLog.Debugf("peer %s left channel %s (remaining=%d)", peerID, channelID, len(ch.peers))

	var leave *LeaveEvent
	if len(ch.peers) == 1 {
		for _, survivor := range ch.peers {
			leave = &LeaveEvent{NotifyPeerID: survivor.PeerID, LeftPeerID: peerID}
		}
	}

	if len(ch.peers) == 0 {
		delete(r.channels, channelID)
	}

	return leave
}

// GetPeer returns the peer in channelID other than excludePeerID, or
// nil if none exists (spec §4.C getPeer).
func (r *Registry) GetPeer(channelID, excludePeerID string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return nil
	}
	for id, p := range ch.peers {
		if id != excludePeerID {
			return p
		}
	}
	return nil
}

// HasPeer reports whether a peer other than excludePeerID exists in
// channelID (spec §4.C hasPeer).
func (r *Registry) HasPeer(channelID, excludePeerID string) bool {
	return r.GetPeer(channelID, excludePeerID) != nil
}

// RelayStatus mirrors transport.SendStatus for the caller-facing
// result of RelayToPeer, so callers outside this package don't need
// to import transport just to read the outcome.
type RelayStatus int

const (
	RelaySent RelayStatus = iota
	RelayQueued
	RelayDropped
	RelayNoPeer
)

// RelayResult is returned by RelayToPeer.
type RelayResult struct {
	Sent   bool
	Status RelayStatus
}

// RelayToPeer implements spec §4.C's relayToPeer: locate the other
// peer in channelID, forward raw unchanged, and interpret the
// tri-state send result. The registry lock is released before the
// blocking Send call, per spec §5's suspension-point rule.
func (r *Registry) RelayToPeer(channelID, senderID string, raw []byte) RelayResult {
	target := r.GetPeer(channelID, senderID)
	if target == nil {
		return RelayResult{Sent: false, Status: RelayNoPeer}
	}

	res := target.Conn.Send(raw)
	switch res.Status {
	case transport.Sent:
		r.mu.Lock()
		r.messagesRelayed++
		r.bytesTransferred += uint64(len(raw))
		r.mu.Unlock()
		return RelayResult{Sent: true, Status: RelaySent}
	case transport.Queued:
		r.mu.Lock()
		r.messagesRelayed++
		r.bytesTransferred += uint64(len(raw))
		r.mu.Unlock()
		regLog.Warnf("backpressure relaying to peer %s in channel %s", target.PeerID, channelID)
		return RelayResult{Sent: true, Status: RelayQueued}
	default:
		return RelayResult{Sent: false, Status: RelayDropped}
	}
}

// CloseResult is returned by CloseAll.
type CloseResult struct {
	ClosedCount int
	Errors      []error
}

// BroadcastToAll sends raw to every connected peer across every
// channel (spec §4.C broadcastToAll), returning the recipient count.
// Targets are collected under lock and sent after release, same as
// RelayToPeer.
func (r *Registry) BroadcastToAll(raw []byte) int {
	targets := r.snapshotConns()

	sent := 0
	for _, conn := range targets {
		res := conn.Send(raw)
		if res.Status != transport.Dropped {
			sent++
		}
	}

	if sent > 0 {
		r.mu.Lock()
		r.messagesRelayed += uint64(sent)
		r.bytesTransferred += uint64(sent * len(raw))
		r.mu.Unlock()
	}

	return sent
}

// CloseAll closes every live connection with the given close code and
// reason (spec §5 shutdown: closeAll(1001, "Server shutting down")),
// collecting per-socket errors without aborting the sweep.
func (r *Registry) CloseAll(code int, reason string) CloseResult {
	targets := r.snapshotConns()

	result := CloseResult{}
	for _, conn := range targets {
		if err := conn.Close(code, reason); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.ClosedCount++
	}
	return result
}

func (r *Registry) snapshotConns() []transport.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []transport.Conn
	for _, ch := range r.channels {
		for _, p := range ch.peers {
			out = append(out, p.Conn)
		}
	}
	return out
}

// IncrementError bumps the counter for code (spec §4.C
// incrementError), used by packages that detect validation/relay
// failures but don't otherwise touch the registry, via the counter
// interface injected at construction (spec §9's broken-circular-
// reference design note).
func (r *Registry) IncrementError(code catalog.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incrementErrorLocked(code)
}

func (r *Registry) incrementErrorLocked(code catalog.Code) {
	r.errorCounts[code]++
}

// GetStats returns a snapshot of registry-wide counters (spec §4.C
// getStats), copied under lock per spec §5.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	peerCount := 0
	for _, ch := range r.channels {
		peerCount += len(ch.peers)
	}

	errs := make(map[catalog.Code]uint64, len(r.errorCounts))
	for k, v := range r.errorCounts {
		errs[k] = v
	}

	return Stats{
		Channels:         len(r.channels),
		Peers:            peerCount,
		MessagesRelayed:  r.messagesRelayed,
		BytesTransferred: r.bytesTransferred,
		Errors:           errs,
	}
}
