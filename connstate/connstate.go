// Package connstate implements the per-socket state machine of spec
// §4.D: admitted -> ready -> closing. A Machine is attached to one
// socket for its entire lifetime and mutated only from that socket's
// own event handlers, which the host WS runtime serializes per spec
// §5 ("ConnectionData.phase is mutated only from its own event
// handlers").
package connstate

import (
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/wsrelayd/registry"
)

// Phase is one of the three states named in spec §3/§4.D.
type Phase int32

const (
	Admitted Phase = iota
	Ready
	Closing
)

func (p Phase) String() string {
	switch p {
	case Admitted:
		return "admitted"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Machine is the ConnectionData record of spec §3, plus the phase
// field mutation helpers of §4.D. Phase is stored atomically only so
// read-only observers (e.g. a future /stats detail view) can snapshot
// it without racing; the single-writer discipline from spec §5 is the
// thing that actually makes that mutation safe, not the atomic type
// itself.
type Machine struct {
	ChannelID   string
	PeerID      string
	ConnectedAt time.Time
	ClientInfo  registry.ClientInfo

	phase int32
}

// New creates a Machine in the Admitted phase, the initial state
// named in spec §4.D.
func New(channelID, peerID string, clientInfo registry.ClientInfo) *Machine {
	return &Machine{
		ChannelID:   channelID,
		PeerID:      peerID,
		ConnectedAt: time.Now(),
		ClientInfo:  clientInfo,
		phase:       int32(Admitted),
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return Phase(atomic.LoadInt32(&m.phase))
}

// Advance transitions the machine to next. Callers are expected to
// only call this from the socket's own event handler, per the
// single-writer rule; Advance does not itself validate that the
// transition is legal, since the legal transitions are encoded in the
// event handlers in server.go (handleWS and onClose), not here.
func (m *Machine) Advance(next Phase) {
	atomic.StoreInt32(&m.phase, int32(next))
}

// IsReady reports whether the machine may accept inbound application
// frames (spec §4.D: only the `ready` phase dispatches messages).
func (m *Machine) IsReady() bool {
	return m.Phase() == Ready
}
