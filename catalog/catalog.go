// Package catalog holds the closed set of wire-facing error codes the
// relay can emit, along with the HTTP status and WebSocket close code
// each one maps to. Every rejection path in the core goes through one
// of these values rather than a raw string, so the upgrade gate, the
// message pipeline, and the relay layer stay in lockstep.
package catalog

// Code is a stable, wire-visible error identifier.
type Code string

const (
	InvalidMessage     Code = "INVALID_MESSAGE"
	MessageTooLarge    Code = "MESSAGE_TOO_LARGE"
	NoPeerConnected    Code = "NO_PEER_CONNECTED"
	InvalidSecret      Code = "INVALID_SECRET"
	InvalidChannel     Code = "INVALID_CHANNEL"
	InvalidPeerID      Code = "INVALID_PEER_ID"
	ChannelFull        Code = "CHANNEL_FULL"
	DuplicatePeerID    Code = "DUPLICATE_PEER_ID"
	RateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	MaxChannelsReached Code = "MAX_CHANNELS_REACHED"
	InternalError      Code = "INTERNAL_ERROR"
	UpgradeFailed      Code = "UPGRADE_FAILED"
)

// Entry is the full catalog record for a Code: the close code used
// when the socket must be dropped, the HTTP status used when the
// failure happens pre-upgrade, a human-readable default message, and
// whether the socket may stay open after the error frame is sent.
type Entry struct {
	Code        Code
	CloseCode   int
	HTTPStatus  int
	Message     string
	Recoverable bool
}

// table is the authoritative catalog from spec §6. Order does not
// matter; lookups go through Lookup.
var table = []Entry{
	{InvalidMessage, 4001, 400, "the message could not be parsed", true},
	{MessageTooLarge, 4002, 400, "message exceeds the maximum allowed size", true},
	{NoPeerConnected, 4003, 400, "no peer is currently connected", true},
	{InvalidSecret, 4100, 401, "invalid or missing secret", false},
	{InvalidChannel, 4101, 400, "invalid channel id", false},
	{InvalidPeerID, 4102, 400, "invalid peer id", false},
	{ChannelFull, 4200, 503, "channel already has two peers", false},
	{DuplicatePeerID, 4201, 409, "peer id already in use in this channel", false},
	{RateLimitExceeded, 4202, 429, "too many connection attempts", false},
	{MaxChannelsReached, 4203, 503, "server channel capacity reached", false},
	{InternalError, 4900, 500, "internal error", false},
	{UpgradeFailed, 0, 500, "failed to upgrade connection", false},
}

var byCode = func() map[Code]Entry {
	m := make(map[Code]Entry, len(table))
	for _, e := range table {
		m[e.Code] = e
	}
	return m
}()

// Lookup returns the catalog entry for code. The zero value, ok=false
// is returned for an unknown code, which callers should treat as
// INTERNAL_ERROR.
func Lookup(code Code) (Entry, bool) {
	e, ok := byCode[code]
	return e, ok
}

// MustLookup is Lookup but falls back to InternalError for an unknown
// code, which should never happen for a code originated inside this
// module.
func MustLookup(code Code) Entry {
	if e, ok := byCode[code]; ok {
		return e
	}
	return byCode[InternalError]
}

// Error adapts an Entry into the error interface so it can be returned
// from component operations (registry.AddPeer, etc.) and type-asserted
// back into its Code by callers that need the catalog details.
type Error struct {
	Entry
	// Detail is an optional human-readable addendum, not part of the
	// catalog table itself (e.g. which field failed validation).
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code) + ": " + e.Message + " (" + e.Detail + ")"
}

// New builds a *Error from a catalog Code, looking up its Entry.
func New(code Code, detail string) *Error {
	return &Error{Entry: MustLookup(code), Detail: detail}
}
