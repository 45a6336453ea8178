// Package upgrade implements Component A of spec §4.A: the admission
// gate that rate-limits, parses and validates upgrade parameters,
// authenticates, and hands off to the transport upgrader.
package upgrade

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/lightningnetwork/wsrelayd/catalog"
	"github.com/lightningnetwork/wsrelayd/internal/log"
	"github.com/lightningnetwork/wsrelayd/ratelimit"
	"github.com/lightningnetwork/wsrelayd/registry"
)

var upgLog = log.Get(log.Upgrade)

// channelIDPattern is the 8-char alphanumeric channel id shape from
// spec §4.A step 3.
var channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)

// maxPeerIDLen is the cap from spec §4.A step 4.
const maxPeerIDLen = 64

// Params is the parsed-and-validated admission request (spec §4.A
// steps 2-5 having all passed).
type Params struct {
	ChannelID string
	PeerID    string
}

// Gate performs spec §4.A's five-step admission sequence. It holds no
// transport-specific state; the HTTP handler built in server.go calls
// Admit and, on success, performs the actual protocol upgrade and
// registry insertion.
type Gate struct {
	limiter *ratelimit.Limiter
	secret  string
}

// NewGate builds a Gate backed by limiter and the configured shared
// secret.
func NewGate(limiter *ratelimit.Limiter, secret string) *Gate {
	return &Gate{limiter: limiter, secret: secret}
}

// Admit runs spec §4.A steps 1-5 against r and returns the validated
// Params, or a *catalog.Error describing which step failed.
func (g *Gate) Admit(r *http.Request, sourceIP string) (*Params, *catalog.Error) {
	// Step 1: rate check.
	if !g.limiter.CheckLimit(sourceIP) {
		upgLog.Debugf("rejecting %s: rate limit exceeded", sourceIP)
		return nil, catalog.New(catalog.RateLimitExceeded, sourceIP)
	}

	// Step 2: parse params.
	q := r.URL.Query()
	channelID := q.Get("channelId")
	peerID := q.Get("peerId")
	secret := bearerOrQuerySecret(r, q)

	// Step 3: validate channelId.
	if !channelIDPattern.MatchString(channelID) {
		return nil, catalog.New(catalog.InvalidChannel, channelID)
	}

	// Step 4: validate peerId.
	trimmedPeerID := strings.TrimSpace(peerID)
	if trimmedPeerID == "" || len(trimmedPeerID) > maxPeerIDLen {
		return nil, catalog.New(catalog.InvalidPeerID, peerID)
	}

	// Step 5: constant-time secret compare. crypto/subtle is used
	// deliberately here (see SPEC_FULL.md's DOMAIN STACK table): it is
	// the one narrowly-scoped stdlib primitive nothing in the pack
	// reimplements or wraps, and a hand-rolled compare would be a
	// timing-attack bug waiting to happen.
	if secret == "" || !constantTimeEqual(secret, g.secret) {
		return nil, catalog.New(catalog.InvalidSecret, "")
	}

	return &Params{ChannelID: channelID, PeerID: trimmedPeerID}, nil
}

func bearerOrQuerySecret(r *http.Request, q map[string][]string) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	if vals, ok := q["secret"]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// constantTimeEqual compares a and b without leaking their lengths
// through branch timing: both are hashed to a fixed 32-byte digest
// first, then compared with subtle.ConstantTimeCompare.
func constantTimeEqual(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}

// WriteRejection writes the HTTP response for a rejected upgrade
// (spec §4.A: "Rejected upgrades map to HTTP responses {code, status,
// message}").
func WriteRejection(w http.ResponseWriter, err *catalog.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	body := struct {
		Code    catalog.Code `json:"code"`
		Status  int          `json:"status"`
		Message string       `json:"message"`
	}{Code: err.Code, Status: err.HTTPStatus, Message: err.Message}
	_ = json.NewEncoder(w).Encode(body)
}

// ClientInfoFromRequest extracts an optional clientInfo bag from query
// parameters prefixed with "client.", used to populate
// registry.ClientInfo at admission (spec §3's "optional clientInfo
// bag").
func ClientInfoFromRequest(r *http.Request) registry.ClientInfo {
	const prefix = "client."
	info := registry.ClientInfo{}
	for key, vals := range r.URL.Query() {
		if strings.HasPrefix(key, prefix) && len(vals) > 0 {
			info[strings.TrimPrefix(key, prefix)] = vals[0]
		}
	}
	if len(info) == 0 {
		return nil
	}
	return info
}
