package upgrade

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/wsrelayd/catalog"
	"github.com/lightningnetwork/wsrelayd/ratelimit"
)

func newGate(t *testing.T) *Gate {
	t.Helper()
	l := ratelimit.New(1000, time.Minute)
	t.Cleanup(l.Stop)
	return NewGate(l, "correct-secret")
}

func request(query string) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/ws?"+query, nil)
}

func TestAdmit_Happy(t *testing.T) {
	g := newGate(t)
	r := request("channelId=ABCD1234&peerId=alice&secret=correct-secret")

	params, err := g.Admit(r, "10.0.0.1")
	require.Nil(t, err)
	require.Equal(t, "ABCD1234", params.ChannelID)
	require.Equal(t, "alice", params.PeerID)
}

func TestAdmit_SecretViaBearerHeader(t *testing.T) {
	g := newGate(t)
	r := request("channelId=ABCD1234&peerId=alice")
	r.Header.Set("Authorization", "Bearer correct-secret")

	_, err := g.Admit(r, "10.0.0.2")
	require.Nil(t, err)
}

func TestAdmit_InvalidChannelID(t *testing.T) {
	g := newGate(t)
	for _, channelID := range []string{"short", "has-dash!!", "toolongchannelidvalue"} {
		r := request("channelId=" + channelID + "&peerId=alice&secret=correct-secret")
		_, err := g.Admit(r, "10.0.0.3")
		require.NotNil(t, err)
		require.Equal(t, catalog.InvalidChannel, err.Code)
	}
}

func TestAdmit_InvalidPeerID(t *testing.T) {
	g := newGate(t)

	r := request("channelId=ABCD1234&peerId=&secret=correct-secret")
	_, err := g.Admit(r, "10.0.0.4")
	require.NotNil(t, err)
	require.Equal(t, catalog.InvalidPeerID, err.Code)

	longID := make([]byte, 65)
	for i := range longID {
		longID[i] = 'a'
	}
	r2 := request("channelId=ABCD1234&peerId=" + string(longID) + "&secret=correct-secret")
	_, err = g.Admit(r2, "10.0.0.5")
	require.NotNil(t, err)
	require.Equal(t, catalog.InvalidPeerID, err.Code)
}

func TestAdmit_InvalidSecret(t *testing.T) {
	g := newGate(t)
	r := request("channelId=ABCD1234&peerId=alice&secret=wrong")

	_, err := g.Admit(r, "10.0.0.6")
	require.NotNil(t, err)
	require.Equal(t, catalog.InvalidSecret, err.Code)
}

func TestAdmit_RateLimited(t *testing.T) {
	l := ratelimit.New(1, time.Minute)
	defer l.Stop()
	g := NewGate(l, "correct-secret")

	r := request("channelId=ABCD1234&peerId=alice&secret=correct-secret")
	_, err := g.Admit(r, "10.0.0.7")
	require.Nil(t, err)

	r2 := request("channelId=ABCD1234&peerId=bob&secret=correct-secret")
	_, err = g.Admit(r2, "10.0.0.7")
	require.NotNil(t, err)
	require.Equal(t, catalog.RateLimitExceeded, err.Code)
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, constantTimeEqual("same", "same"))
	require.False(t, constantTimeEqual("same", "different-length-value"))
	require.False(t, constantTimeEqual("abc", "abd"))
}

func TestClientInfoFromRequest(t *testing.T) {
	r := request("channelId=ABCD1234&peerId=alice&client.platform=ios&client.version=1.0")
	info := ClientInfoFromRequest(r)
	require.Equal(t, "ios", info["platform"])
	require.Equal(t, "1.0", info["version"])
}

func TestClientInfoFromRequest_EmptyIsNil(t *testing.T) {
	r := request("channelId=ABCD1234&peerId=alice")
	require.Nil(t, ClientInfoFromRequest(r))
}
