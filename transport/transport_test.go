package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// dialPair starts a test HTTP server that upgrades every request with
// an Upgrader built the same way the real daemon builds one, dials it
// with a plain client-side gorilla/websocket connection, and returns
// the server-side GorillaConn plus the raw client conn for assertions.
func dialPair(t *testing.T) (*GorillaConn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *GorillaConn, 1)
	upgrader := NewUpgrader(1<<20, false)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, time.Second, 2)
		require.NoError(t, err)
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	serverConn := <-connCh
	return serverConn, client
}

func TestGorillaConn_SendDeliversFrame(t *testing.T) {
	serverConn, client := dialPair(t)

	result := serverConn.Send([]byte("hello"))
	require.Contains(t, []SendStatus{Sent, Queued}, result.Status)

	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestGorillaConn_SendAfterCloseIsDropped(t *testing.T) {
	serverConn, _ := dialPair(t)

	require.NoError(t, serverConn.Close(1000, "done"))
	result := serverConn.Send([]byte("late"))
	require.Equal(t, Dropped, result.Status)
}

func TestGorillaConn_CloseIsIdempotent(t *testing.T) {
	serverConn, _ := dialPair(t)

	require.NoError(t, serverConn.Close(1000, "bye"))
	require.NoError(t, serverConn.Close(1000, "bye again"))
}

func TestGorillaConn_RemoteIP(t *testing.T) {
	serverConn, _ := dialPair(t)
	ip := serverConn.RemoteIP()
	require.NotEmpty(t, ip)
	require.NotContains(t, ip, ":")
}
