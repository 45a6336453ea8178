// Package transport defines the contract the core relies on from a
// host WebSocket runtime (spec §1: "the core assumes a host WS
// runtime"), plus a gorilla/websocket-backed implementation of it.
//
// The interface exists so the relay and registry code in this module
// never imports gorilla/websocket directly — they depend only on
// Conn, which keeps the tri-state send result (spec's Design Note)
// explicit instead of overloading a plain integer return.
package transport

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lightningnetwork/wsrelayd/catalog"
)

// SendStatus is the tagged result of a Conn.Send call, preserving the
// three distinct outcomes a raw send can have instead of collapsing
// them into a sentinel integer.
type SendStatus int

const (
	// Sent indicates the frame was written to the wire (or handed to
	// the OS send buffer) successfully.
	Sent SendStatus = iota
	// Queued indicates the frame was accepted but the connection is
	// applying backpressure; the socket stays open.
	Queued
	// Dropped indicates the frame could not be delivered and the
	// connection should be treated as unusable for this send.
	Dropped
)

// SendResult is returned by Conn.Send.
type SendResult struct {
	Status SendStatus
	// BytesWritten is >0 only when Status == Sent.
	BytesWritten int
}

// Conn is the per-socket handle the core operates on. It is
// deliberately narrow: upgrade/TLS/HTTP framing, idle timeouts, and
// max-payload enforcement all live on the host runtime side of this
// interface, per spec §1.
type Conn interface {
	// Send writes a single text frame. It must not block past the
	// host runtime's own write deadline; backpressure is surfaced via
	// SendResult.Status rather than by blocking the caller
	// indefinitely, since sends happen after a registry lock has
	// already been released (spec §5's suspension-point rule).
	Send(frame []byte) SendResult

	// Close closes the connection with the given application close
	// code and reason string (spec's 4xxx close-code range).
	Close(code int, reason string) error

	// RemoteIP returns the source IP used for rate limiting (spec
	// §4.B). It is stable for the lifetime of the connection.
	RemoteIP() string
}

// GorillaConn adapts a *websocket.Conn to Conn. Writes are serialized
// internally because gorilla/websocket forbids concurrent writers on
// a single connection, which the registry's lock-release-then-send
// pattern (spec §5) would otherwise violate under fan-out.
type GorillaConn struct {
	ws       *websocket.Conn
	writeMu  chan struct{}
	sendChan chan []byte
	closed   chan struct{}
}

// NewGorillaConn wraps ws and starts its internal write pump. writeTimeout
// bounds each individual frame write; queueDepth bounds how many
// frames may be buffered before a send is reported Dropped instead of
// Queued.
func NewGorillaConn(ws *websocket.Conn, writeTimeout time.Duration, queueDepth int) *GorillaConn {
	c := &GorillaConn{
		ws:       ws,
		writeMu:  make(chan struct{}, 1),
		sendChan: make(chan []byte, queueDepth),
		closed:   make(chan struct{}),
	}
	c.writeMu <- struct{}{}
	go c.writePump(writeTimeout)
	return c
}

func (c *GorillaConn) writePump(writeTimeout time.Duration) {
	for {
		select {
		case frame := <-c.sendChan:
			<-c.writeMu
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.ws.WriteMessage(websocket.TextMessage, frame)
			c.writeMu <- struct{}{}
		case <-c.closed:
			return
		}
	}
}

// Send implements Conn. A full outgoing queue is reported as Dropped;
// an accepted-but-not-yet-flushed frame is reported as Queued, never
// as a blocking call — matching spec §4.C's relayToPeer tri-state.
func (c *GorillaConn) Send(frame []byte) SendResult {
	select {
	case <-c.closed:
		return SendResult{Status: Dropped}
	default:
	}

	select {
	case c.sendChan <- frame:
		if len(c.sendChan) > 0 {
			return SendResult{Status: Queued}
		}
		return SendResult{Status: Sent, BytesWritten: len(frame)}
	default:
		return SendResult{Status: Dropped}
	}
}

// Close implements Conn.
func (c *GorillaConn) Close(code int, reason string) error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}

	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
	return c.ws.Close()
}

// ReadMessage blocks for the next inbound frame. Only the
// connection's own read goroutine should call this; it is the read
// half of the socket and is not protected by writeMu since
// gorilla/websocket allows exactly one concurrent reader and one
// concurrent writer.
func (c *GorillaConn) ReadMessage() (messageType int, data []byte, err error) {
	return c.ws.ReadMessage()
}

// ConfigureIdleTimeout arms the read deadline and extends it on every
// pong, implementing the transport-level idle timeout spec §1 assumes
// ("idle timeout") and spec §5 attributes to the host runtime.
func (c *GorillaConn) ConfigureIdleTimeout(d time.Duration) {
	_ = c.ws.SetReadDeadline(time.Now().Add(d))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(d))
	})
}

// RemoteIP implements Conn.
func (c *GorillaConn) RemoteIP() string {
	addr := c.ws.RemoteAddr()
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Upgrader wraps websocket.Upgrader with the options spec.md's
// Configuration table names (permessage-deflate, max payload).
type Upgrader struct {
	inner          websocket.Upgrader
	maxMessageSize int64
}

// NewUpgrader builds an Upgrader honoring maxMessageSize and whether
// permessage-deflate compression is enabled.
func NewUpgrader(maxMessageSize int64, compression bool) *Upgrader {
	return &Upgrader{
		inner: websocket.Upgrader{
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: compression,
			CheckOrigin:       func(r *http.Request) bool { return true },
			Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
				entry := catalog.MustLookup(catalog.UpgradeFailed)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(entry.HTTPStatus)
				_ = json.NewEncoder(w).Encode(struct {
					Code    catalog.Code `json:"code"`
					Status  int          `json:"status"`
					Message string       `json:"message"`
				}{Code: entry.Code, Status: entry.HTTPStatus, Message: entry.Message})
			},
		},
		maxMessageSize: maxMessageSize,
	}
}

// Upgrade performs the HTTP-to-WebSocket upgrade and wraps the result
// in a GorillaConn. Called only after the upgrade.Gate has completed
// every admission check (spec §4.A steps 1-5); the underlying upgrade
// failing at this point is answered with an HTTP 500
// catalog.UpgradeFailed JSON body and returns the error. The connection's
// read limit is armed to maxMessageSize so the host runtime itself
// enforces spec §1's max-payload bound (gorilla fails the read and
// closes the connection before message.Parse ever sees an oversize
// frame), rather than leaving size enforcement solely to the pipeline.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, writeTimeout time.Duration, queueDepth int) (*GorillaConn, error) {
	ws, err := u.inner.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(u.maxMessageSize)
	return NewGorillaConn(ws, writeTimeout, queueDepth), nil
}

