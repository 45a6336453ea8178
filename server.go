package main

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/wsrelayd/catalog"
	"github.com/lightningnetwork/wsrelayd/connstate"
	"github.com/lightningnetwork/wsrelayd/internal/appctx"
	"github.com/lightningnetwork/wsrelayd/internal/log"
	"github.com/lightningnetwork/wsrelayd/message"
	"github.com/lightningnetwork/wsrelayd/relay"
	"github.com/lightningnetwork/wsrelayd/transport"
	"github.com/lightningnetwork/wsrelayd/upgrade"
)

var srvrLog = log.Get(log.Server)

// writeTimeout bounds a single outbound frame write, and
// relayQueueDepth bounds how many frames may be buffered per
// connection before a send is reported Dropped (spec §4.C's
// tri-state).
const (
	writeTimeout    = 10 * time.Second
	relayQueueDepth = 32
)

// counters implements relay.ErrorCounter by fanning out to both the
// registry's own counters (the source of truth for GET /stats, spec
// §4.C getStats) and the Prometheus counters (SPEC_FULL.md's
// additional scrape-able surface). This is the counter interface
// injected at construction that spec §9 calls for, replacing a
// late-bound setter between the error handler and the registry.
type counters struct {
	ctx *appctx.Context
}

func (c counters) IncrementError(code catalog.Code) {
	c.ctx.Registry.IncrementError(code)
	c.ctx.Metrics.IncrementError(code)
}

// server is the core of wsrelayd: the HTTP listener, the upgrade
// gate, and the connection lifecycle, mirroring the shape of the
// teacher's server.go (started/shutdown atomics, a wg for helper
// goroutines, Start/Stop/WaitForShutdown).
type server struct {
	started  int32
	shutdown int32

	cfg *config
	ctx *appctx.Context

	gate       *upgrade.Gate
	upgrader   *transport.Upgrader
	dispatcher *relay.Dispatcher

	httpServer *http.Server

	wg sync.WaitGroup
}

// newServer wires the application context into the upgrade gate,
// transport upgrader, and relay dispatcher, mirroring lnd's
// newServer(...) constructor-injection pattern.
func newServer(cfg *config, actx *appctx.Context) *server {
	s := &server{
		cfg:        cfg,
		ctx:        actx,
		gate:       upgrade.NewGate(actx.Limiter, actx.Config.ServerSecret),
		upgrader:   transport.NewUpgrader(int64(actx.Config.MaxMessageSize), actx.Config.Compression),
		dispatcher: relay.NewDispatcher(actx.Registry, counters{ctx: actx}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler: mux,
	}

	return s
}

// Start begins listening, mirroring lnd.go's server.Start() pattern
// of an atomic guard plus a goroutine per listener.
func (s *server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		srvrLog.Infof("listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvrLog.Errorf("http server exited: %v", err)
		}
	}()

	return nil
}

// Shutdown implements spec §5's shutdown sequence: closeAll, then
// rateLimiter.stop(), then drain the HTTP server, with a watchdog
// that force-returns if shutdown doesn't complete in time.
func (s *server) Shutdown(parent context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return nil
	}

	closeResult := s.ctx.Registry.CloseAll(1001, "Server shutting down")
	srvrLog.Infof("closed %d connections (%d errors) during shutdown",
		closeResult.ClosedCount, len(closeResult.Errors))

	s.ctx.Limiter.Stop()

	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.httpServer.Shutdown(ctx) }()

	select {
	case err := <-done:
		s.wg.Wait()
		return err
	case <-ctx.Done():
		srvrLog.Warnf("shutdown watchdog fired before drain completed")
		return ctx.Err()
	}
}

// handleWS implements the HTTP entry point for spec §4.A (admission)
// and §4.D (the admitted->ready transition on socket open).
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	sourceIP := remoteIP(r)

	params, admitErr := s.gate.Admit(r, sourceIP)
	if admitErr != nil {
		s.ctx.Registry.IncrementError(admitErr.Code)
		s.ctx.Metrics.IncrementError(admitErr.Code)
		upgrade.WriteRejection(w, admitErr)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, writeTimeout, relayQueueDepth)
	if err != nil {
		srvrLog.Errorf("upgrade failed for channel=%s peer=%s: %v",
			params.ChannelID, params.PeerID, err)
		return
	}
	conn.ConfigureIdleTimeout(time.Duration(s.cfg.IdleTimeoutSec) * time.Second)

	clientInfo := upgrade.ClientInfoFromRequest(r)
	machine := connstate.New(params.ChannelID, params.PeerID, clientInfo)

	addResult, err := s.ctx.Registry.AddPeer(params.ChannelID, params.PeerID, conn, clientInfo)
	if err != nil {
		// AddPeer has already bumped the registry's counter for this
		// code; only the Prometheus counter is updated here.
		catErr := err.(*catalog.Error)
		s.ctx.Metrics.IncrementError(catErr.Code)
		frame := relay.BuildError(catErr.Code, "", catErr.Detail)
		conn.Send(frame)
		_ = conn.Close(catErr.CloseCode, catErr.Message)
		return
	}

	machine.Advance(connstate.Ready)

	// spec §4.F: `ready` precedes every other server-originated frame
	// on this connection.
	conn.Send(relay.BuildReady(params.PeerID, params.ChannelID, addResult.ExistingPeer))

	if addResult.Join != nil {
		notifyPeer := s.ctx.Registry.GetPeer(params.ChannelID, addResult.Join.NewPeerID)
		if notifyPeer != nil {
			notifyPeer.Conn.Send(relay.BuildPeerJoined(addResult.Join.NewPeerID, addResult.Join.NewClientInfo))
		}
	}

	s.readLoop(conn, machine)
}

// readLoop implements spec §4.E's per-frame pipeline for the lifetime
// of a ready connection, and spec §4.D's ready->closing transition on
// socket close.
func (s *server) readLoop(conn *transport.GorillaConn, machine *connstate.Machine) {
	defer s.onClose(conn, machine)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.ConfigureIdleTimeout(time.Duration(s.cfg.IdleTimeoutSec) * time.Second)

		if !machine.IsReady() {
			continue
		}

		s.handleFrame(conn, machine, raw)
	}
}

func (s *server) handleFrame(conn transport.Conn, machine *connstate.Machine, raw []byte) {
	env, rawOut, parseErr := message.Parse(raw, int(s.ctx.Config.MaxMessageSize))
	if parseErr != nil {
		s.ctx.Registry.IncrementError(parseErr.Code)
		s.ctx.Metrics.IncrementError(parseErr.Code)
		conn.Send(relay.BuildError(parseErr.Code, "", parseErr.Detail))
		if !parseErr.Recoverable {
			_ = conn.Close(parseErr.CloseCode, parseErr.Message)
		}
		return
	}

	if _, valErr := message.ValidatePayload(env); valErr != nil {
		s.ctx.Registry.IncrementError(valErr.Code)
		s.ctx.Metrics.IncrementError(valErr.Code)
		conn.Send(relay.BuildError(valErr.Code, env.Header.ID, valErr.Detail))
		if !valErr.Recoverable {
			_ = conn.Close(valErr.CloseCode, valErr.Message)
		}
		return
	}

	outcome := s.dispatcher.Dispatch(machine.ChannelID, machine.PeerID, env, rawOut, env.Header.ID)
	if outcome.ErrorFrame != nil {
		conn.Send(outcome.ErrorFrame)
		entry := catalog.MustLookup(outcome.Code)
		if !entry.Recoverable {
			_ = conn.Close(entry.CloseCode, entry.Message)
		}
		return
	}

	if outcome.Relayed {
		s.ctx.Metrics.AddRelayed(len(rawOut))
	}
}

// onClose implements spec §4.D's ready->closing handler: removePeer,
// and if a survivor remains, notify it (spec §4.C removePeer step 3).
func (s *server) onClose(conn transport.Conn, machine *connstate.Machine) {
	machine.Advance(connstate.Closing)

	leave := s.ctx.Registry.RemovePeer(machine.ChannelID, machine.PeerID, conn)
	if leave == nil {
		return
	}

	survivor := s.ctx.Registry.GetPeer(machine.ChannelID, leave.LeftPeerID)
	if survivor != nil {
		survivor.Conn.Send(relay.BuildPeerLeft(leave.LeftPeerID))
	}
}

// statsResponse is the JSON body for GET /stats.
type statsResponse struct {
	Channels         int                     `json:"channels"`
	Peers            int                     `json:"peers"`
	MessagesRelayed  uint64                  `json:"messagesRelayed"`
	BytesTransferred uint64                  `json:"bytesTransferred"`
	Errors           map[catalog.Code]uint64 `json:"errors"`
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !bearerAuthorized(r, s.cfg.ServerSecret) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	stats := s.ctx.Registry.GetStats()
	resp := statsResponse{
		Channels:         stats.Channels,
		Peers:            stats.Peers,
		MessagesRelayed:  stats.MessagesRelayed,
		BytesTransferred: stats.BytesTransferred,
		Errors:           stats.Errors,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    "ok",
		Timestamp: message.NowISO8601(),
	})
}

func bearerAuthorized(r *http.Request, secret string) bool {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	provided := strings.TrimPrefix(auth, prefix)
	ph := sha256.Sum256([]byte(provided))
	sh := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare(ph[:], sh[:]) == 1
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
