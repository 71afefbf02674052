// Package pool implements the driver-wide connection multiplexer:
// one listening WebSocket endpoint shared by every spawned browser
// process, a session-keyed routing table, and a waiter mechanism that
// lets a spawner block until a specific session's READY handshake
// arrives.
package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/connection"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/protocol"
)

// DefaultHandshakeTimeout bounds how long the accept loop waits for the
// first (READY) frame on a freshly upgraded socket.
const DefaultHandshakeTimeout = 30 * time.Second

// DefaultWaitTimeout is a 30s deadline callers may pass to
// WaitForSession. WaitForSession itself applies no default: it always
// waits for exactly the timeout it is given.
const DefaultWaitTimeout = 30 * time.Second

// Pool binds exactly one TCP listener on loopback for the lifetime of a
// Driver and multiplexes every spawned browser's WebSocket connection
// through it.
type Pool struct {
	addr     string
	listener net.Listener
	server   *http.Server
	url      string
	logger   *common.Logger

	handshakeTimeout time.Duration
	connOpts         []connection.Option
	upgrader         websocket.Upgrader

	mu      sync.RWMutex
	conns   map[common.SessionId]*connection.Connection
	waiters map[common.SessionId]chan waitResult

	closeOnce sync.Once
}

type waitResult struct {
	conn *connection.Connection
	err  error
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithAddr binds the listener to a specific address instead of
// "127.0.0.1:0" (tests use this to get a deterministic port, production
// code should leave it unset so the OS assigns a free port).
func WithAddr(addr string) Option {
	return func(p *Pool) { p.addr = addr }
}

// WithHandshakeTimeout overrides DefaultHandshakeTimeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(p *Pool) { p.handshakeTimeout = d }
}

// WithConnectionOptions forwards options (e.g. shortened send/reply
// timeouts) to every Connection the pool constructs.
func WithConnectionOptions(opts ...connection.Option) Option {
	return func(p *Pool) { p.connOpts = append(p.connOpts, opts...) }
}

// WithLogger attaches a Logger; defaults to a discarding null logger.
func WithLogger(l *common.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New binds a TCP listener on loopback, starts the HTTP/WebSocket accept
// loop in the background, and returns the bound Pool. The caller must
// eventually call Close.
func New(opts ...Option) (*Pool, error) {
	p := &Pool{
		addr:             "127.0.0.1:0",
		logger:           common.NewNullLogger(),
		handshakeTimeout: DefaultHandshakeTimeout,
		upgrader:         websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:            make(map[common.SessionId]*connection.Connection),
		waiters:          make(map[common.SessionId]chan waitResult),
	}
	for _, opt := range opts {
		opt(p)
	}

	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return nil, common.NewIOError(fmt.Errorf("bind pool listener: %w", err))
	}
	p.listener = ln
	p.url = fmt.Sprintf("ws://%s", ln.Addr().String())

	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handleUpgrade)
	p.server = &http.Server{Handler: mux}

	go func() {
		if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.logger.Errorf("Pool:serve", "accept loop exited: %v", err)
		}
	}()

	return p, nil
}

// URL returns the pool's bound WebSocket base URL, e.g. "ws://127.0.0.1:54321".
func (p *Pool) URL() string { return p.url }

// WaitForSession blocks until the named session's READY handshake has
// been observed by the accept loop, or timeout elapses, or ctx is
// cancelled.
func (p *Pool) WaitForSession(ctx context.Context, id common.SessionId, timeout time.Duration) (*connection.Connection, error) {
	p.mu.Lock()
	if conn, ok := p.conns[id]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	ch := make(chan waitResult, 1)
	p.waiters[id] = ch
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.conn, res.err
	case <-timer.C:
		p.mu.Lock()
		delete(p.waiters, id)
		p.mu.Unlock()
		return nil, common.NewConnectionTimeoutError(timeout.Milliseconds())
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.waiters, id)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Send looks up the Connection for id and delegates to its Send,
// failing with SessionNotFound if the session has no live Connection.
func (p *Pool) Send(ctx context.Context, id common.SessionId, method string, tabID common.TabId, frameID common.FrameId, params interface{}) (json.RawMessage, error) {
	p.mu.RLock()
	conn, ok := p.conns[id]
	p.mu.RUnlock()
	if !ok {
		return nil, common.NewSessionNotFoundError(id)
	}
	return conn.Send(ctx, method, tabID, frameID, params)
}

// Connection returns the live Connection for id, if any.
func (p *Pool) Connection(id common.SessionId) (*connection.Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.conns[id]
	return conn, ok
}

// Remove evicts and closes the Connection for id, if present. Idempotent.
func (p *Pool) Remove(id common.SessionId) {
	p.mu.Lock()
	conn, ok := p.conns[id]
	delete(p.conns, id)
	p.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// Close stops accepting new sockets, closes every live Connection, and
// releases the listener. Idempotent.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.server.Close()

		p.mu.Lock()
		conns := make([]*connection.Connection, 0, len(p.conns))
		for id, conn := range p.conns {
			conns = append(conns, conn)
			delete(p.conns, id)
		}
		for id, waiter := range p.waiters {
			waiter <- waitResult{err: common.NewConnectionClosedError()}
			delete(p.waiters, id)
		}
		p.mu.Unlock()

		for _, conn := range conns {
			_ = conn.Close()
		}
	})
	return err
}

// handleUpgrade is the pool's single HTTP handler: it upgrades the
// request to a WebSocket, reads and validates the READY handshake, and
// inserts the new Connection into the routing table.
func (p *Pool) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warnf("Pool:handleUpgrade", "websocket upgrade failed: %v", err)
		return
	}
	go p.acceptSocket(ws)
}

func (p *Pool) acceptSocket(ws *websocket.Conn) {
	if err := ws.SetReadDeadline(time.Now().Add(p.handshakeTimeout)); err != nil {
		_ = ws.Close()
		return
	}

	_, raw, err := ws.ReadMessage()
	if err != nil {
		p.logger.Warnf("Pool:acceptSocket", "handshake read failed: %v", err)
		_ = ws.Close()
		return
	}

	frame, err := protocol.DecodeFrame(raw)
	if err != nil || frame.Response == nil || !frame.Response.IsReady() {
		p.logger.Warnf("Pool:acceptSocket", "first frame was not a READY response")
		_ = ws.Close()
		return
	}

	var payload protocol.ReadyPayload
	if err := json.Unmarshal(frame.Response.Result, &payload); err != nil {
		p.logger.Warnf("Pool:acceptSocket", "malformed READY payload: %v", err)
		_ = ws.Close()
		return
	}
	sessionID, err := common.NewSessionId(payload.SessionId)
	if err != nil {
		p.logger.Warnf("Pool:acceptSocket", "READY carried invalid sessionId: %v", err)
		_ = ws.Close()
		return
	}

	// Clear the handshake deadline before handing the socket to the
	// Connection's own reader loop, which manages its own lifetime.
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		_ = ws.Close()
		return
	}

	conn := connection.New(sessionID, ws, p.logger, p.connOpts...)

	p.mu.Lock()
	p.conns[sessionID] = conn
	waiter, hasWaiter := p.waiters[sessionID]
	delete(p.waiters, sessionID)
	p.mu.Unlock()

	if hasWaiter {
		waiter <- waitResult{conn: conn}
	}

	go func() {
		<-conn.Done()
		p.Remove(sessionID)
	}()
}
