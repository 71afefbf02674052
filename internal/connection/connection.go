// Package connection implements the per-session duplex channel and the
// event dispatcher that runs inside its reader loop: a write queue, a
// pending-request table keyed by RequestId, and two event-callback
// tables (plain subscriptions and reply-requiring intercepts).
package connection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/protocol"
)

const (
	// DefaultSendTimeout is the default deadline for Send.
	DefaultSendTimeout = 30 * time.Second
	// DefaultReplyTimeout is the default deadline given to an intercept
	// decider before the connection falls back to an "allow" reply.
	DefaultReplyTimeout = 30 * time.Second

	writeQueueDepth = 64
)

// SubscriptionCallback handles a plain (fire-and-forget) event.
type SubscriptionCallback func(params json.RawMessage)

// TopicCallback handles a topic-addressed plain event, i.e. one with no
// subscriptionId in its params (browsingContext.load and siblings).
type TopicCallback func(params json.RawMessage)

// InterceptDecider handles a reply-requiring network event and returns
// the decision to send back as an EventReply.
type InterceptDecider func(params json.RawMessage) protocol.Decision

type pendingSlot struct {
	result json.RawMessage
	err    *common.Error
}

// Connection is a per-session duplex channel wrapping a single
// *websocket.Conn. It is safe for concurrent use; Close is idempotent and
// may be called from any goroutine, any number of times.
type Connection struct {
	sessionID common.SessionId
	ws        *websocket.Conn
	logger    *common.Logger

	sendTimeout  time.Duration
	replyTimeout time.Duration

	writeCh chan []byte

	pendingMu sync.Mutex
	pending   map[common.RequestId]chan pendingSlot

	subMu sync.RWMutex
	subs  map[common.SubscriptionId]SubscriptionCallback
	topic map[string][]TopicCallback

	interceptMu sync.RWMutex
	intercepts  map[common.InterceptId]InterceptDecider

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Option configures optional Connection parameters; used by tests to
// shrink the 30s defaults.
type Option func(*Connection)

// WithSendTimeout overrides the per-Send deadline.
func WithSendTimeout(d time.Duration) Option { return func(c *Connection) { c.sendTimeout = d } }

// WithReplyTimeout overrides the intercept-decider deadline.
func WithReplyTimeout(d time.Duration) Option { return func(c *Connection) { c.replyTimeout = d } }

// New wraps an already-upgraded *websocket.Conn (the socket has already
// completed the READY handshake; see pool.go) as a Connection, and starts
// its reader and writer loops.
func New(sessionID common.SessionId, ws *websocket.Conn, logger *common.Logger, opts ...Option) *Connection {
	if logger == nil {
		logger = common.NewNullLogger()
	}
	c := &Connection{
		sessionID:    sessionID,
		ws:           ws,
		logger:       logger,
		sendTimeout:  DefaultSendTimeout,
		replyTimeout: DefaultReplyTimeout,
		writeCh:      make(chan []byte, writeQueueDepth),
		pending:      make(map[common.RequestId]chan pendingSlot),
		subs:         make(map[common.SubscriptionId]SubscriptionCallback),
		topic:        make(map[string][]TopicCallback),
		intercepts:   make(map[common.InterceptId]InterceptDecider),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// SessionId returns the session this Connection belongs to.
func (c *Connection) SessionId() common.SessionId { return c.sessionID }

// Done is closed once the Connection has been closed (socket drop, pool
// eviction, or explicit Close).
func (c *Connection) Done() <-chan struct{} { return c.closed }

// Send allocates a RequestId, parks a completion slot, enqueues the
// encoded frame, and awaits the slot (or ctx, or the configured send
// timeout, whichever comes first).
func (c *Connection) Send(ctx context.Context, method string, tabID common.TabId, frameID common.FrameId, params interface{}) (json.RawMessage, error) {
	id := common.NewRequestId()
	cmd, err := protocol.NewCommand(id, method, tabID, frameID, params)
	if err != nil {
		return nil, err
	}
	raw, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	slot := make(chan pendingSlot, 1)
	c.pendingMu.Lock()
	c.pending[id] = slot
	c.pendingMu.Unlock()

	select {
	case c.writeCh <- raw:
	case <-c.closed:
		c.deletePending(id)
		return nil, common.NewConnectionClosedError()
	}

	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()

	select {
	case res := <-slot:
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-c.closed:
		// The close path also writes a terminal slot for every pending
		// request (see Close), so prefer that result if it raced in
		// ahead of us observing c.closed.
		select {
		case res := <-slot:
			if res.err != nil {
				return nil, res.err
			}
			return res.result, nil
		default:
			c.deletePending(id)
			return nil, common.NewConnectionClosedError()
		}
	case <-ctx.Done():
		if c.deletePending(id) {
			return nil, ctx.Err()
		}
		// The dispatcher already removed it first; take its answer.
		res := <-slot
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-timer.C:
		if c.deletePending(id) {
			return nil, common.NewRequestTimeoutError(id, c.sendTimeout.Milliseconds())
		}
		res := <-slot
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	}
}

// deletePending removes id from the pending table and reports whether
// this call is the one that actually removed it (i.e. won the race
// against the dispatcher).
func (c *Connection) deletePending(id common.RequestId) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, ok := c.pending[id]; ok {
		delete(c.pending, id)
		return true
	}
	return false
}

// Subscribe registers a plain-event callback, idempotently replacing any
// existing callback for id.
func (c *Connection) Subscribe(id common.SubscriptionId, cb SubscriptionCallback) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs[id] = cb
}

// Unsubscribe removes a plain-event callback. Idempotent: removing an
// unknown id is a no-op.
func (c *Connection) Unsubscribe(id common.SubscriptionId) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subs, id)
}

// OnTopic registers a callback for a topic-addressed event method (one
// with no subscriptionId, e.g. browsingContext.load), returning a func to
// remove it.
func (c *Connection) OnTopic(method string, cb TopicCallback) (unsubscribe func()) {
	c.subMu.Lock()
	idx := len(c.topic[method])
	c.topic[method] = append(c.topic[method], cb)
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		cbs := c.topic[method]
		if idx < len(cbs) {
			cbs[idx] = nil
		}
	}
}

// AddIntercept registers a reply-requiring event decider, idempotently
// replacing any existing decider for id.
func (c *Connection) AddIntercept(id common.InterceptId, decider InterceptDecider) {
	c.interceptMu.Lock()
	defer c.interceptMu.Unlock()
	c.intercepts[id] = decider
}

// RemoveIntercept removes an intercept decider. Idempotent.
func (c *Connection) RemoveIntercept(id common.InterceptId) {
	c.interceptMu.Lock()
	defer c.interceptMu.Unlock()
	delete(c.intercepts, id)
}

// Close tears down the Connection: it closes the underlying socket,
// fails every pending Send with ConnectionClosed, and drops every
// subscription/intercept callback. Safe to call more than once and from
// multiple goroutines; only the first call has an effect.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
		close(c.closed)

		c.pendingMu.Lock()
		pending := c.pending
		c.pending = make(map[common.RequestId]chan pendingSlot)
		c.pendingMu.Unlock()
		for _, slot := range pending {
			slot <- pendingSlot{err: common.NewConnectionClosedError()}
		}

		c.subMu.Lock()
		c.subs = make(map[common.SubscriptionId]SubscriptionCallback)
		c.topic = make(map[string][]TopicCallback)
		c.subMu.Unlock()

		c.interceptMu.Lock()
		c.intercepts = make(map[common.InterceptId]InterceptDecider)
		c.interceptMu.Unlock()
	})
	return c.closeErr
}

func (c *Connection) writeLoop() {
	for {
		select {
		case frame := <-c.writeCh:
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debugf("Connection:writeLoop", "write error, closing: %v", err)
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) readLoop() {
	defer func() { _ = c.Close() }()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debugf("Connection:readLoop", "read error, closing: %v", err)
			return
		}
		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			c.logger.Warnf("Connection:readLoop", "malformed frame: %v", err)
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch classifies and routes one inbound frame. Response frames
// complete a pending Send; Event frames route to a plain subscriber, a
// topic callback, or a reply-requiring intercept decider.
func (c *Connection) dispatch(frame *protocol.Frame) {
	if frame.Response != nil {
		c.dispatchResponse(frame.Response)
		return
	}
	c.dispatchEvent(frame.Event)
}

func (c *Connection) dispatchResponse(resp *protocol.Response) {
	c.pendingMu.Lock()
	slot, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()
	if !ok {
		// Stale after timeout/cancellation: discard silently.
		return
	}
	if resp.Type == protocol.ResponseError {
		kind := common.RemoteErrorKind(resp.ErrCode)
		slot <- pendingSlot{err: &common.Error{Kind: kind, Message: resp.ErrMsg}}
		return
	}
	slot <- pendingSlot{result: resp.Result}
}

func (c *Connection) dispatchEvent(ev *protocol.Event) {
	if protocol.IsReplyRequiring(ev.Method) {
		c.dispatchInterceptEvent(ev)
		return
	}
	c.dispatchPlainEvent(ev)
}

// dispatchPlainEvent routes a fire-and-forget event to its subscriber
// (by subscriptionId) or, absent one, every registered topic callback
// for its method. The callback itself runs on its own goroutine so a
// slow subscriber cannot stall the reader loop.
func (c *Connection) dispatchPlainEvent(ev *protocol.Event) {
	subID, _ := protocol.ParseSubscriptionId(ev.Params)
	if subID != "" {
		id, err := common.ParseSubscriptionId(subID)
		if err != nil {
			c.logger.Warnf("Connection:dispatchPlainEvent", "bad subscriptionId %q: %v", subID, err)
			return
		}
		c.subMu.RLock()
		cb, ok := c.subs[id]
		c.subMu.RUnlock()
		if ok {
			go cb(ev.Params)
		}
		return
	}

	c.subMu.RLock()
	cbs := append([]TopicCallback(nil), c.topic[ev.Method]...)
	c.subMu.RUnlock()
	for _, cb := range cbs {
		if cb == nil {
			continue
		}
		go cb(ev.Params)
	}
}

// dispatchInterceptEvent runs the registered decider (if any) on a
// worker with a bounded deadline, and always enqueues exactly one
// EventReply: a default "allow" if no decider is registered or it
// didn't finish in time.
func (c *Connection) dispatchInterceptEvent(ev *protocol.Event) {
	interceptIDStr, err := protocol.ParseInterceptId(ev.Params)
	if err != nil || interceptIDStr == "" {
		c.logger.Warnf("Connection:dispatchInterceptEvent", "event %s missing interceptId", ev.Method)
		c.sendReply(ev, protocol.AllowDecision)
		return
	}
	interceptID, err := common.ParseInterceptId(interceptIDStr)
	if err != nil {
		c.logger.Warnf("Connection:dispatchInterceptEvent", "bad interceptId %q: %v", interceptIDStr, err)
		c.sendReply(ev, protocol.AllowDecision)
		return
	}

	c.interceptMu.RLock()
	decider, ok := c.intercepts[interceptID]
	c.interceptMu.RUnlock()
	if !ok {
		c.sendReply(ev, protocol.AllowDecision)
		return
	}

	go func() {
		resultCh := make(chan protocol.Decision, 1)
		go func() { resultCh <- decider(ev.Params) }()

		select {
		case decision := <-resultCh:
			c.sendReply(ev, decision)
		case <-time.After(c.replyTimeout):
			c.sendReply(ev, protocol.AllowDecision)
		case <-c.closed:
		}
	}()
}

func (c *Connection) sendReply(ev *protocol.Event, decision protocol.Decision) {
	result, err := decision.Marshal()
	if err != nil {
		c.logger.Errorf("Connection:sendReply", "marshal decision: %v", err)
		return
	}
	reply := &protocol.EventReply{ID: ev.ID, ReplyTo: ev.Method, Result: result}
	raw, err := protocol.EncodeEventReply(reply)
	if err != nil {
		c.logger.Errorf("Connection:sendReply", "encode reply: %v", err)
		return
	}
	select {
	case c.writeCh <- raw:
	case <-c.closed:
	}
}
