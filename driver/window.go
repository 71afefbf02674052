package driver

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/connection"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/supervisor"
)

// windowCore is the shared, reference-counted state behind every clone
// of a Window: the session and its Connection are torn down exactly
// once, when the last clone closes.
type windowCore struct {
	sessionID common.SessionId
	poolURL   string
	session   *supervisor.Session
	onClose   func()

	refCount int32
}

// Window is the handle returned for one spawned browser session: a
// SessionId, a pool-backed Connection, and the process handle behind it.
// Higher-level Tab/Element façades consume only this surface. Cloning is
// cheap; each clone (including the value returned by Spawn) must be
// closed exactly once; the underlying process, routing entry, and
// profile directory are torn down when the last clone's Close runs, or
// when the Driver that spawned the window is closed.
type Window struct {
	core      *windowCore
	closeOnce sync.Once
}

func newWindow(sess *supervisor.Session, poolURL string, onClose func()) *Window {
	return &Window{core: &windowCore{
		sessionID: sess.SessionId,
		poolURL:   poolURL,
		session:   sess,
		onClose:   onClose,
		refCount:  1,
	}}
}

// SessionId returns this window's SessionId.
func (w *Window) SessionId() common.SessionId { return w.core.sessionID }

// PID returns the OS process id of the Firefox process backing this
// window.
func (w *Window) PID() int { return w.core.session.PID() }

// Port returns the pool's bound loopback port, e.g. "54321". Every
// window launched by the same Driver shares this port.
func (w *Window) Port() string {
	if idx := strings.LastIndex(w.core.poolURL, ":"); idx >= 0 {
		return w.core.poolURL[idx+1:]
	}
	return ""
}

// Send is a thin forward into the session's Connection: it addresses
// {sessionId, tabId, frameId, method, params} and awaits the correlated
// Response.
func (w *Window) Send(ctx context.Context, method string, tabID common.TabId, frameID common.FrameId, params interface{}) (json.RawMessage, error) {
	return w.core.session.Conn.Send(ctx, method, tabID, frameID, params)
}

// Subscribe forwards to the underlying Connection's plain-event table.
func (w *Window) Subscribe(id common.SubscriptionId, cb connection.SubscriptionCallback) {
	w.core.session.Conn.Subscribe(id, cb)
}

// Unsubscribe forwards to the underlying Connection's plain-event table.
func (w *Window) Unsubscribe(id common.SubscriptionId) {
	w.core.session.Conn.Unsubscribe(id)
}

// OnTopic forwards to the underlying Connection's topic-addressed
// callback table (browsingContext.load and siblings).
func (w *Window) OnTopic(method string, cb connection.TopicCallback) (unsubscribe func()) {
	return w.core.session.Conn.OnTopic(method, cb)
}

// AddIntercept forwards to the underlying Connection's reply-requiring
// callback table.
func (w *Window) AddIntercept(id common.InterceptId, decider connection.InterceptDecider) {
	w.core.session.Conn.AddIntercept(id, decider)
}

// RemoveIntercept forwards to the underlying Connection's reply-requiring
// callback table.
func (w *Window) RemoveIntercept(id common.InterceptId) {
	w.core.session.Conn.RemoveIntercept(id)
}

// Clone returns a new handle sharing this Window's underlying session.
// The returned value must itself be closed exactly once; the process,
// routing entry, and profile are torn down once every clone (the
// original and every value returned by Clone) has been closed, or when
// the Driver that spawned the window is closed.
func (w *Window) Clone() *Window {
	atomic.AddInt32(&w.core.refCount, 1)
	return &Window{core: w.core}
}

// Close releases this handle. If it is the last live clone, it runs the
// full shutdown sequence: terminate the Firefox process, remove the
// pool's routing entry, and delete the profile directory if it was
// ephemeral. Safe to call at most once per handle; additional calls on
// the same handle are no-ops.
func (w *Window) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if atomic.AddInt32(&w.core.refCount, -1) > 0 {
			return
		}
		err = w.core.session.Close()
		if w.core.onClose != nil {
			w.core.onClose()
		}
	})
	return err
}
