package pool_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/connection"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/pool"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/protocol"
)

func newTestPool(t *testing.T, opts ...pool.Option) *pool.Pool {
	t.Helper()
	p, err := pool.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func dialReady(t *testing.T, wsURL string, sessionID, tabID uint32) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ready, err := protocol.EncodeReadyResponse(sessionID, tabID)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ready))
	return conn
}

// TestWaitForSessionRoutesOnReady: a waiter registered before the
// handshake arrives is fulfilled once the READY frame routes the new
// Connection under its sessionId.
func TestWaitForSessionRoutesOnReady(t *testing.T) {
	p := newTestPool(t)

	const sid = uint32(7)
	done := make(chan *connection.Connection, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sessionID, err := common.NewSessionId(sid)
		require.NoError(t, err)
		conn, err := p.WaitForSession(ctx, sessionID, 2*time.Second)
		require.NoError(t, err)
		done <- conn
	}()

	// Give WaitForSession a moment to register its waiter before the
	// handshake arrives, exercising the registration-then-fulfillment
	// path rather than the already-connected fast path.
	time.Sleep(50 * time.Millisecond)
	dialReady(t, p.URL()+"/", sid, 1)

	select {
	case conn := <-done:
		sessionID, err := common.NewSessionId(sid)
		require.NoError(t, err)
		require.Equal(t, sessionID, conn.SessionId())
	case <-time.After(3 * time.Second):
		t.Fatal("WaitForSession did not observe the handshake")
	}
}

// TestWaitForSessionAlreadyConnected exercises the fast path: a session
// that handshook before WaitForSession was ever called is returned
// immediately from the routing table.
func TestWaitForSessionAlreadyConnected(t *testing.T) {
	p := newTestPool(t)

	const sid = uint32(11)
	dialReady(t, p.URL()+"/", sid, 1)

	// Poll until the accept loop has installed the connection; the
	// handshake itself is processed asynchronously off the dial.
	sessionID, err := common.NewSessionId(sid)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := p.Connection(sessionID)
		return ok
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := p.WaitForSession(ctx, sessionID, time.Second)
	require.NoError(t, err)
	require.Equal(t, sessionID, conn.SessionId())
}

// TestWaitForSessionTimeout: no handshake ever arrives for the awaited
// session, so WaitForSession fails with a connection-timeout error once
// its deadline elapses.
func TestWaitForSessionTimeout(t *testing.T) {
	p := newTestPool(t)

	sessionID, err := common.NewSessionId(42)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = p.WaitForSession(ctx, sessionID, 100*time.Millisecond)
	require.Error(t, err)

	var derr *common.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, common.KindConnectionTimeout, derr.Kind)
}

// TestHandshakeReadTimeoutClosesSocket exercises the handshake-level
// deadline: a socket that connects but never sends a first frame is
// dropped once the pool's handshake timeout elapses.
func TestHandshakeReadTimeoutClosesSocket(t *testing.T) {
	p := newTestPool(t, pool.WithHandshakeTimeout(100*time.Millisecond))

	conn, _, err := websocket.DefaultDialer.Dial(p.URL()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		_, _, err := conn.ReadMessage()
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

// TestSendDelegatesToRoutedConnection exercises Send against a live,
// handshook session, and SessionNotFound against one that never
// connected.
func TestSendDelegatesToRoutedConnection(t *testing.T) {
	p := newTestPool(t)

	const sid = uint32(5)
	rawConn := dialReady(t, p.URL()+"/", sid, 1)
	go func() {
		for {
			_, data, err := rawConn.ReadMessage()
			if err != nil {
				return
			}
			var cmd protocol.Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			resp := protocol.Response{ID: cmd.ID, Type: protocol.ResponseSuccess}
			b, _ := json.Marshal(resp)
			_ = rawConn.WriteMessage(websocket.TextMessage, b)
		}
	}()

	sessionID, err := common.NewSessionId(sid)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := p.Connection(sessionID)
		return ok
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tabID, err := common.NewTabId(1)
	require.NoError(t, err)
	_, err = p.Send(ctx, sessionID, "tabs.get", tabID, common.MainFrame, nil)
	require.NoError(t, err)

	unknownID, err := common.NewSessionId(999)
	require.NoError(t, err)
	_, err = p.Send(ctx, unknownID, "tabs.get", tabID, common.MainFrame, nil)
	require.Error(t, err)
	var derr *common.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, common.KindSessionNotFound, derr.Kind)
}

// TestRemoveEvictsAndCloses ensures Remove both drops the routing entry
// and closes the underlying Connection.
func TestRemoveEvictsAndCloses(t *testing.T) {
	p := newTestPool(t)

	const sid = uint32(3)
	dialReady(t, p.URL()+"/", sid, 1)

	sessionID, err := common.NewSessionId(sid)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := p.Connection(sessionID)
		return ok
	}, time.Second, 5*time.Millisecond)

	conn, ok := p.Connection(sessionID)
	require.True(t, ok)

	p.Remove(sessionID)

	_, ok = p.Connection(sessionID)
	require.False(t, ok)

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("removed connection was not closed")
	}
}
