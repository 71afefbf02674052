package connection

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/protocol"
	"github.com/Dark-Captcha/Firefox-WebDriver/internal/wstest"
)

func dialTestConnection(t *testing.T, handler wstest.Handler, opts ...Option) (*Connection, *wstest.Server) {
	t.Helper()
	srv := wstest.New(t, "/conn", handler)

	ws, _, err := websocket.DefaultDialer.Dial(srv.WSURL, nil)
	require.NoError(t, err)

	sid, err := common.NewSessionId(1)
	require.NoError(t, err)

	conn := New(sid, ws, common.NewNullLogger(), opts...)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, srv
}

func TestSendSuccessAndError(t *testing.T) {
	t.Parallel()

	conn, _ := dialTestConnection(t, func(ws *websocket.Conn) {
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var cmd protocol.Command
			require.NoError(t, json.Unmarshal(raw, &cmd))

			var resp protocol.Response
			if cmd.Method == "session.status" {
				resp = protocol.Response{ID: cmd.ID, Type: protocol.ResponseSuccess, Result: json.RawMessage(`{"ok":true}`)}
			} else {
				resp = protocol.Response{ID: cmd.ID, Type: protocol.ResponseError, ErrCode: "no such tab", ErrMsg: "tab 9 gone"}
			}
			out, err := json.Marshal(resp)
			require.NoError(t, err)
			require.NoError(t, ws.WriteMessage(websocket.TextMessage, out))
		}
	})

	tab, _ := common.NewTabId(1)

	result, err := conn.Send(context.Background(), "session.status", tab, common.MainFrame, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))

	_, err = conn.Send(context.Background(), "browsingContext.getTitle", tab, common.MainFrame, nil)
	require.Error(t, err)
	var derr *common.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, common.KindTabNotFound, derr.Kind)
}

// TestConcurrentSendsCorrelateIndependently: responses to three
// concurrent sends arrive out of arrival order, and every caller must
// get back its own result.
func TestConcurrentSendsCorrelateIndependently(t *testing.T) {
	t.Parallel()

	type received struct {
		id     common.RequestId
		method string
	}
	recvCh := make(chan received, 3)

	conn, _ := dialTestConnection(t, func(ws *websocket.Conn) {
		var cmds []protocol.Command
		for len(cmds) < 3 {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var cmd protocol.Command
			require.NoError(t, json.Unmarshal(raw, &cmd))
			cmds = append(cmds, cmd)
			recvCh <- received{id: cmd.ID, method: cmd.Method}
		}
		// Respond out of arrival order: C, A, B where arrival was A, B, C.
		order := []int{2, 0, 1}
		for _, i := range order {
			resp := protocol.Response{
				ID:     cmds[i].ID,
				Type:   protocol.ResponseSuccess,
				Result: json.RawMessage(`"` + cmds[i].Method + `"`),
			}
			out, err := json.Marshal(resp)
			require.NoError(t, err)
			require.NoError(t, ws.WriteMessage(websocket.TextMessage, out))
		}
	})

	tab, _ := common.NewTabId(1)
	var wg sync.WaitGroup
	results := make(map[string]string)
	var mu sync.Mutex
	for _, method := range []string{"A", "B", "C"} {
		method := method
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := conn.Send(context.Background(), method, tab, common.MainFrame, nil)
			require.NoError(t, err)
			var got string
			require.NoError(t, json.Unmarshal(result, &got))
			mu.Lock()
			results[method] = got
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, map[string]string{"A": "A", "B": "B", "C": "C"}, results)
}

// TestSendTimeout: an unanswered send fails with RequestTimeout after
// the configured deadline, and the pending table is left empty.
func TestSendTimeout(t *testing.T) {
	t.Parallel()

	conn, _ := dialTestConnection(t, func(ws *websocket.Conn) {
		// Never respond.
		buf := make([]byte, 1)
		_, _ = ws.UnderlyingConn().Read(buf)
	}, WithSendTimeout(30*time.Millisecond))

	tab, _ := common.NewTabId(1)
	_, err := conn.Send(context.Background(), "session.status", tab, common.MainFrame, nil)
	require.Error(t, err)

	var derr *common.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, common.KindRequestTimeout, derr.Kind)
	assert.True(t, derr.IsTimeout())
	assert.True(t, derr.IsRecoverable())

	conn.pendingMu.Lock()
	assert.Empty(t, conn.pending)
	conn.pendingMu.Unlock()
}

// TestSendContextCancellation ensures an external context cancellation
// also races cleanly for the pending-table slot.
func TestSendContextCancellation(t *testing.T) {
	t.Parallel()

	conn, _ := dialTestConnection(t, func(ws *websocket.Conn) {
		buf := make([]byte, 1)
		_, _ = ws.UnderlyingConn().Read(buf)
	})

	tab, _ := common.NewTabId(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := conn.Send(ctx, "session.status", tab, common.MainFrame, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestSocketDeathCompletesAllPending: dropping the socket while sends
// are in flight completes every one with ConnectionClosed quickly,
// independent of the per-send timeout.
func TestSocketDeathCompletesAllPending(t *testing.T) {
	t.Parallel()

	srv := wstest.New(t, "/conn", func(ws *websocket.Conn) {
		buf := make([]byte, 1)
		_, _ = ws.UnderlyingConn().Read(buf) // read one byte; never answer, leave the socket open
	})

	ws, _, err := websocket.DefaultDialer.Dial(srv.WSURL, nil)
	require.NoError(t, err)

	sid, _ := common.NewSessionId(1)
	conn := New(sid, ws, common.NewNullLogger())
	defer conn.Close()

	tab, _ := common.NewTabId(1)

	type outcome struct {
		err error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := conn.Send(context.Background(), "session.status", tab, common.MainFrame, nil)
			results <- outcome{err: err}
		}()
	}

	time.Sleep(20 * time.Millisecond) // let both sends register in the pending table
	require.NoError(t, conn.Close())

	deadline := time.After(500 * time.Millisecond)
	for i := 0; i < 2; i++ {
		select {
		case o := <-results:
			require.Error(t, o.err)
			var derr *common.Error
			require.ErrorAs(t, o.err, &derr)
			assert.Equal(t, common.KindConnectionClosed, derr.Kind)
		case <-deadline:
			t.Fatal("timed out waiting for pending sends to complete")
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	conn, srv := dialTestConnection(t, func(ws *websocket.Conn) {
		buf := make([]byte, 1)
		_, _ = ws.UnderlyingConn().Read(buf)
	})

	subID := common.NewSubscriptionId()
	gotCh := make(chan json.RawMessage, 1)
	conn.Subscribe(subID, func(params json.RawMessage) { gotCh <- params })

	ev := protocol.Event{
		ID:     common.NewRequestId(),
		Type:   "event",
		Method: "element.added",
		Params: json.RawMessage(`{"subscriptionId":"` + subID.String() + `","selector":"#x"}`),
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	// Inject the event through dispatch directly rather than over the
	// wire; the subscription tables are what's under test here.
	_ = srv
	frame, err := protocol.DecodeFrame(raw)
	require.NoError(t, err)
	conn.dispatch(frame)

	select {
	case got := <-gotCh:
		assert.Contains(t, string(got), "#x")
	case <-time.After(time.Second):
		t.Fatal("subscriber callback never invoked")
	}

	conn.Unsubscribe(subID)
	conn.dispatch(frame)
	select {
	case <-gotCh:
		t.Fatal("unsubscribed callback was invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestInterceptDefaultAllow: a reply-requiring event with no registered
// decider gets exactly one "allow" EventReply.
func TestInterceptDefaultAllow(t *testing.T) {
	t.Parallel()

	replyCh := make(chan protocol.EventReply, 1)
	conn, _ := dialTestConnection(t, func(ws *websocket.Conn) {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var reply protocol.EventReply
		require.NoError(t, json.Unmarshal(raw, &reply))
		replyCh <- reply
	})

	evID := common.NewRequestId()
	ev := protocol.Event{
		ID:     evID,
		Type:   "event",
		Method: "network.beforeRequestSent",
		Params: json.RawMessage(`{"interceptId":"` + common.NewInterceptId().String() + `","url":"https://example.com"}`),
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	frame, err := protocol.DecodeFrame(raw)
	require.NoError(t, err)
	conn.dispatch(frame)

	select {
	case reply := <-replyCh:
		assert.Equal(t, evID, reply.ID)
		assert.Equal(t, "network.beforeRequestSent", reply.ReplyTo)
		assert.JSONEq(t, `{"action":"allow"}`, string(reply.Result))
	case <-time.After(time.Second):
		t.Fatal("no EventReply observed")
	}
}

// TestInterceptDeciderTimeoutFallsBackToAllow: a decider that outlives
// the reply deadline still yields exactly one "allow" reply, so the
// remote's network path never stalls on a stuck callback.
func TestInterceptDeciderTimeoutFallsBackToAllow(t *testing.T) {
	t.Parallel()

	replyCh := make(chan protocol.EventReply, 1)
	conn, _ := dialTestConnection(t, func(ws *websocket.Conn) {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var reply protocol.EventReply
		require.NoError(t, json.Unmarshal(raw, &reply))
		replyCh <- reply
	}, WithReplyTimeout(30*time.Millisecond))

	interceptID := common.NewInterceptId()
	deciderDone := make(chan struct{})
	conn.AddIntercept(interceptID, func(params json.RawMessage) protocol.Decision {
		<-deciderDone
		return protocol.Decision{Action: protocol.ActionBlock}
	})
	defer close(deciderDone)

	evID := common.NewRequestId()
	ev := protocol.Event{
		ID:     evID,
		Type:   "event",
		Method: "network.responseHeaders",
		Params: json.RawMessage(`{"interceptId":"` + interceptID.String() + `"}`),
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	frame, err := protocol.DecodeFrame(raw)
	require.NoError(t, err)
	conn.dispatch(frame)

	select {
	case reply := <-replyCh:
		assert.Equal(t, evID, reply.ID)
		assert.Equal(t, "network.responseHeaders", reply.ReplyTo)
		assert.JSONEq(t, `{"action":"allow"}`, string(reply.Result))
	case <-time.After(time.Second):
		t.Fatal("no fallback EventReply observed")
	}
}

// TestInterceptDeciderBlocksAds: a registered decider blocks matching
// URLs and allows everything else.
func TestInterceptDeciderBlocksAds(t *testing.T) {
	t.Parallel()

	replies := make(chan protocol.EventReply, 2)
	conn, _ := dialTestConnection(t, func(ws *websocket.Conn) {
		for i := 0; i < 2; i++ {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var reply protocol.EventReply
			require.NoError(t, json.Unmarshal(raw, &reply))
			replies <- reply
		}
	})

	interceptID := common.NewInterceptId()
	conn.AddIntercept(interceptID, func(params json.RawMessage) protocol.Decision {
		var p struct {
			URL string `json:"url"`
		}
		_ = json.Unmarshal(params, &p)
		if strings.Contains(p.URL, "ads") {
			return protocol.Decision{Action: protocol.ActionBlock}
		}
		return protocol.AllowDecision
	})

	send := func(url string) {
		ev := protocol.Event{
			ID:     common.NewRequestId(),
			Type:   "event",
			Method: "network.beforeRequestSent",
			Params: json.RawMessage(`{"interceptId":"` + interceptID.String() + `","url":"` + url + `"}`),
		}
		raw, err := json.Marshal(ev)
		require.NoError(t, err)
		frame, err := protocol.DecodeFrame(raw)
		require.NoError(t, err)
		conn.dispatch(frame)
	}
	send("https://ads.example.com/banner")
	send("https://example.com/page")

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case reply := <-replies:
			var d protocol.Decision
			require.NoError(t, json.Unmarshal(reply.Result, &d))
			got[string(d.Action)] = true
		case <-time.After(time.Second):
			t.Fatal("missing reply")
		}
	}
	assert.True(t, got["block"])
	assert.True(t, got["allow"])
}
