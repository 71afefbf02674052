// Package wstest provides a loopback WebSocket test double standing in
// for the remote browser extension (gorilla/websocket + httptest.Server).
package wstest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Handler is invoked once per accepted socket, after the WebSocket
// upgrade, with exclusive ownership of the connection.
type Handler func(conn *websocket.Conn)

// Server is a minimal loopback WebSocket server a test can point the
// driver's ConnectionPool client-dial path, or stand in as the "remote"
// side of a Connection under test.
type Server struct {
	httpServer *httptest.Server
	URL        string // "http://127.0.0.1:PORT"
	WSURL      string // "ws://127.0.0.1:PORT/path"

	mu      sync.Mutex
	conns   []*websocket.Conn
	upgrade websocket.Upgrader
}

// New starts a test server on loopback that upgrades every request on
// path to a WebSocket and hands it to fn.
func New(t testing.TB, path string, fn Handler) *Server {
	t.Helper()

	s := &Server{upgrade: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrade.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		fn(conn)
	})

	s.httpServer = httptest.NewServer(mux)
	s.URL = s.httpServer.URL

	u, err := httpToWS(s.httpServer.URL + path)
	require.NoError(t, err)
	s.WSURL = u

	t.Cleanup(s.Close)
	return s
}

// Close shuts down the server and every connection it accepted.
func (s *Server) Close() {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	s.httpServer.Close()
}

func httpToWS(httpURL string) (string, error) {
	if len(httpURL) >= 7 && httpURL[:7] == "http://" {
		return "ws://" + httpURL[7:], nil
	}
	if len(httpURL) >= 8 && httpURL[:8] == "https://" {
		return "wss://" + httpURL[8:], nil
	}
	return httpURL, nil
}

// EchoHandler writes back every text message it reads, unmodified. Useful
// for exercising codec round trips without any protocol semantics.
func EchoHandler(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

// AbnormalCloseHandler closes the raw TCP connection without sending a
// WebSocket close frame, simulating a crashed remote process.
func AbnormalCloseHandler(conn *websocket.Conn) {
	_ = conn.UnderlyingConn().Close()
}
