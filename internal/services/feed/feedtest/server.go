// Package feedtest provides an in-process signal feed for tests.
package feedtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Server accepts feed subscriptions and lets tests push messages to each
// subscribed connection.
type Server struct {
	srv         *httptest.Server
	upgrader    websocket.Upgrader
	ignorePings bool

	mu     sync.Mutex
	subs   [][]byte
	tokens []string
	peers  []*Peer

	subscribed chan *Peer
}

type Option func(*Server)

// IgnorePings makes the server never answer pings.
func IgnorePings() Option {
	return func(s *Server) { s.ignorePings = true }
}

func NewServer(opts ...Option) *Server {
	s := &Server{subscribed: make(chan *Peer, 16)}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Endpoint returns the ws:// address of the server, without path.
func (s *Server) Endpoint() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *Server) Close() {
	s.mu.Lock()
	for _, p := range s.peers {
		p.Drop()
	}
	s.mu.Unlock()
	s.srv.Close()
}

// Subscriptions returns every subscription payload received so far.
func (s *Server) Subscriptions() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.subs...)
}

// Tokens returns the token query parameter of every connection.
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// WaitSubscribed returns the next connection that sent its subscription.
func (s *Server) WaitSubscribed(timeout time.Duration) (*Peer, error) {
	select {
	case p := <-s.subscribed:
		return p, nil
	case <-time.After(timeout):
		return nil, errors.New("no subscription within timeout")
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/message/ws" {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if s.ignorePings {
		conn.SetPingHandler(func(string) error { return nil })
	}

	_, sub, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return
	}

	p := &Peer{conn: conn, done: make(chan struct{})}
	defer close(p.done)
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.tokens = append(s.tokens, r.URL.Query().Get("token"))
	s.peers = append(s.peers, p)
	s.mu.Unlock()
	s.subscribed <- p

	// keep reading so control frames are handled
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Peer is the server side of one subscribed connection.
type Peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// Done is closed once the connection is gone, closed by either side.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Send writes one text message.
func (p *Peer) Send(msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Drop closes the connection without a close frame.
func (p *Peer) Drop() {
	_ = p.conn.Close()
}
