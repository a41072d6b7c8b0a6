// Package nodetest provides an in-process websocket JSON-RPC node for tests.
package nodetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

// HandlerFunc answers one JSON-RPC method. A non-nil error becomes a
// JSON-RPC error object.
type HandlerFunc func(params []json.RawMessage) (interface{}, error)

// Subscription records an eth_subscribe request.
type Subscription struct {
	ID     string
	Kind   string
	Params []json.RawMessage
	conn   *conn
}

// Server is a fake node speaking JSON-RPC over websocket.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	subs     map[string]*Subscription
	conns    []*conn
	pong     func(index int) bool

	connCount atomic.Int64
	subSeq    atomic.Int64
	subCh     chan Subscription
	done      chan struct{}
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

type request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// NewServer starts a fake node that is shut down when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		handlers: make(map[string]HandlerFunc),
		subs:     make(map[string]*Subscription),
		subCh:    make(chan Subscription, 64),
		done:     make(chan struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serveWS))
	t.Cleanup(func() {
		close(s.done)
		s.mu.Lock()
		for _, c := range s.conns {
			_ = c.ws.Close()
		}
		s.mu.Unlock()
		s.srv.Close()
	})
	return s
}

// URL returns the ws:// endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Handle registers a method handler.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// SetPong decides per connection (0-based accept order) whether pings are answered.
func (s *Server) SetPong(fn func(index int) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pong = fn
}

// Connections returns how many websocket connections were accepted.
func (s *Server) Connections() int {
	return int(s.connCount.Load())
}

// Subscribed delivers every eth_subscribe request as it arrives.
func (s *Server) Subscribed() <-chan Subscription {
	return s.subCh
}

// DropConnections closes every open connection without a close frame.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.ws.Close()
	}
	s.conns = nil
}

// Notify pushes an eth_subscription notification for subscription id.
func (s *Server) Notify(id string, result interface{}) error {
	s.mu.Lock()
	sub, ok := s.subs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown subscription %s", id)
	}
	return sub.conn.writeJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscription",
		"params": map[string]interface{}{
			"subscription": id,
			"result":       result,
		},
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	index := int(s.connCount.Add(1)) - 1
	c := &conn{ws: ws}

	s.mu.Lock()
	s.conns = append(s.conns, c)
	pong := s.pong
	s.mu.Unlock()

	if pong != nil && !pong(index) {
		ws.SetPingHandler(func(string) error { return nil })
	}

	defer ws.Close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		s.dispatch(c, req)
	}
}

func (s *Server) dispatch(c *conn, req request) {
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
	}

	switch req.Method {
	case "eth_subscribe":
		id := fmt.Sprintf("0x%x", s.subSeq.Add(1))
		sub := &Subscription{ID: id, Params: req.Params, conn: c}
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params[0], &sub.Kind)
		}
		s.mu.Lock()
		s.subs[id] = sub
		s.mu.Unlock()
		resp["result"] = id
		_ = c.writeJSON(resp)
		select {
		case s.subCh <- *sub:
		case <-s.done:
		}
		return
	case "eth_unsubscribe":
		var id string
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params[0], &id)
		}
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		resp["result"] = true
		_ = c.writeJSON(resp)
		return
	}

	s.mu.Lock()
	fn, ok := s.handlers[req.Method]
	s.mu.Unlock()

	if !ok {
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	} else if result, err := fn(req.Params); err != nil {
		resp["error"] = map[string]interface{}{"code": -32000, "message": err.Error()}
	} else {
		resp["result"] = result
	}
	_ = c.writeJSON(resp)
}
