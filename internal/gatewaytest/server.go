// Package gatewaytest runs an in-process gateway that speaks enough of the
// protocol to drive a client in tests.
package gatewaytest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openclaw/openclaw-chat/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler answers one request. A non-nil error shape fails it.
type Handler func(c *Conn, req *protocol.Frame) (interface{}, *protocol.ErrorShape)

type Server struct {
	// Nonce is sent in every connect challenge.
	Nonce string

	http     *httptest.Server
	mu       sync.Mutex
	handlers map[string]Handler
	conns    map[*Conn]struct{}
	requests chan *protocol.Frame
}

func NewServer() *Server {
	s := &Server{
		Nonce:    "test-nonce",
		handlers: make(map[string]Handler),
		conns:    make(map[*Conn]struct{}),
		requests: make(chan *protocol.Frame, 256),
	}
	s.handlers[protocol.MethodConnect] = func(*Conn, *protocol.Frame) (interface{}, *protocol.ErrorShape) {
		return protocol.HelloOK{Type: "hello-ok", Protocol: protocol.ProtocolVersion}, nil
	}
	s.handlers[protocol.MethodSessionsList] = func(*Conn, *protocol.Frame) (interface{}, *protocol.ErrorShape) {
		return protocol.SessionsListResult{Sessions: []protocol.SessionInfo{}}, nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.http = httptest.NewServer(mux)
	return s
}

// URL is the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

func (s *Server) Close() {
	s.CloseConnections()
	s.http.Close()
}

// Handle replaces the handler for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// NextRequest waits for the next request with the given method. Requests
// for other methods are skipped.
func (s *Server) NextRequest(method string, timeout time.Duration) (*protocol.Frame, error) {
	deadline := time.After(timeout)
	for {
		select {
		case f := <-s.requests:
			if f.Method == method {
				return f, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("no %s request within %s", method, timeout)
		}
	}
}

// Broadcast sends an event to every open connection.
func (s *Server) Broadcast(event string, payload interface{}) error {
	for _, c := range s.snapshot() {
		if err := c.Event(event, payload); err != nil {
			return err
		}
	}
	return nil
}

// CloseConnections sends a normal close frame on every open connection.
func (s *Server) CloseConnections() {
	for _, c := range s.snapshot() {
		c.Close()
	}
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) handler(method string) (Handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[method]
	return h, ok
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Conn{ws: ws, send: make(chan []byte, 256), done: make(chan struct{})}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	go c.writePump()
	if err := c.Event(protocol.EventConnectChallenge, protocol.ConnectChallenge{
		Nonce: s.Nonce,
		TS:    time.Now().UnixMilli(),
	}); err != nil {
		c.Close()
	}
	s.readPump(c)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) readPump(c *Conn) {
	defer c.Close()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var f protocol.Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Type != protocol.FrameRequest {
			continue
		}

		select {
		case s.requests <- &f:
		default:
		}

		h, ok := s.handler(f.Method)
		if !ok {
			h = unknownMethod
		}
		payload, errShape := h(c, &f)
		if err := c.respond(f.ID, payload, errShape); err != nil {
			return
		}
	}
}

func unknownMethod(_ *Conn, req *protocol.Frame) (interface{}, *protocol.ErrorShape) {
	return nil, &protocol.ErrorShape{
		Code:    protocol.ErrCodeInvalidRequest,
		Message: "unknown method " + req.Method,
	}
}

var errConnClosed = errors.New("connection closed")

// Conn is one client connection on the fake gateway.
type Conn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Event queues an event frame.
func (c *Conn) Event(event string, payload interface{}) error {
	f, err := protocol.NewEvent(event, payload)
	if err != nil {
		return err
	}
	return c.queue(f)
}

func (c *Conn) respond(id string, payload interface{}, errShape *protocol.ErrorShape) error {
	f, err := protocol.NewResponse(id, payload, errShape)
	if err != nil {
		return err
	}
	return c.queue(f)
}

// Raw queues bytes as-is.
func (c *Conn) Raw(data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnClosed
	}
}

func (c *Conn) queue(f *protocol.Frame) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	return c.Raw(data)
}

// Close sends a normal close frame and drops the connection.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

func (c *Conn) writePump() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
