package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/openclaw/openclaw-chat/internal/device"
	"github.com/openclaw/openclaw-chat/internal/protocol"
	"github.com/openclaw/openclaw-chat/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type fakeTransport struct {
	mu     sync.Mutex
	sink   Sink
	sent   []protocol.Frame
	closed bool
	frames chan protocol.Frame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan protocol.Frame, 64)}
}

func (t *fakeTransport) Start(sink Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	var f protocol.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	t.sent = append(t.sent, f)
	t.frames <- f
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) currentSink() Sink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sink
}

// next waits for the next outbound frame with the given method.
func (t *fakeTransport) next(tb testing.TB, method string) protocol.Frame {
	tb.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case f := <-t.frames:
			if f.Method == method {
				return f
			}
		case <-deadline:
			tb.Fatalf("no %s request sent", method)
		}
	}
}

func (t *fakeTransport) deliver(tb testing.TB, f *protocol.Frame) {
	tb.Helper()
	data, err := f.Marshal()
	require.NoError(tb, err)
	t.currentSink().HandleFrame(data)
}

func (t *fakeTransport) event(tb testing.TB, event string, payload interface{}) {
	tb.Helper()
	f, err := protocol.NewEvent(event, payload)
	require.NoError(tb, err)
	t.deliver(tb, f)
}

func (t *fakeTransport) reply(tb testing.TB, id string, payload interface{}) {
	tb.Helper()
	f, err := protocol.NewResponse(id, payload, nil)
	require.NoError(tb, err)
	t.deliver(tb, f)
}

func (t *fakeTransport) fail(tb testing.TB, id, code, message string) {
	tb.Helper()
	f, err := protocol.NewResponse(id, nil, &protocol.ErrorShape{Code: code, Message: message})
	require.NoError(tb, err)
	t.deliver(tb, f)
}

type fakeDialer struct {
	mu         sync.Mutex
	err        error
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.transports {
		if !t.isClosed() {
			n++
		}
	}
	return n
}

type recording struct {
	states      []State
	chats       []protocol.ChatEvent
	sessions    [][]protocol.SessionInfo
	disconnects []string
	pairing     int
}

// recorder collects listener callbacks.
type recorder struct {
	mu sync.Mutex
	recording
}

func (r *recorder) listener() Listener {
	return Listener{
		OnStateChange: func(s State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
		},
		OnChat: func(ev protocol.ChatEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.chats = append(r.chats, ev)
		},
		OnSessions: func(s []protocol.SessionInfo) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.sessions = append(r.sessions, s)
		},
		OnDisconnect: func(reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.disconnects = append(r.disconnects, reason)
		},
		OnDevicePairingRequired: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.pairing++
		},
	}
}

func (r *recorder) snapshot() recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recording{
		states:      append([]State(nil), r.states...),
		chats:       append([]protocol.ChatEvent(nil), r.chats...),
		sessions:    append([][]protocol.SessionInfo(nil), r.sessions...),
		disconnects: append([]string(nil), r.disconnects...),
		pairing:     r.pairing,
	}
}

type harness struct {
	client   *Client
	dialer   *fakeDialer
	rec      *recorder
	identity *device.Provider
	tokens   *device.Tokens
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	h := &harness{
		dialer:   &fakeDialer{},
		rec:      &recorder{},
		identity: device.NewProvider(st),
		tokens:   device.NewTokens(st),
	}
	opts := Options{
		Dialer:   h.dialer,
		Identity: h.identity,
		Tokens:   h.tokens,
		Listener: h.rec.listener(),
		Client:   protocol.ClientInfo{Version: "test", Platform: "linux"},
		Now:      func() time.Time { return time.UnixMilli(1700000000000) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.client = New(opts, zerolog.Nop())
	t.Cleanup(h.client.Disconnect)
	return h
}

// dial connects and delivers the challenge, returning the transport and the
// pending connect request.
func (h *harness) dial(t *testing.T) (*fakeTransport, protocol.Frame) {
	t.Helper()
	require.NoError(t, h.client.Connect(context.Background()))
	ft := h.dialer.last()
	ft.event(t, protocol.EventConnectChallenge, protocol.ConnectChallenge{Nonce: "abc", TS: 1})
	return ft, ft.next(t, protocol.MethodConnect)
}

// connect completes a handshake and answers the initial session refresh.
func (h *harness) connect(t *testing.T) *fakeTransport {
	t.Helper()
	ft, req := h.dial(t)
	ft.reply(t, req.ID, protocol.HelloOK{Type: "hello-ok", Protocol: protocol.ProtocolVersion})

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.client.WaitConnected(ctx))

	list := ft.next(t, protocol.MethodSessionsList)
	ft.reply(t, list.ID, protocol.SessionsListResult{Sessions: []protocol.SessionInfo{{Key: "main"}}})
	require.Eventually(t, func() bool { return len(h.rec.snapshot().sessions) == 1 }, waitTimeout, 5*time.Millisecond)
	return ft
}

type asyncResult struct {
	payload json.RawMessage
	err     error
}

func requestAsync(c *Client, method string) <-chan asyncResult {
	out := make(chan asyncResult, 1)
	go func() {
		p, err := c.Request(context.Background(), method, nil)
		out <- asyncResult{p, err}
	}()
	return out
}

func await(t *testing.T, ch <-chan asyncResult) asyncResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("request did not settle")
		return asyncResult{}
	}
}
