package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/openclaw/openclaw-chat/internal/chat"
	"github.com/openclaw/openclaw-chat/internal/device"
	"github.com/openclaw/openclaw-chat/internal/protocol"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// IdentityProvider supplies the device key used to sign handshakes.
type IdentityProvider interface {
	GetOrCreate() (device.Identity, error)
	Sign(payload []byte) ([]byte, error)
}

// TokenStore persists device tokens issued by the gateway.
type TokenStore interface {
	Load(deviceID string) (device.Token, bool, error)
	Save(deviceID string, tok device.Token) error
	Clear(deviceID string) error
}

// Listener receives client notifications. Any field may be nil. Callbacks
// run outside the client lock and may call back into the client.
type Listener struct {
	OnStateChange           func(State)
	OnChat                  func(protocol.ChatEvent)
	OnSessions              func([]protocol.SessionInfo)
	OnDisconnect            func(reason string)
	OnDevicePairingRequired func()
}

type Options struct {
	Dialer Dialer
	// Identity and Tokens are optional. Without Identity the handshake
	// carries no device block.
	Identity IdentityProvider
	Tokens   TokenStore
	// Token is the shared gateway token, used when no device token is stored.
	Token    string
	Client   protocol.ClientInfo
	Role     string
	Scopes   []string
	Limiter  *rate.Limiter
	Listener Listener
	Now      func() time.Time
}

// Client speaks the gateway protocol over one transport at a time.
type Client struct {
	opts   Options
	logger zerolog.Logger
	chat   *chat.Assembler
	events *registry

	mu      sync.Mutex
	state   State
	link    *link
	pending map[string]*pendingRequest
	lastErr error
	changed chan struct{}

	// listener callbacks queued under mu and run in order by one drainer
	notices  []func()
	draining bool
}

type pendingRequest struct {
	method string
	ch     chan result
}

type result struct {
	payload json.RawMessage
	err     error
}

// link binds one transport to the client. Traffic from a detached link is
// dropped.
type link struct {
	client    *Client
	transport Transport
	detached  atomic.Bool
	// guarded by client.mu
	challenged bool
	ctx        context.Context
	cancel     context.CancelFunc
}

func (l *link) HandleFrame(data []byte) {
	if l.detached.Load() {
		return
	}
	l.client.handleFrame(l, data)
}

func (l *link) HandleClose(err error) {
	if l.detached.Load() {
		return
	}
	l.client.handleClose(l, err)
}

func New(opts Options, logger zerolog.Logger) *Client {
	if opts.Client.ID == "" {
		opts.Client.ID = protocol.ClientIDControlUI
	}
	if opts.Client.Mode == "" {
		opts.Client.Mode = protocol.ClientModeWebchat
	}
	if opts.Client.Version == "" {
		opts.Client.Version = "dev"
	}
	if opts.Client.Platform == "" {
		opts.Client.Platform = runtime.GOOS
	}
	if opts.Client.InstanceID == "" {
		opts.Client.InstanceID = uuid.NewString()
	}
	if opts.Role == "" {
		opts.Role = protocol.RoleOperator
	}
	if opts.Scopes == nil {
		opts.Scopes = append([]string(nil), protocol.DefaultOperatorScopes...)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "gateway").Logger(),
		chat:    chat.NewAssembler(),
		events:  newRegistry(),
		pending: make(map[string]*pendingRequest),
		changed: make(chan struct{}),
	}
}

// Connect tears down any existing transport and dials a new one. The
// handshake runs when the gateway sends its challenge; use WaitConnected to
// block until it completes.
func (c *Client) Connect(ctx context.Context) error {
	if c.opts.Dialer == nil {
		return errors.New("gateway: no dialer configured")
	}

	l := &link{client: c}
	l.ctx, l.cancel = context.WithCancel(context.Background())

	c.mu.Lock()
	old := c.detachLocked()
	c.rejectPendingLocked(ErrDisconnected)
	c.link = l
	c.lastErr = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	c.flush()

	t, err := c.opts.Dialer.Dial(ctx)
	if err != nil {
		err = fmt.Errorf("connect gateway: %w", err)
		c.mu.Lock()
		if c.link != l {
			c.mu.Unlock()
			return err
		}
		c.detachLocked()
		c.lastErr = err
		c.setStateLocked(StateError)
		c.queueDisconnectLocked(err.Error())
		c.mu.Unlock()

		c.logger.Warn().Err(err).Msg("dial failed")
		c.flush()
		return err
	}

	c.mu.Lock()
	if c.link != l {
		// superseded while dialing
		c.mu.Unlock()
		_ = t.Close()
		return ErrDisconnected
	}
	l.transport = t
	c.mu.Unlock()

	t.Start(l)
	return nil
}

// Disconnect closes the current transport. It never fires OnDisconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	t := c.detachLocked()
	c.rejectPendingLocked(ErrDisconnected)
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	c.flush()
}

// Request sends one RPC on the current transport and waits for its response.
func (c *Client) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.request(ctx, nil, method, params)
}

// request targets l, or the current link when l is nil.
func (c *Client) request(ctx context.Context, l *link, method string, params interface{}) (json.RawMessage, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("request id: %w", err)
	}
	frame, err := protocol.NewRequest(id.String(), method, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	data, err := frame.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	p := &pendingRequest{method: method, ch: make(chan result, 1)}

	c.mu.Lock()
	cur := c.link
	if cur == nil || cur.transport == nil || (l != nil && cur != l) {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[frame.ID] = p
	c.mu.Unlock()

	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			if !c.forget(frame.ID) {
				return nil, (<-p.ch).err
			}
			return nil, err
		}
	}

	if err := cur.transport.Send(data); err != nil {
		if !c.forget(frame.ID) {
			return nil, (<-p.ch).err
		}
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case r := <-p.ch:
		return r.payload, r.err
	case <-ctx.Done():
		c.forget(frame.ID)
		return nil, ctx.Err()
	}
}

// forget drops a pending request and reports whether it was still pending.
func (c *Client) forget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// On registers a handler for a server event. Handlers run on their own
// goroutine. The returned func unsubscribes.
func (c *Client) On(event string, h Handler) func() {
	return c.events.add(event, h)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error behind the most recent error or disconnected
// transition, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// WaitConnected blocks until the handshake completes or the connection
// attempt fails.
func (c *Client) WaitConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		st, ch, lastErr := c.state, c.changed, c.lastErr
		c.mu.Unlock()

		switch st {
		case StateConnected:
			return nil
		case StateError, StateDisconnected:
			if lastErr != nil {
				return lastErr
			}
			return ErrDisconnected
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) handleFrame(l *link, data []byte) {
	var f protocol.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping unparseable frame")
		return
	}

	switch f.Type {
	case protocol.FrameResponse:
		c.resolve(&f)
	case protocol.FrameEvent:
		c.dispatch(l, &f)
	default:
		c.logger.Debug().Str("type", f.Type).Msg("ignoring frame")
	}
}

func (c *Client) resolve(f *protocol.Frame) {
	c.mu.Lock()
	p, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug().Str("id", f.ID).Msg("response for unknown request")
		return
	}
	if f.Succeeded() {
		p.ch <- result{payload: f.Payload}
		return
	}

	reqErr := &RequestError{Method: p.method, Code: protocol.ErrCodeUnknown, Message: "request failed"}
	if f.Error != nil {
		if f.Error.Code != "" {
			reqErr.Code = f.Error.Code
		}
		if f.Error.Message != "" {
			reqErr.Message = f.Error.Message
		}
		reqErr.Details = f.Error.Details
	}
	p.ch <- result{err: reqErr}
}

func (c *Client) dispatch(l *link, f *protocol.Frame) {
	switch f.Event {
	case protocol.EventConnectChallenge:
		c.handleChallenge(l, f.Payload)
	case protocol.EventChat:
		c.handleChat(f.Payload)
	}

	for _, h := range c.events.lookup(f.Event) {
		go h(f.Payload)
	}
}

func (c *Client) handleChallenge(l *link, payload json.RawMessage) {
	var challenge protocol.ConnectChallenge
	if err := json.Unmarshal(payload, &challenge); err != nil || challenge.Nonce == "" {
		c.logger.Warn().Msg("challenge without nonce")
		return
	}

	c.mu.Lock()
	if c.link != l || l.challenged {
		c.mu.Unlock()
		c.logger.Debug().Msg("ignoring repeated challenge")
		return
	}
	l.challenged = true
	c.setStateLocked(StateAuthenticating)
	c.mu.Unlock()

	c.flush()
	go c.handshake(l, challenge)
}

func (c *Client) handleChat(payload json.RawMessage) {
	var ev protocol.ChatEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed chat event")
		return
	}
	c.chat.Apply(ev)
	if fn := c.opts.Listener.OnChat; fn != nil {
		fn(ev)
	}
}

func (c *Client) handleClose(l *link, err error) {
	reason, state := closeReason(err)

	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	t := c.detachLocked()
	c.rejectPendingLocked(ErrDisconnected)
	c.lastErr = fmt.Errorf("%w: %s", ErrDisconnected, reason)
	c.setStateLocked(state)
	c.queueDisconnectLocked(reason)
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	c.logger.Info().Str("reason", reason).Stringer("state", state).Msg("gateway connection closed")
	c.flush()
}

// closeReason maps a transport end to a reason and the resulting state. A
// close frame from the gateway is a clean disconnect; anything else is an
// error.
func closeReason(err error) (string, State) {
	if err == nil {
		return "connection closed", StateDisconnected
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			return fmt.Sprintf("closed (%d): %s", closeErr.Code, closeErr.Text), StateDisconnected
		}
		return fmt.Sprintf("closed (%d)", closeErr.Code), StateDisconnected
	}
	return err.Error(), StateError
}

// detachLocked unbinds the current link and returns its transport for the
// caller to close outside the lock.
func (c *Client) detachLocked() Transport {
	l := c.link
	if l == nil {
		return nil
	}
	l.detached.Store(true)
	l.cancel()
	c.link = nil
	return l.transport
}

func (c *Client) rejectPendingLocked(err error) {
	for id, p := range c.pending {
		delete(c.pending, id)
		p.ch <- result{err: err}
	}
}

// setStateLocked records a transition and queues OnStateChange. The caller
// runs flush once the lock is released.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})

	if fn := c.opts.Listener.OnStateChange; fn != nil {
		c.notices = append(c.notices, func() { fn(s) })
	}
}

func (c *Client) queueDisconnectLocked(reason string) {
	if fn := c.opts.Listener.OnDisconnect; fn != nil {
		c.notices = append(c.notices, func() { fn(reason) })
	}
}

// flush runs queued listener callbacks outside the lock. Only one goroutine
// drains at a time, so callbacks see transitions in the order they happened
// even when the goroutines that caused them race.
func (c *Client) flush() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.notices) > 0 {
		fn := c.notices[0]
		c.notices[0] = nil
		c.notices = c.notices[1:]
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	c.notices = nil
	c.draining = false
	c.mu.Unlock()
}
