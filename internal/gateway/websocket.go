package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openclaw/openclaw-chat/internal/ratelimit"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 256
)

var errSendBufferFull = errors.New("send buffer full")

// WebSocketDialer opens gateway connections over gorilla/websocket.
type WebSocketDialer struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return newWSConn(ws, d.Logger), nil
}

// wsConn owns one socket: a read pump feeding the sink and a write pump
// draining send.
type wsConn struct {
	ws        *websocket.Conn
	logger    zerolog.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
}

func newWSConn(ws *websocket.Conn, logger zerolog.Logger) *wsConn {
	return &wsConn{
		ws:     ws,
		logger: logger,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) Start(sink Sink) {
	c.startOnce.Do(func() {
		go c.writePump()
		go c.readPump(sink)
	})
}

func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrTransportClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrTransportClosed
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) readPump(sink Sink) {
	c.ws.SetReadLimit(ratelimit.MaxFrameSize)
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// closed locally, nobody is listening
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("gateway read failed")
			}
			_ = c.Close()
			sink.HandleClose(err)
			return
		}
		sink.HandleFrame(raw)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn().Err(err).Msg("gateway write failed")
				// unblocks the read pump, which reports the close
				_ = c.ws.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}

		case <-c.done:
			return
		}
	}
}
