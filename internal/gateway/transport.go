package gateway

import (
	"context"
	"errors"
)

var ErrTransportClosed = errors.New("transport closed")

// Transport is one live connection to a gateway. Frames are opaque JSON
// documents; the transport does no parsing.
type Transport interface {
	// Start begins delivering inbound traffic to sink. Called once.
	Start(sink Sink)
	Send(frame []byte) error
	// Close is idempotent.
	Close() error
}

// Sink receives the inbound traffic of one transport, one call at a time and
// in wire order.
type Sink interface {
	HandleFrame(data []byte)
	// HandleClose is called once when the transport ends on its own. A nil
	// or close-frame error means the remote side closed cleanly.
	HandleClose(err error)
}

type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}
