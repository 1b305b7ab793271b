package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotConnected = errors.New("gateway not connected")
	ErrDisconnected = errors.New("gateway disconnected")
	ErrEmptyMessage = errors.New("empty chat message")
)

// RequestError is a response with ok=false. Only the caller of that request
// sees it.
type RequestError struct {
	Method  string
	Code    string
	Message string
	Details json.RawMessage
}

func (e *RequestError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Method, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Method, e.Message, e.Code)
}

// HandshakeError is a rejected or failed connect request.
type HandshakeError struct {
	Err             error
	PairingRequired bool
}

func (e *HandshakeError) Error() string {
	if e.PairingRequired {
		return "device pairing required: " + e.Err.Error()
	}
	return "handshake failed: " + e.Err.Error()
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// The gateway reports pairing problems only in human-readable text, so this
// stays a substring match.
var pairingMarkers = []string{"pairing", "unpaired", "not paired", "not approved"}

func isPairingRequired(err error) bool {
	text := err.Error()
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		text = reqErr.Message
	}
	text = strings.ToLower(text)
	for _, marker := range pairingMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
