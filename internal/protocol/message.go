package protocol

import (
	"encoding/json"
	"strings"
)

// Frame is the wire wrapper for requests, responses and events. Only the
// fields relevant to Type are populated.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

// NewRequest creates a request frame with params marshaled to JSON.
func NewRequest(id, method string, params interface{}) (*Frame, error) {
	f := &Frame{Type: FrameRequest, ID: id, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		f.Params = data
	}
	return f, nil
}

// NewResponse creates a response frame. A nil errShape means ok=true.
func NewResponse(id string, payload interface{}, errShape *ErrorShape) (*Frame, error) {
	ok := errShape == nil
	f := &Frame{Type: FrameResponse, ID: id, OK: &ok, Error: errShape}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Payload = data
	}
	return f, nil
}

// NewEvent creates an event frame.
func NewEvent(event string, payload interface{}) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: FrameEvent, Event: event, Payload: data}, nil
}

// Succeeded reports whether a response frame carries ok=true.
func (f *Frame) Succeeded() bool {
	return f.OK != nil && *f.OK
}

// ParseParams unmarshals the request params into the given target.
func (f *Frame) ParseParams(target interface{}) error {
	return json.Unmarshal(f.Params, target)
}

// Marshal serializes the frame to JSON bytes.
func (f *Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

type contentSegment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageBody struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Text    string          `json:"text"`
}

// ExtractText returns the displayable text of a chat message payload. The
// payload may be a bare string, or an object whose content is a string or a
// list of typed segments; only "text" segments are kept, in order.
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var msg messageBody
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}
	if text, ok := contentText(msg.Content); ok {
		return text
	}
	return msg.Text
}

// MessageRole returns the role field of a chat message payload, if any.
func MessageRole(raw json.RawMessage) string {
	var msg messageBody
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}
	return msg.Role
}

func contentText(content json.RawMessage) (string, bool) {
	if len(content) == 0 || string(content) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s, true
	}
	var segments []contentSegment
	if err := json.Unmarshal(content, &segments); err != nil {
		return "", false
	}
	var b strings.Builder
	for _, seg := range segments {
		if seg.Type == "text" {
			b.WriteString(seg.Text)
		}
	}
	return b.String(), true
}
