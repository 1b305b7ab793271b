package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openclaw/openclaw-chat/internal/chat"
	"github.com/openclaw/openclaw-chat/internal/protocol"
)

const DefaultHistoryLimit = 200

// SendChat submits text to a session and returns the run id the gateway
// acknowledged. The user message is recorded locally before the request goes
// out.
func (c *Client) SendChat(ctx context.Context, sessionKey, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}
	if c.State() != StateConnected {
		return "", ErrNotConnected
	}

	runID := uuid.NewString()
	c.chat.AppendUser(sessionKey, runID, text)

	res, err := c.Request(ctx, protocol.MethodChatSend, protocol.ChatSendParams{
		SessionKey:     sessionKey,
		Message:        text,
		Deliver:        false,
		IdempotencyKey: runID,
	})
	if err != nil {
		c.chat.EndRun(sessionKey, runID)
		return "", err
	}

	// The gateway may key the run under its own id. Events and aborts use
	// that id from here on.
	var ack protocol.ChatSendResult
	if err := json.Unmarshal(res, &ack); err == nil && ack.RunID != "" && ack.RunID != runID {
		c.logger.Debug().Str("local", runID).Str("remote", ack.RunID).Msg("gateway assigned a different run id")
		c.chat.RenameRun(sessionKey, runID, ack.RunID)
		runID = ack.RunID
	}
	return runID, nil
}

// AbortRun asks the gateway to stop the run streaming into sessionKey. It is
// a no-op when nothing is streaming. The local run is finalized only by the
// gateway's terminal event.
func (c *Client) AbortRun(ctx context.Context, sessionKey string) error {
	runID, ok := c.chat.StreamingRunID(sessionKey)
	if !ok {
		return nil
	}
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	_, err := c.Request(ctx, protocol.MethodChatAbort, protocol.ChatAbortParams{
		SessionKey: sessionKey,
		RunID:      runID,
	})
	return err
}

// LoadHistory fetches the transcript of sessionKey and replaces the local log
// with it.
func (c *Client) LoadHistory(ctx context.Context, sessionKey string, limit int) ([]chat.Message, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	res, err := c.Request(ctx, protocol.MethodChatHistory, protocol.ChatHistoryParams{
		SessionKey: sessionKey,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	var out protocol.ChatHistoryResult
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	msgs := make([]chat.Message, 0, len(out.Messages))
	for _, raw := range out.Messages {
		var hm protocol.HistoryMessage
		if err := json.Unmarshal(raw, &hm); err != nil {
			continue
		}
		role := chat.Role(hm.Role)
		switch role {
		case chat.RoleUser, chat.RoleAssistant, chat.RoleSystem:
		default:
			// tool traffic is not part of the conversation view
			continue
		}
		m := chat.Message{Role: role, Content: protocol.ExtractText(raw)}
		if hm.Timestamp > 0 {
			m.TS = time.UnixMilli(hm.Timestamp)
		}
		msgs = append(msgs, m)
	}

	c.chat.Replace(sessionKey, msgs)
	return c.chat.Messages(sessionKey), nil
}

// Messages returns a copy of the local log for sessionKey.
func (c *Client) Messages(sessionKey string) []chat.Message {
	return c.chat.Messages(sessionKey)
}

// StreamingRunID returns the run currently streaming into sessionKey.
func (c *Client) StreamingRunID(sessionKey string) (string, bool) {
	return c.chat.StreamingRunID(sessionKey)
}
