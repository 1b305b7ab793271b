package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openclaw/openclaw-chat/internal/protocol"
)

// RefreshSessions lists the gateway's sessions and reports them to
// OnSessions.
func (c *Client) RefreshSessions(ctx context.Context) ([]protocol.SessionInfo, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	return c.refreshSessions(ctx, nil)
}

func (c *Client) refreshSessions(ctx context.Context, l *link) ([]protocol.SessionInfo, error) {
	res, err := c.request(ctx, l, protocol.MethodSessionsList, protocol.SessionsListParams{
		IncludeGlobal:  true,
		IncludeUnknown: false,
	})
	if err != nil {
		return nil, err
	}
	var out protocol.SessionsListResult
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	if fn := c.opts.Listener.OnSessions; fn != nil {
		fn(out.Sessions)
	}
	return out.Sessions, nil
}

// DeleteSession removes a session and its transcript, then refreshes the
// session list.
func (c *Client) DeleteSession(ctx context.Context, key string) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if _, err := c.Request(ctx, protocol.MethodSessionsDelete, protocol.SessionsDeleteParams{
		Key:              key,
		DeleteTranscript: true,
	}); err != nil {
		return err
	}
	c.chat.Drop(key)
	c.refreshAfterMutation(ctx)
	return nil
}

// ResetSession clears a session's transcript on the gateway, then refreshes
// the session list.
func (c *Client) ResetSession(ctx context.Context, key string) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if _, err := c.Request(ctx, protocol.MethodSessionsReset, protocol.SessionsResetParams{Key: key}); err != nil {
		return err
	}
	c.chat.Replace(key, nil)
	c.refreshAfterMutation(ctx)
	return nil
}

func (c *Client) refreshAfterMutation(ctx context.Context) {
	if _, err := c.refreshSessions(ctx, nil); err != nil {
		c.logger.Warn().Err(err).Msg("session refresh failed")
	}
}
