package gateway

import (
	"encoding/json"
	"errors"

	"github.com/openclaw/openclaw-chat/internal/device"
	"github.com/openclaw/openclaw-chat/internal/protocol"
)

// handshake answers a connect challenge on l. It runs on its own goroutine
// and gives up silently once l is detached.
func (c *Client) handshake(l *link, challenge protocol.ConnectChallenge) {
	params := protocol.ConnectParams{
		MinProtocol: protocol.ProtocolVersion,
		MaxProtocol: protocol.ProtocolVersion,
		Client:      c.opts.Client,
		Role:        c.opts.Role,
		Scopes:      c.opts.Scopes,
		Caps:        []string{},
	}

	var (
		ident       device.Identity
		hasIdentity bool
	)
	if c.opts.Identity != nil {
		id, err := c.opts.Identity.GetOrCreate()
		if err != nil {
			c.logger.Warn().Err(err).Msg("device identity unavailable, connecting without device auth")
		} else {
			ident, hasIdentity = id, true
		}
	}

	token, usedStored := c.opts.Token, false
	if hasIdentity && c.opts.Tokens != nil {
		stored, ok, err := c.opts.Tokens.Load(ident.ID)
		if err != nil {
			c.logger.Warn().Err(err).Msg("device token unavailable")
		} else if ok {
			token, usedStored = stored.Token, true
		}
	}
	params.Auth = protocol.ConnectAuth{Token: token}

	if hasIdentity {
		signedAt := c.opts.Now().UnixMilli()
		payload := device.AuthPayload{
			DeviceID:   ident.ID,
			ClientID:   params.Client.ID,
			ClientMode: params.Client.Mode,
			Role:       params.Role,
			Scopes:     params.Scopes,
			SignedAtMs: signedAt,
			Token:      token,
			Nonce:      challenge.Nonce,
		}
		sig, err := c.opts.Identity.Sign(payload.Bytes())
		if err != nil {
			c.logger.Warn().Err(err).Msg("signing failed, connecting without device auth")
		} else {
			params.Device = &protocol.DeviceAuth{
				ID:        ident.ID,
				PublicKey: ident.PublicKeyBase64URL(),
				Signature: device.EncodeBase64URL(sig),
				SignedAt:  signedAt,
				Nonce:     challenge.Nonce,
			}
		}
	}

	res, err := c.request(l.ctx, l, protocol.MethodConnect, params)
	if err != nil {
		c.failHandshake(l, err, usedStored, ident.ID)
		return
	}

	var hello protocol.HelloOK
	if err := json.Unmarshal(res, &hello); err != nil {
		c.logger.Warn().Err(err).Msg("unreadable hello payload")
	}
	if hello.Auth != nil && hello.Auth.DeviceToken != "" && hasIdentity && c.opts.Tokens != nil {
		tok := device.Token{
			Token:       hello.Auth.DeviceToken,
			Role:        hello.Auth.Role,
			Scopes:      hello.Auth.Scopes,
			UpdatedAtMs: c.opts.Now().UnixMilli(),
		}
		if err := c.opts.Tokens.Save(ident.ID, tok); err != nil {
			c.logger.Warn().Err(err).Msg("could not persist device token")
		}
	}

	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info().Str("client", params.Client.ID).Bool("device", params.Device != nil).Msg("gateway connected")
	c.flush()

	go func() {
		if _, err := c.refreshSessions(l.ctx, l); err != nil {
			c.logger.Debug().Err(err).Msg("initial session refresh failed")
		}
	}()
}

func (c *Client) failHandshake(l *link, err error, usedStored bool, deviceID string) {
	herr := &HandshakeError{Err: err, PairingRequired: isPairingRequired(err)}

	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	t := c.detachLocked()
	c.rejectPendingLocked(ErrDisconnected)
	c.lastErr = herr
	if fn := c.opts.Listener.OnDevicePairingRequired; herr.PairingRequired && fn != nil {
		c.notices = append(c.notices, fn)
	}
	c.setStateLocked(StateError)
	c.queueDisconnectLocked(herr.Error())
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}

	// A rejected stored token is stale; the next attempt falls back to the
	// shared token.
	var reqErr *RequestError
	if usedStored && errors.As(err, &reqErr) {
		if cerr := c.opts.Tokens.Clear(deviceID); cerr != nil {
			c.logger.Warn().Err(cerr).Msg("could not clear device token")
		}
	}

	c.logger.Warn().Err(err).Bool("pairing_required", herr.PairingRequired).Msg("handshake failed")
	c.flush()
}
