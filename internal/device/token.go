package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/openclaw-chat/internal/store"
)

const tokenKeyPrefix = "device-token:"

// Token is a gateway-issued device token, reused on later handshakes instead
// of pairing again.
type Token struct {
	Token       string   `json:"token"`
	Role        string   `json:"role,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
	UpdatedAtMs int64    `json:"updatedAtMs"`
}

// Tokens persists device tokens keyed by device id.
type Tokens struct {
	store store.Store
	now   func() time.Time
}

func NewTokens(s store.Store) *Tokens {
	return &Tokens{store: s, now: time.Now}
}

// Load returns the stored token for deviceID. A corrupt record reads as absent.
func (t *Tokens) Load(deviceID string) (Token, bool, error) {
	data, ok, err := t.store.Get(tokenKeyPrefix + deviceID)
	if err != nil || !ok {
		return Token{}, false, err
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil || tok.Token == "" {
		return Token{}, false, nil
	}
	return tok, true, nil
}

func (t *Tokens) Save(deviceID string, tok Token) error {
	if tok.UpdatedAtMs == 0 {
		tok.UpdatedAtMs = t.now().UnixMilli()
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := t.store.Set(tokenKeyPrefix+deviceID, data); err != nil {
		return fmt.Errorf("persist device token: %w", err)
	}
	return nil
}

func (t *Tokens) Clear(deviceID string) error {
	return t.store.Delete(tokenKeyPrefix + deviceID)
}

// DeviceIDs lists devices that currently hold a token.
func (t *Tokens) DeviceIDs() ([]string, error) {
	entries, err := t.store.List(tokenKeyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, strings.TrimPrefix(e.Key, tokenKeyPrefix))
	}
	return ids, nil
}
