package device

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openclaw/openclaw-chat/internal/store"
)

const (
	identityKey           = "device-identity"
	identityRecordVersion = 1
)

var errInvalidRecord = errors.New("invalid identity record")

// Identity is the durable device keypair. ID is always derived from
// PublicKey, never read back from storage.
type Identity struct {
	ID        string
	PublicKey []byte
	private   []byte
}

// PublicKeyBase64URL returns the raw public key in wire encoding.
func (i Identity) PublicKeyBase64URL() string {
	return EncodeBase64URL(i.PublicKey)
}

// DeriveID returns the lowercase hex digest of the raw public key.
func DeriveID(scheme KeyScheme, pub []byte) string {
	return hex.EncodeToString(scheme.Digest(pub))
}

// IdentityFromPrivateKey rebuilds an identity from existing key material.
func IdentityFromPrivateKey(scheme KeyScheme, priv []byte) (Identity, error) {
	pub, err := scheme.PublicKey(priv)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		ID:        DeriveID(scheme, pub),
		PublicKey: pub,
		private:   append([]byte(nil), priv...),
	}, nil
}

type identityRecord struct {
	Version     int    `json:"version"`
	DeviceID    string `json:"deviceId"`
	PublicKey   string `json:"publicKey"`
	PrivateKey  string `json:"privateKey"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// Provider loads or creates the device identity and signs with it.
type Provider struct {
	store  store.Store
	scheme KeyScheme
	logger zerolog.Logger

	mu     sync.Mutex
	cached *Identity
}

type Option func(*Provider)

func WithScheme(s KeyScheme) Option { return func(p *Provider) { p.scheme = s } }

func WithLogger(l zerolog.Logger) Option { return func(p *Provider) { p.logger = l } }

func NewProvider(s store.Store, opts ...Option) *Provider {
	p := &Provider{
		store:  s,
		scheme: Ed25519{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "device").Logger()
	return p
}

// GetOrCreate returns the persisted identity, generating and persisting a
// new one when none is stored or the stored record is unusable.
func (p *Provider) GetOrCreate() (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return *p.cached, nil
	}

	if id, ok := p.load(); ok {
		p.cached = &id
		return id, nil
	}

	pub, priv, err := p.scheme.GenerateKey()
	if err != nil {
		return Identity{}, fmt.Errorf("device identity init: %w", err)
	}
	id := Identity{ID: DeriveID(p.scheme, pub), PublicKey: pub, private: priv}

	rec := identityRecord{
		Version:     identityRecordVersion,
		DeviceID:    id.ID,
		PublicKey:   EncodeBase64URL(pub),
		PrivateKey:  EncodeBase64URL(priv),
		CreatedAtMs: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Identity{}, fmt.Errorf("device identity init: %w", err)
	}
	if err := p.store.Set(identityKey, data); err != nil {
		return Identity{}, fmt.Errorf("persist device identity: %w", err)
	}

	p.logger.Info().Str("device_id", id.ID).Msg("generated device identity")
	p.cached = &id
	return id, nil
}

// Sign signs payload with the device private key.
func (p *Provider) Sign(payload []byte) ([]byte, error) {
	id, err := p.GetOrCreate()
	if err != nil {
		return nil, err
	}
	return p.scheme.Sign(id.private, payload)
}

// load never fails to the caller: unreadable or corrupt records count as absent.
func (p *Provider) load() (Identity, bool) {
	data, ok, err := p.store.Get(identityKey)
	if err != nil {
		p.logger.Warn().Err(err).Msg("read device identity; regenerating")
		return Identity{}, false
	}
	if !ok {
		return Identity{}, false
	}
	id, err := p.decode(data)
	if err != nil {
		p.logger.Warn().Err(err).Msg("stored device identity unusable; regenerating")
		return Identity{}, false
	}
	return id, true
}

func (p *Provider) decode(data []byte) (Identity, error) {
	var rec identityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", errInvalidRecord, err)
	}
	if rec.Version != identityRecordVersion {
		return Identity{}, fmt.Errorf("%w: version %d", errInvalidRecord, rec.Version)
	}
	pub, err := DecodeBase64URL(rec.PublicKey)
	if err != nil || len(pub) != 32 {
		return Identity{}, fmt.Errorf("%w: public key", errInvalidRecord)
	}
	priv, err := DecodeBase64URL(rec.PrivateKey)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: private key", errInvalidRecord)
	}
	id, err := IdentityFromPrivateKey(p.scheme, priv)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", errInvalidRecord, err)
	}
	if !bytes.Equal(id.PublicKey, pub) {
		return Identity{}, fmt.Errorf("%w: key pair mismatch", errInvalidRecord)
	}
	if rec.DeviceID != id.ID {
		p.logger.Warn().Str("stored", rec.DeviceID).Str("derived", id.ID).Msg("stored device id differs from key digest; using derived id")
	}
	return id, nil
}
