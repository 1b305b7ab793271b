package device

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// KeyScheme is the signing provider the identity is built on. The private key
// bytes are opaque to everything but the scheme.
type KeyScheme interface {
	GenerateKey() (pub, priv []byte, err error)
	// PublicKey derives the public key from private key material.
	PublicKey(priv []byte) ([]byte, error)
	Sign(priv, payload []byte) ([]byte, error)
	Digest(data []byte) []byte
}

// Ed25519 is the default KeyScheme. Private key material is the 32-byte seed.
type Ed25519 struct{}

func (Ed25519) GenerateKey() ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	return []byte(pub), priv.Seed(), nil
}

func (Ed25519) PublicKey(priv []byte) ([]byte, error) {
	if len(priv) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid ed25519 seed size %d", len(priv))
	}
	pub := ed25519.NewKeyFromSeed(priv).Public().(ed25519.PublicKey)
	return []byte(pub), nil
}

func (Ed25519) Sign(priv, payload []byte) ([]byte, error) {
	if len(priv) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid ed25519 seed size %d", len(priv))
	}
	return ed25519.Sign(ed25519.NewKeyFromSeed(priv), payload), nil
}

func (Ed25519) Digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
