package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const sealedFormatVersion = 1

// ErrWrongPassphrase is returned when a sealed value cannot be opened.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted value")

// ErrKDFCost is returned when a sealed value asks for a key-derivation cost
// above the store's own parameters.
var ErrKDFCost = errors.New("sealed value exceeds configured scrypt cost")

// ScryptParams are the key-derivation cost parameters for sealed values.
type ScryptParams struct {
	N, R, P int
}

// DefaultScryptParams returns the cost used for device key material.
func DefaultScryptParams() ScryptParams { return ScryptParams{N: 1 << 15, R: 8, P: 1} }

// sealedBlob is the stored JSON structure holding the ciphertext and KDF parameters.
type sealedBlob struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// Sealed wraps a Store and encrypts every value at rest with a key derived
// from a passphrase. Keys are stored in the clear; the key is bound into the
// AEAD associated data so values cannot be swapped between keys.
type Sealed struct {
	inner      Store
	passphrase string
	params     ScryptParams
}

func NewSealed(inner Store, passphrase string, params ScryptParams) *Sealed {
	return &Sealed{inner: inner, passphrase: passphrase, params: params}
}

func (s *Sealed) Get(key string) ([]byte, bool, error) {
	raw, ok, err := s.inner.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	pt, err := s.open(key, raw)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", key, err)
	}
	return pt, true, nil
}

func (s *Sealed) Set(key string, value []byte) error {
	blob, err := s.seal(key, value)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	return s.inner.Set(key, blob)
}

func (s *Sealed) Delete(key string) error { return s.inner.Delete(key) }

func (s *Sealed) List(prefix string) ([]Entry, error) { return s.inner.List(prefix) }

func (s *Sealed) Close() error { return s.inner.Close() }

func (s *Sealed) seal(key string, plaintext []byte) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	aead, err := s.aead(salt[:], s.params)
	if err != nil {
		return nil, err
	}
	// zero nonce; the per-value salt makes every key unique
	var nonce [chacha20poly1305.NonceSize]byte
	ct := aead.Seal(nil, nonce[:], plaintext, associatedData(key, salt[:]))

	return json.Marshal(sealedBlob{
		V:      sealedFormatVersion,
		Salt:   salt[:],
		N:      s.params.N,
		R:      s.params.R,
		P:      s.params.P,
		Cipher: ct,
	})
}

func (s *Sealed) open(key string, raw []byte) ([]byte, error) {
	var bl sealedBlob
	if err := json.Unmarshal(raw, &bl); err != nil {
		return nil, ErrWrongPassphrase
	}
	if bl.V > sealedFormatVersion {
		return nil, fmt.Errorf("unsupported sealed format version %d", bl.V)
	}
	if bl.N > s.params.N || bl.R > s.params.R || bl.P > s.params.P {
		return nil, ErrKDFCost
	}
	aead, err := s.aead(bl.Salt, ScryptParams{N: bl.N, R: bl.R, P: bl.P})
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], bl.Cipher, associatedData(key, bl.Salt))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

func (s *Sealed) aead(salt []byte, p ScryptParams) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(s.passphrase), salt, p.N, p.R, p.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

func associatedData(key string, salt []byte) []byte {
	ad := make([]byte, 0, len(key)+1+len(salt))
	ad = append(ad, key...)
	ad = append(ad, 0)
	return append(ad, salt...)
}
