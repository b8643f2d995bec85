package totp

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "xc1:"

var (
	// ErrSealedSecret is returned when a sealed secret cannot be opened.
	ErrSealedSecret = errors.New("sealed totp secret cannot be opened")
)

// Sealer encrypts secrets at rest. A Sealer without a key passes secrets
// through unchanged, but still refuses to open sealed values.
type Sealer struct {
	key []byte
}

// NewSealer returns a Sealer for a 32-byte key, or a pass-through Sealer for
// an empty key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 0 && len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("totp seal key must be 32 bytes")
	}
	return &Sealer{key: append([]byte(nil), key...)}, nil
}

// Seal encrypts secret bound to owner.
func (s *Sealer) Seal(owner, secret string) (string, error) {
	if len(s.key) == 0 {
		return secret, nil
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(secret)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(secret), []byte(owner))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Unsealed values are returned as-is.
func (s *Sealer) Open(owner, stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if len(s.key) == 0 {
		return "", ErrSealedSecret
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", ErrSealedSecret
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrSealedSecret
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], []byte(owner))
	if err != nil {
		return "", ErrSealedSecret
	}
	return string(plain), nil
}
