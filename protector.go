package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	protectorKeySize   = 32
	protectorNonceSize = 24
)

var (
	ErrProtectorKey     = errors.New("protector key must be 32 bytes")
	ErrProtectedPayload = errors.New("protected payload could not be opened")
)

// Protector seals profile values that must not be readable at rest, such as
// the member national id.
type Protector interface {
	Protect(plain string) (string, error)
	Unprotect(sealed string) (string, error)
}

// SecretboxProtector seals values with XSalsa20-Poly1305. The random nonce
// is prepended to the box and the result is base64url encoded.
type SecretboxProtector struct {
	key  [protectorKeySize]byte
	rand io.Reader
}

func NewSecretboxProtector(key []byte) (*SecretboxProtector, error) {
	if len(key) != protectorKeySize {
		return nil, ErrProtectorKey
	}
	p := &SecretboxProtector{rand: rand.Reader}
	copy(p.key[:], key)
	return p, nil
}

func (p *SecretboxProtector) Protect(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	var nonce [protectorNonceSize]byte
	if _, err := io.ReadFull(p.rand, nonce[:]); err != nil {
		return "", err
	}

	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &p.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (p *SecretboxProtector) Unprotect(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < protectorNonceSize+secretbox.Overhead {
		return "", ErrProtectedPayload
	}

	var nonce [protectorNonceSize]byte
	copy(nonce[:], raw[:protectorNonceSize])

	plain, ok := secretbox.Open(nil, raw[protectorNonceSize:], &nonce, &p.key)
	if !ok {
		return "", ErrProtectedPayload
	}
	return string(plain), nil
}

// RevealNRIC returns the member national id, or nil when none is stored or
// the stored value cannot be opened with the configured key. Failures are
// logged and never surface the sealed value.
func (s *Auther) RevealNRIC(account *Account) *string {
	if account == nil || account.NRICProtected == "" || s.protector == nil {
		return nil
	}

	plain, err := s.protector.Unprotect(account.NRICProtected)
	if err != nil {
		s.logger.Warn("unable to open national id for account %s: %v", account.ID, err)
		return nil
	}
	return &plain
}
