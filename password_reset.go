package auth

import (
	"crypto/rand"
	"io"
	"time"
)

const (
	// ResetTokenBytes is the entropy of a reset token (256 bits).
	ResetTokenBytes      = 32
	DefaultResetTokenTTL = time.Hour
)

// TokenValidity is the outcome of a reset token check.
type TokenValidity int

const (
	TokenInvalid TokenValidity = iota
	TokenValid
)

func (v TokenValidity) String() string {
	if v == TokenValid {
		return "valid"
	}
	return "invalid"
}

// ResetFlow issues and redeems password reset tokens.
type ResetFlow struct {
	TTL     time.Duration
	Random  io.Reader
	Policy  *PasswordPolicy
	Hasher  *Hasher
	Lockout *LockoutTracker
}

// NewResetFlow wires a reset flow with the default one hour TTL.
func NewResetFlow(policy *PasswordPolicy, hasher *Hasher, lockout *LockoutTracker) *ResetFlow {
	return &ResetFlow{
		TTL:     DefaultResetTokenTTL,
		Random:  rand.Reader,
		Policy:  policy,
		Hasher:  hasher,
		Lockout: lockout,
	}
}

// NewToken generates a token without binding it to an account. Requests for
// unknown emails go through it so both paths perform the same work.
func (f *ResetFlow) NewToken() (string, error) {
	return randomToken(f.Random, ResetTokenBytes)
}

// RequestReset stores a new token on account, replacing any pending one.
func (f *ResetFlow) RequestReset(account *Account, now time.Time) (string, error) {
	token, err := f.NewToken()
	if err != nil {
		return "", err
	}
	account.ResetTokenHash = digestSecret(token)
	account.ResetTokenExpiry = timePtr(now.Add(f.ttl()))
	return token, nil
}

// ValidateToken is valid strictly before the expiry instant.
func (f *ResetFlow) ValidateToken(account *Account, email, token string, now time.Time) TokenValidity {
	if account == nil || account.ResetTokenExpiry == nil {
		return TokenInvalid
	}
	if NormalizeEmail(email) != NormalizeEmail(account.Email) {
		return TokenInvalid
	}
	if !secretMatches(account.ResetTokenHash, token) {
		return TokenInvalid
	}
	if !now.Before(*account.ResetTokenExpiry) {
		return TokenInvalid
	}
	return TokenValid
}

// Complete applies the new credential after the strength and reuse checks,
// then clears the reset token and any lockout.
func (f *ResetFlow) Complete(account *Account, newCredential string, now time.Time) error {
	if err := f.Policy.Validate(account, newCredential, f.Hasher); err != nil {
		return err
	}

	hash, err := f.Hasher.Hash(newCredential)
	if err != nil {
		return err
	}

	f.Policy.ApplyChange(account, hash, now)
	f.Clear(account)
	f.Lockout.Reset(account)
	return nil
}

// Clear drops the pending reset token.
func (f *ResetFlow) Clear(account *Account) {
	account.ResetTokenHash = ""
	account.ResetTokenExpiry = nil
}

func (f *ResetFlow) ttl() time.Duration {
	if f.TTL <= 0 {
		return DefaultResetTokenTTL
	}
	return f.TTL
}
