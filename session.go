package auth

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// SessionTokenBytes is the entropy of a session token (256 bits).
const SessionTokenBytes = 32

// SessionValidity is the outcome of a stored token comparison.
type SessionValidity int

const (
	SessionInvalid SessionValidity = iota
	SessionValid
)

func (v SessionValidity) String() string {
	if v == SessionValid {
		return "valid"
	}
	return "invalid"
}

// SessionManager enforces a single active session per account. Issuing a new
// token overwrites the stored digest, which implicitly invalidates any token
// handed out before.
type SessionManager struct {
	Random io.Reader
}

func NewSessionManager() *SessionManager {
	return &SessionManager{Random: rand.Reader}
}

// Issue generates a token, stores its digest and returns the plaintext.
func (m *SessionManager) Issue(account *Account, now time.Time) (string, error) {
	token, err := randomToken(m.Random, SessionTokenBytes)
	if err != nil {
		return "", err
	}
	account.SessionTokenHash = digestSecret(token)
	account.SessionIssuedAt = timePtr(now)
	return token, nil
}

// Validate compares token with the stored digest in constant time.
func (m *SessionManager) Validate(account *Account, token string) SessionValidity {
	if account == nil || account.SessionTokenHash == "" {
		return SessionInvalid
	}
	if !secretMatches(account.SessionTokenHash, token) {
		return SessionInvalid
	}
	return SessionValid
}

// Revoke clears the stored token.
func (m *SessionManager) Revoke(account *Account) {
	account.SessionTokenHash = ""
	account.SessionIssuedAt = nil
}

// SessionObject is the decoded transport credential of a request.
type SessionObject struct {
	AccountID    string     `json:"account_id,omitempty"`
	SessionToken string     `json:"-"`
	Purpose      string     `json:"purpose,omitempty"`
	Remember     bool       `json:"remember,omitempty"`
	Issuer       string     `json:"issuer,omitempty"`
	Audience     []string   `json:"audience,omitempty"`
	IssuedAt     *time.Time `json:"issued_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	AuthTime     *time.Time `json:"auth_time,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.AccountID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.AccountID)
}

func (s *SessionObject) GetAudience() []string {
	return s.Audience
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s SessionObject) String() string {
	return fmt.Sprintf(
		"account=%s purpose=%s iss=%s aud=%v iat=%s exp=%s",
		s.AccountID,
		s.Purpose,
		s.Issuer,
		s.Audience,
		formatTime(s.IssuedAt),
		formatTime(s.ExpiresAt),
	)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
