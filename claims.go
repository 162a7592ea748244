package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Credential purposes. Only PurposeSession grants access to member pages;
// the others carry an account through an unfinished sign in.
const (
	PurposeSession         = "session"
	PurposeSecondFactor    = "second_factor"
	PurposePasswordExpired = "password_expired"
)

// SessionClaims is the signed payload of the session cookie. SID holds the
// plaintext session token, which is checked against the stored digest on
// every request.
type SessionClaims struct {
	jwt.RegisteredClaims
	SID      string           `json:"sid,omitempty"`
	Purpose  string           `json:"pur"`
	Remember bool             `json:"rem,omitempty"`
	AuthTime *jwt.NumericDate `json:"auth_time,omitempty"`
}

// AccountID returns the subject as a UUID.
func (c *SessionClaims) AccountID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAtTime returns the issued at time
func (c *SessionClaims) IssuedAtTime() time.Time {
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}

// AuthenticatedAt is when the member originally signed in. Sliding refreshes
// never move it.
func (c *SessionClaims) AuthenticatedAt() time.Time {
	if c.AuthTime != nil {
		return c.AuthTime.Time
	}
	return c.IssuedAtTime()
}

// Session converts the claims into the request level SessionObject.
func (c *SessionClaims) Session() *SessionObject {
	obj := &SessionObject{
		AccountID:    c.Subject,
		SessionToken: c.SID,
		Purpose:      c.Purpose,
		Remember:     c.Remember,
		Issuer:       c.Issuer,
		Audience:     []string(c.Audience),
	}
	if c.IssuedAt != nil {
		t := c.IssuedAt.Time
		obj.IssuedAt = &t
	}
	if c.ExpiresAt != nil {
		t := c.ExpiresAt.Time
		obj.ExpiresAt = &t
	}
	if c.AuthTime != nil {
		t := c.AuthTime.Time
		obj.AuthTime = &t
	}
	return obj
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims == nil || claims.ID != "" {
		return
	}
	claims.ID = uuid.NewString()
}
