package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is the member aggregate. Security fields are only mutated through
// Auther, which persists every change with a Version compare-and-swap.
//
// Bearer secrets (session token, pending OTP, reset token) are stored as
// SHA-256 digests; the plaintext never reaches storage.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID        uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	FirstName string    `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName  string    `bun:"last_name,notnull" json:"last_name,omitempty"`
	Email     string    `bun:"email,notnull,unique" json:"email,omitempty"`

	Gender      string     `bun:"gender,notnull" json:"gender,omitempty"`
	DateOfBirth *time.Time `bun:"date_of_birth,nullzero" json:"date_of_birth,omitempty"`
	// WhoAmI is free text; it is stored verbatim and escaped on display.
	WhoAmI string `bun:"who_am_i" json:"who_am_i,omitempty"`
	// NRICProtected is the sealed national id, see Protector.
	NRICProtected string `bun:"nric_protected" json:"-"`

	PasswordHash          string     `bun:"password_hash,notnull" json:"-"`
	PreviousPasswordHash1 string     `bun:"previous_password_hash_1" json:"-"`
	PreviousPasswordHash2 string     `bun:"previous_password_hash_2" json:"-"`
	PasswordChangedAt     *time.Time `bun:"password_changed_at,nullzero" json:"password_changed_at,omitempty"`

	FailedLoginAttempts int        `bun:"failed_login_attempts,notnull" json:"failed_login_attempts"`
	LockoutEnd          *time.Time `bun:"lockout_end,nullzero" json:"lockout_end,omitempty"`

	SessionTokenHash string     `bun:"session_token_hash" json:"-"`
	SessionIssuedAt  *time.Time `bun:"session_issued_at,nullzero" json:"session_issued_at,omitempty"`

	TwoFactorEnabled  bool       `bun:"two_factor_enabled,notnull" json:"two_factor_enabled"`
	OTPCodeHash       string     `bun:"otp_code_hash" json:"-"`
	OTPExpiry         *time.Time `bun:"otp_expiry,nullzero" json:"-"`
	OTPFailedAttempts int        `bun:"otp_failed_attempts,notnull" json:"-"`

	ResetTokenHash   string     `bun:"reset_token_hash" json:"-"`
	ResetTokenExpiry *time.Time `bun:"reset_token_expiry,nullzero" json:"-"`

	Version   int64      `bun:"version,notnull" json:"-"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// FullName joins first and last name.
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// HasPendingOTP reports whether a second factor challenge is outstanding.
func (a *Account) HasPendingOTP() bool {
	return a.OTPCodeHash != "" && a.OTPExpiry != nil
}

// Clone returns a deep copy, so callers can mutate without aliasing stored
// state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.DateOfBirth = cloneTime(a.DateOfBirth)
	out.PasswordChangedAt = cloneTime(a.PasswordChangedAt)
	out.LockoutEnd = cloneTime(a.LockoutEnd)
	out.SessionIssuedAt = cloneTime(a.SessionIssuedAt)
	out.OTPExpiry = cloneTime(a.OTPExpiry)
	out.ResetTokenExpiry = cloneTime(a.ResetTokenExpiry)
	out.CreatedAt = cloneTime(a.CreatedAt)
	out.UpdatedAt = cloneTime(a.UpdatedAt)
	return &out
}

// NormalizeEmail lower cases and trims an email so lookups are case
// insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
