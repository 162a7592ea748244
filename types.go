package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds the transport and session options consumed by Auther and
// the HTTP layer.
type Config interface {
	GetSigningKey() string
	GetContextKey() string
	GetIssuer() string
	GetAudience() []string
	GetSessionIdleTimeout() time.Duration
	GetSessionAbsoluteTimeout() time.Duration
	GetExtendedSessionDuration() time.Duration
	GetChallengeDuration() time.Duration
	GetSecureCookies() bool
	GetHumanVerificationThreshold() float64
}

// AccountStore persists the Account aggregate. SaveAccount must reject a
// write whose Version does not match the stored row with ErrStorageConflict.
type AccountStore interface {
	LoadAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) (*Account, error)
	SaveAccount(ctx context.Context, account *Account) error
}

// MailTemplate names a message the mailer knows how to render.
type MailTemplate string

const (
	MailTemplatePasswordReset MailTemplate = "password_reset"
	MailTemplateTwoFactorCode MailTemplate = "two_factor_code"
)

// Mailer delivers templated messages. Parameters are already HTML escaped.
type Mailer interface {
	Deliver(ctx context.Context, recipient string, template MailTemplate, params map[string]string) error
}

// HumanVerdict is the answer of a HumanVerifier.
type HumanVerdict struct {
	Passed bool
	Score  float64
}

// HumanVerifier checks a proof of humanity (captcha response or similar).
type HumanVerifier interface {
	Verify(ctx context.Context, proof string) (HumanVerdict, error)
}

// HumanVerifierFunc adapts a function to the HumanVerifier interface.
type HumanVerifierFunc func(ctx context.Context, proof string) (HumanVerdict, error)

// Verify implements HumanVerifier.
func (f HumanVerifierFunc) Verify(ctx context.Context, proof string) (HumanVerdict, error) {
	return f(ctx, proof)
}

// CredentialVerifier checks a plaintext against a stored hash.
type CredentialVerifier interface {
	Verify(hash, plaintext string) VerifyResult
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
