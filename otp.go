package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"time"
)

const (
	OTPLength             = 6
	DefaultOTPTTL         = 5 * time.Minute
	DefaultOTPMaxAttempts = 5
)

var otpSpace = big.NewInt(1_000_000)

// OTPResult is the outcome of a second factor check.
type OTPResult int

const (
	OTPMismatch OTPResult = iota
	OTPValid
	OTPExpired
)

func (r OTPResult) String() string {
	switch r {
	case OTPValid:
		return "valid"
	case OTPExpired:
		return "expired"
	default:
		return "mismatch"
	}
}

// OTPEngine issues and checks emailed six digit codes. Only the digest of the
// pending code is kept on the account.
type OTPEngine struct {
	TTL time.Duration
	// MaxAttempts caps mismatches per issued code; zero means unlimited.
	MaxAttempts int
	Random      io.Reader
}

func DefaultOTPEngine() *OTPEngine {
	return &OTPEngine{
		TTL:         DefaultOTPTTL,
		MaxAttempts: DefaultOTPMaxAttempts,
		Random:      rand.Reader,
	}
}

// Generate draws a uniform code in 000000-999999.
func (e *OTPEngine) Generate() (string, error) {
	r := e.Random
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, otpSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", OTPLength, n.Int64()), nil
}

// Issue stores a fresh code on the account, replacing any pending one, and
// returns the plaintext for delivery.
func (e *OTPEngine) Issue(account *Account, now time.Time) (string, error) {
	code, err := e.Generate()
	if err != nil {
		return "", err
	}
	account.OTPCodeHash = digestSecret(code)
	account.OTPExpiry = timePtr(now.Add(e.ttl()))
	account.OTPFailedAttempts = 0
	return code, nil
}

// Validate checks code against the pending challenge. A valid code is
// consumed. An expired code is cleared. When MaxAttempts mismatches have been
// recorded the pending code is dropped and later submissions report expired.
func (e *OTPEngine) Validate(account *Account, code string, now time.Time) OTPResult {
	if !account.HasPendingOTP() {
		return OTPExpired
	}
	if now.After(*account.OTPExpiry) {
		e.Clear(account)
		return OTPExpired
	}

	if len(code) != OTPLength {
		e.recordMismatch(account)
		return OTPMismatch
	}

	presented := digestSecret(code)
	if subtle.ConstantTimeCompare([]byte(account.OTPCodeHash), []byte(presented)) != 1 {
		e.recordMismatch(account)
		return OTPMismatch
	}

	e.Clear(account)
	return OTPValid
}

// Clear drops any pending challenge.
func (e *OTPEngine) Clear(account *Account) {
	account.OTPCodeHash = ""
	account.OTPExpiry = nil
	account.OTPFailedAttempts = 0
}

func (e *OTPEngine) recordMismatch(account *Account) {
	account.OTPFailedAttempts++
	if e.MaxAttempts > 0 && account.OTPFailedAttempts >= e.MaxAttempts {
		e.Clear(account)
	}
}

func (e *OTPEngine) ttl() time.Duration {
	if e.TTL <= 0 {
		return DefaultOTPTTL
	}
	return e.TTL
}
