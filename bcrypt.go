package auth

import (
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultHashCost is the bcrypt cost used when none is configured.
const DefaultHashCost = 12

// VerifyResult is the outcome of a credential check.
type VerifyResult int

const (
	VerifyMismatch VerifyResult = iota
	VerifyMatch
)

func (r VerifyResult) String() string {
	switch r {
	case VerifyMatch:
		return "match"
	default:
		return "mismatch"
	}
}

// Hasher hashes and verifies passwords with bcrypt. The salt is generated per
// call and embedded in the output.
type Hasher struct {
	cost   int
	logger Logger
}

// NewHasher returns a Hasher clamped to the bcrypt cost bounds.
func NewHasher(cost int) *Hasher {
	if cost == 0 {
		cost = passwordHashCost()
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost, logger: defLogger{}}
}

// WithLogger overrides the logger used to report malformed hashes.
func (h *Hasher) WithLogger(logger Logger) *Hasher {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// Cost returns the configured bcrypt cost.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash returns a salted bcrypt hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrNoEmptyString
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", NewPolicyViolation(GapMaxLength)
		}
		return "", err
	}
	return string(out), nil
}

// Verify compares plaintext to hash. An empty or malformed hash is a
// mismatch.
func (h *Hasher) Verify(hash, plaintext string) VerifyResult {
	if hash == "" {
		return VerifyMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err == nil {
		return VerifyMatch
	}
	if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		h.logger.Error("credential verify failed on stored hash: %v", err)
	}
	return VerifyMismatch
}

// HashPassword will generate a password hash with the default cost
func HashPassword(password string) (string, error) {
	return NewHasher(0).Hash(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if NewHasher(0).Verify(hash, password) != VerifyMatch {
		return ErrInvalidCredentials
	}
	return nil
}

// RandomPasswordHash returns the hash of a random secret. It is verified
// against when an email is unknown so both paths cost one bcrypt compare.
func (h *Hasher) RandomPasswordHash() string {
	out, err := h.Hash(uuid.NewString())
	if err != nil {
		return ""
	}
	return out
}
