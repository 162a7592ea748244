package auth

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultPasswordMinLength = 12
	// MaxPasswordBytes is the longest input bcrypt accepts.
	MaxPasswordBytes = 72
	DefaultPasswordMinAge    = time.Minute
	DefaultPasswordMaxAge    = 90 * 24 * time.Hour
)

// PasswordSymbols is the punctuation set accepted as a special character.
const PasswordSymbols = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"

const (
	GapLength    = "Password must be at least 12 characters long"
	GapLowercase = "Password must contain at least one lowercase letter"
	GapUppercase = "Password must contain at least one uppercase letter"
	GapDigit     = "Password must contain at least one digit"
	GapSymbol    = "Password must contain at least one special character"
	GapMaxLength = "Password must be at most 72 bytes long"
)

// ReuseResult is the outcome of a history check.
type ReuseResult int

const (
	ReuseAllowed ReuseResult = iota
	ReuseRejected
)

// PasswordAge is the outcome of a max age check.
type PasswordAge int

const (
	PasswordCurrent PasswordAge = iota
	PasswordExpired
)

// MinAgeCheck reports whether a change is allowed and, if not, how long the
// member has to wait.
type MinAgeCheck struct {
	Allowed   bool
	Remaining time.Duration
}

// PasswordStrength is a coarse meter shown while a member types a password.
type PasswordStrength string

const (
	StrengthWeak   PasswordStrength = "Weak"
	StrengthMedium PasswordStrength = "Medium"
	StrengthStrong PasswordStrength = "Strong"
)

// PasswordPolicy holds the password lifecycle rules: composition, history,
// minimum and maximum age.
type PasswordPolicy struct {
	MinAge time.Duration
	MaxAge time.Duration
}

// DefaultPasswordPolicy returns a policy with a one minute minimum age and a
// ninety day maximum age.
func DefaultPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{
		MinAge: DefaultPasswordMinAge,
		MaxAge: DefaultPasswordMaxAge,
	}
}

type passwordClasses struct {
	length                      int
	lower, upper, digit, symbol bool
}

func classify(candidate string) passwordClasses {
	c := passwordClasses{length: utf8.RuneCountInString(candidate)}
	for _, r := range candidate {
		switch {
		case r >= 'a' && r <= 'z':
			c.lower = true
		case r >= 'A' && r <= 'Z':
			c.upper = true
		case r >= '0' && r <= '9':
			c.digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			c.symbol = true
		}
	}
	return c
}

// IsStrong reports whether candidate satisfies every composition rule.
func (p *PasswordPolicy) IsStrong(candidate string) bool {
	return len(p.RequirementGaps(candidate)) == 0
}

// RequirementGaps lists the unmet composition rules in a stable order:
// length, lowercase, uppercase, digit, symbol, maximum length.
func (p *PasswordPolicy) RequirementGaps(candidate string) []string {
	c := classify(candidate)
	gaps := []string{}
	if c.length < DefaultPasswordMinLength {
		gaps = append(gaps, GapLength)
	}
	if !c.lower {
		gaps = append(gaps, GapLowercase)
	}
	if !c.upper {
		gaps = append(gaps, GapUppercase)
	}
	if !c.digit {
		gaps = append(gaps, GapDigit)
	}
	if !c.symbol {
		gaps = append(gaps, GapSymbol)
	}
	if len(candidate) > MaxPasswordBytes {
		gaps = append(gaps, GapMaxLength)
	}
	return gaps
}

// Strength scores candidate on length and character variety.
func (p *PasswordPolicy) Strength(candidate string) PasswordStrength {
	if candidate == "" {
		return StrengthWeak
	}
	c := classify(candidate)
	score := 0
	for _, ok := range []bool{c.length >= 8, c.length >= 12, c.length >= 16, c.lower, c.upper, c.digit, c.symbol} {
		if ok {
			score++
		}
	}
	switch {
	case score <= 2:
		return StrengthWeak
	case score <= 4:
		return StrengthMedium
	default:
		return StrengthStrong
	}
}

// CheckReuse rejects a candidate matching the current hash or one of the two
// retained prior hashes. Every present hash is verified so the cost does not
// depend on which one matched.
func (p *PasswordPolicy) CheckReuse(account *Account, candidate string, verifier CredentialVerifier) ReuseResult {
	result := ReuseAllowed
	for _, hash := range []string{account.PasswordHash, account.PreviousPasswordHash1, account.PreviousPasswordHash2} {
		if hash == "" {
			continue
		}
		if verifier.Verify(hash, candidate) == VerifyMatch {
			result = ReuseRejected
		}
	}
	return result
}

// CheckMinAge refuses a change made sooner than MinAge after the last one.
func (p *PasswordPolicy) CheckMinAge(account *Account, now time.Time) MinAgeCheck {
	if account.PasswordChangedAt == nil || p.MinAge <= 0 {
		return MinAgeCheck{Allowed: true}
	}
	elapsed := now.Sub(*account.PasswordChangedAt)
	if elapsed >= p.MinAge {
		return MinAgeCheck{Allowed: true}
	}
	return MinAgeCheck{Remaining: p.MinAge - elapsed}
}

// CheckMaxAge reports a password older than MaxAge as expired. Accounts that
// never recorded a change are current.
func (p *PasswordPolicy) CheckMaxAge(account *Account, now time.Time) PasswordAge {
	if account.PasswordChangedAt == nil || p.MaxAge <= 0 {
		return PasswordCurrent
	}
	if now.Sub(*account.PasswordChangedAt) > p.MaxAge {
		return PasswordExpired
	}
	return PasswordCurrent
}

// ApplyChange shifts the history and installs newHash as the current hash.
func (p *PasswordPolicy) ApplyChange(account *Account, newHash string, now time.Time) {
	account.PreviousPasswordHash2 = account.PreviousPasswordHash1
	account.PreviousPasswordHash1 = account.PasswordHash
	account.PasswordHash = newHash
	account.PasswordChangedAt = timePtr(now)
}

// Validate runs composition and reuse checks for a new password and returns
// a policy error describing the first failing class of rule.
func (p *PasswordPolicy) Validate(account *Account, candidate string, verifier CredentialVerifier) error {
	if gaps := p.RequirementGaps(candidate); len(gaps) > 0 {
		return NewPolicyViolation(gaps...)
	}
	if p.CheckReuse(account, candidate, verifier) == ReuseRejected {
		return NewPolicyViolation(msgReusedPassword)
	}
	return nil
}

func tooRecentMessage(minutes int) string {
	return fmt.Sprintf("You cannot change your password yet. Please wait %d more minute(s).", minutes)
}
