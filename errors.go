package auth

import (
	"errors"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCreds          = "INVALID_CREDENTIALS"
	TextCodeAccountLocked         = "ACCOUNT_LOCKED"
	TextCodeTokenExpired          = "TOKEN_EXPIRED"
	TextCodeTokenInvalid          = "TOKEN_INVALID"
	TextCodePasswordPolicy        = "PASSWORD_POLICY"
	TextCodePasswordTooRecent     = "PASSWORD_TOO_RECENT"
	TextCodeDeliveryFailed        = "DELIVERY_FAILED"
	TextCodeSessionNotFound       = "SESSION_NOT_FOUND"
	TextCodeSessionDecodeError    = "SESSION_DECODE_ERROR"
	TextCodeHumanVerification     = "HUMAN_VERIFICATION_FAILED"
	TextCodeStorageConflict       = "STORAGE_CONFLICT"
	TextCodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	TextCodeEmailTaken            = "EMAIL_TAKEN"
	TextCodeEmptyPassword         = "EMPTY_PASSWORD"
	TextCodeTwoFactorNotEnabled   = "TWO_FACTOR_NOT_ENABLED"
	TextCodeCurrentPasswordWrong  = "CURRENT_PASSWORD_INVALID"
	TextCodePasswordConfirmation  = "PASSWORD_CONFIRMATION"
	TextCodeDataParseError        = "DATA_PARSE_ERROR"
	TextCodeChallengeNotSatisfied = "CHALLENGE_NOT_SATISFIED"
	TextCodeDateOfBirth           = "DATE_OF_BIRTH_INVALID"
	TextCodeProtectorUnavailable  = "PROTECTOR_UNAVAILABLE"
)

// MetaRetryAfter is the metadata key carrying lockout remaining seconds.
const MetaRetryAfter = "retry_after"

// MetaRequirements is the metadata key carrying unmet password rules.
const MetaRequirements = "requirements"

const (
	msgInvalidCredentials = "Invalid email or password"
	msgInvalidToken       = "Invalid or expired link"
	msgInvalidCode        = "Invalid or expired verification code"
	msgDeliveryFailure    = "Failed to send verification code. Please try again."
	msgReusedPassword     = "Cannot reuse your previous passwords"
)

// ErrInvalidCredentials is returned for any failed password check. The message
// never reveals whether the email or the password was wrong.
var ErrInvalidCredentials = goerrors.New(msgInvalidCredentials, goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(http.StatusUnauthorized)

// ErrAccountLocked is returned while a lockout window is open.
var ErrAccountLocked = goerrors.New("Account is temporarily locked. Please try again later.", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeAccountLocked).
	WithCode(http.StatusTooManyRequests)

// ErrTokenExpired and ErrTokenInvalid share a message so callers cannot tell
// a stale token from a forged one.
var ErrTokenExpired = goerrors.New(msgInvalidToken, goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(http.StatusBadRequest)

var ErrTokenInvalid = goerrors.New(msgInvalidToken, goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(http.StatusBadRequest)

// ErrCodeExpired and ErrCodeInvalid are the second factor counterparts.
var ErrCodeExpired = goerrors.New(msgInvalidCode, goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(http.StatusUnauthorized)

var ErrCodeInvalid = goerrors.New(msgInvalidCode, goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(http.StatusUnauthorized)

// ErrDeliveryFailure is a retryable system error raised when the mailer fails.
var ErrDeliveryFailure = goerrors.New(msgDeliveryFailure, goerrors.CategoryExternal).
	WithTextCode(TextCodeDeliveryFailed).
	WithCode(http.StatusServiceUnavailable)

var ErrSessionInvalid = goerrors.New("Your session has expired. Please sign in again.", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(http.StatusUnauthorized)

var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionDecodeError).
	WithCode(http.StatusUnauthorized)

var ErrChallengeNotSatisfied = goerrors.New("The requested step is not available for this sign in", goerrors.CategoryAuth).
	WithTextCode(TextCodeChallengeNotSatisfied).
	WithCode(http.StatusUnauthorized)

var ErrHumanVerificationFailed = goerrors.New("reCAPTCHA verification failed. Please try again.", goerrors.CategoryAuth).
	WithTextCode(TextCodeHumanVerification).
	WithCode(http.StatusBadRequest)

var ErrStorageConflict = goerrors.New("account was modified concurrently", goerrors.CategoryConflict).
	WithTextCode(TextCodeStorageConflict).
	WithCode(http.StatusConflict)

var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(http.StatusNotFound)

var ErrEmailTaken = goerrors.New("An account with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(http.StatusConflict)

var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(http.StatusBadRequest)

var ErrCurrentPasswordIncorrect = goerrors.New("Current password is incorrect", goerrors.CategoryAuth).
	WithTextCode(TextCodeCurrentPasswordWrong).
	WithCode(http.StatusBadRequest)

var ErrTwoFactorNotEnabled = goerrors.New("Two-factor authentication is not enabled", goerrors.CategoryBadInput).
	WithTextCode(TextCodeTwoFactorNotEnabled).
	WithCode(http.StatusBadRequest)

var ErrDateOfBirthInFuture = goerrors.New("Date of birth must be in the past", goerrors.CategoryValidation).
	WithTextCode(TextCodeDateOfBirth).
	WithCode(http.StatusBadRequest)

// ErrProtectorUnavailable is raised when a national id arrives but no
// Protector is configured to seal it.
var ErrProtectorUnavailable = goerrors.New("profile protection is not configured", goerrors.CategoryInternal).
	WithTextCode(TextCodeProtectorUnavailable).
	WithCode(http.StatusInternalServerError)

var ErrUnableToParseData = goerrors.New("unable to parse data", goerrors.CategoryBadInput).
	WithTextCode(TextCodeDataParseError).
	WithCode(http.StatusBadRequest)

// NewAccountLockedError returns ErrAccountLocked annotated with the time left
// before the lockout window closes.
func NewAccountLockedError(remaining time.Duration) *goerrors.Error {
	seconds := int(remaining.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return ErrAccountLocked.Clone().WithMetadata(map[string]any{
		MetaRetryAfter: seconds,
	})
}

// NewPolicyViolation builds a validation error carrying password remediation
// messages. The first message becomes the error message.
func NewPolicyViolation(messages ...string) *goerrors.Error {
	msg := "Password does not meet the requirements"
	if len(messages) > 0 {
		msg = messages[0]
	}

	reqs := make([]string, len(messages))
	copy(reqs, messages)

	return goerrors.New(msg, goerrors.CategoryValidation).
		WithTextCode(TextCodePasswordPolicy).
		WithCode(http.StatusBadRequest).
		WithMetadata(map[string]any{MetaRequirements: reqs})
}

// NewPasswordTooRecentError reports a change attempted inside the minimum age.
func NewPasswordTooRecentError(remaining time.Duration) *goerrors.Error {
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return goerrors.New(tooRecentMessage(minutes), goerrors.CategoryValidation).
		WithTextCode(TextCodePasswordTooRecent).
		WithCode(http.StatusBadRequest).
		WithMetadata(map[string]any{MetaRetryAfter: int(remaining.Round(time.Second) / time.Second)})
}

// PolicyViolations returns the remediation messages of a policy error.
func PolicyViolations(err error) []string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != TextCodePasswordPolicy {
		return nil
	}
	if reqs, ok := richErr.Metadata[MetaRequirements].([]string); ok {
		return reqs
	}
	return []string{richErr.Message}
}

// RetryAfter extracts the retry hint from a lockout error.
func RetryAfter(err error) (time.Duration, bool) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return 0, false
	}
	seconds, ok := richErr.Metadata[MetaRetryAfter].(int)
	if !ok {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// IsRetryable reports whether the caller may retry the same operation later.
func IsRetryable(err error) bool {
	return hasTextCode(err, TextCodeDeliveryFailed) || hasTextCode(err, TextCodeStorageConflict)
}

// IsStorageConflict reports a failed optimistic write.
func IsStorageConflict(err error) bool {
	return hasTextCode(err, TextCodeStorageConflict)
}

// IsAccountNotFound reports a missing account.
func IsAccountNotFound(err error) bool {
	return hasTextCode(err, TextCodeAccountNotFound)
}

func hasTextCode(err error, code string) bool {
	for err != nil {
		if richErr, ok := err.(*goerrors.Error); ok && richErr.TextCode == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
