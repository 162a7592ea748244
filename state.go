package auth

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const textCodeInvalidTransition = "INVALID_LOGIN_TRANSITION"

// ErrInvalidTransition is returned when a sign in step is attempted from a
// state that cannot reach the target.
var ErrInvalidTransition = goerrors.New("invalid sign in transition", goerrors.CategoryInternal).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeInternal)

// LoginState is a node of the sign in state machine.
type LoginState string

const (
	StateAnonymous            LoginState = "anonymous"
	StateCredentialsSubmitted LoginState = "credentials_submitted"
	StateRejected             LoginState = "rejected"
	StateLockedOut            LoginState = "locked_out"
	StatePasswordExpired      LoginState = "password_expired"
	StateAwaitingSecondFactor LoginState = "awaiting_second_factor"
	StateAuthenticated        LoginState = "authenticated"
)

// Terminal reports whether the attempt ended. AwaitingSecondFactor and
// PasswordExpired need another step from the member.
func (s LoginState) Terminal() bool {
	switch s {
	case StateRejected, StateLockedOut, StateAuthenticated:
		return true
	}
	return false
}

var loginTransitions = map[LoginState][]LoginState{
	StateAnonymous: {StateCredentialsSubmitted},
	StateCredentialsSubmitted: {
		StateRejected,
		StateLockedOut,
		StatePasswordExpired,
		StateAwaitingSecondFactor,
		StateAuthenticated,
	},
	StateAwaitingSecondFactor: {StateAwaitingSecondFactor, StateAuthenticated},
	StatePasswordExpired:      {StateAnonymous},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to LoginState) bool {
	for _, next := range loginTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func validateTransition(from, to LoginState) error {
	if CanTransition(from, to) {
		return nil
	}
	return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

// LoginResult is returned by every sign in step. SessionToken is only set
// when State is StateAuthenticated.
type LoginResult struct {
	State             LoginState    `json:"state"`
	AccountID         uuid.UUID     `json:"account_id,omitempty"`
	SessionToken      string        `json:"-"`
	RetryAfter        time.Duration `json:"retry_after,omitempty"`
	AttemptsRemaining int           `json:"attempts_remaining,omitempty"`
}

// Authenticated is a convenience for State == StateAuthenticated.
func (r *LoginResult) Authenticated() bool {
	return r != nil && r.State == StateAuthenticated
}
