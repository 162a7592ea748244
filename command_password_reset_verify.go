package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// VerifyPasswordResetMessage checks a reset link before the form is shown.
type VerifyPasswordResetMessage struct {
	Email      string                                  `query:"email" json:"email"`
	Token      string                                  `query:"token" json:"token"`
	OnResponse func(resp *VerifyPasswordResetResponse) `form:"-" json:"-"`
}

func (p VerifyPasswordResetMessage) Type() string { return "account.password_reset.verify" }

type VerifyPasswordResetResponse struct {
	Email string
	Valid bool
}

type VerifyPasswordResetHandler struct {
	auth *Auther
}

func NewVerifyPasswordResetHandler(auth *Auther) *VerifyPasswordResetHandler {
	return &VerifyPasswordResetHandler{auth: auth}
}

func (h *VerifyPasswordResetHandler) Execute(ctx context.Context, event VerifyPasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyPasswordResetHandler) execute(ctx context.Context, event VerifyPasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	a := h.auth
	resp := &VerifyPasswordResetResponse{Email: event.Email}

	if event.Email == "" || event.Token == "" {
		respond(event.OnResponse, resp)
		return ErrTokenInvalid
	}

	account, err := a.store.FindByEmail(ctx, event.Email)
	if err != nil {
		if IsAccountNotFound(err) {
			respond(event.OnResponse, resp)
			return ErrTokenInvalid
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password reset")
	}

	if a.resets.ValidateToken(account, event.Email, event.Token, a.now()) != TokenValid {
		respond(event.OnResponse, resp)
		return ErrTokenInvalid
	}

	resp.Valid = true
	respond(event.OnResponse, resp)
	return nil
}
