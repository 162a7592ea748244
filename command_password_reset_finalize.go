package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

type FinalizePasswordResetMessage struct {
	Email           string                                    `form:"email" json:"email"`
	Token           string                                    `form:"token" json:"token" doc:"Reset token from the emailed link"`
	Password        string                                    `form:"password" json:"password"`
	ConfirmPassword string                                    `form:"confirm_password" json:"confirm_password"`
	OnResponse      func(resp *FinalizePasswordResetResponse) `form:"-" json:"-"`
}

func (p FinalizePasswordResetMessage) Type() string { return "account.password_reset.finalize" }

// Validate will run validation rules
func (p FinalizePasswordResetMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&p,
			validation.Field(&p.Password, validation.Required.Error("Password is required")),
			validation.Field(
				&p.ConfirmPassword,
				validation.Required.Error("Please confirm your password"),
				validation.In(p.Password).Error("Passwords do not match"),
			),
		)
	}, "Invalid password reset payload")
}

type FinalizePasswordResetResponse struct {
	Success bool
}

type FinalizePasswordResetHandler struct {
	auth *Auther
}

func NewFinalizePasswordResetHandler(auth *Auther) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{auth: auth}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if event.Email == "" || event.Token == "" {
		return ErrTokenInvalid
	}

	if verr := event.Validate(); verr != nil {
		return verr
	}

	a := h.auth
	account, err := a.store.FindByEmail(ctx, event.Email)
	if err != nil {
		if IsAccountNotFound(err) {
			return ErrTokenInvalid
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password reset")
	}

	_, err = a.mutate(ctx, account.ID, func(acc *Account) error {
		now := a.now()
		if a.resets.ValidateToken(acc, event.Email, event.Token, now) != TokenValid {
			return ErrTokenInvalid
		}
		if err := a.resets.Complete(acc, event.Password, now); err != nil {
			return err
		}
		// a reset signs out every device
		a.sessions.Revoke(acc)
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			if richErr.Category != goerrors.CategoryInternal {
				a.emit(ctx, ActivityEvent{
					EventType: ActivityEventPasswordChangeFailed,
					AccountID: account.ID.String(),
					Metadata:  map[string]any{"reason": richErr.TextCode, "flow": "reset"},
				})
			}
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	a.emit(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		AccountID: account.ID.String(),
	})

	respond(event.OnResponse, &FinalizePasswordResetResponse{Success: true})
	return nil
}
