package auth

import (
	"context"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

// ResetRequestedMessage is shown whether or not the email is registered.
const ResetRequestedMessage = "If an account exists with that email, a password reset link has been sent."

type InitializePasswordResetMessage struct {
	Email      string `form:"email" json:"email" example:"pepe.rone@example.com" doc:"Member email."`
	HumanProof string `form:"g-recaptcha-response" json:"recaptcha_token"`

	// ResetURL is the absolute address of the reset form, the token and
	// email are appended as query parameters.
	ResetURL   string                                      `form:"-" json:"-"`
	OnResponse func(resp *InitializePasswordResetResponse) `form:"-" json:"-"`
}

func (p InitializePasswordResetMessage) Type() string { return "account.password_reset.initialize" }

// Validate will run validation rules
func (p InitializePasswordResetMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&p,
			validation.Field(
				&p.Email,
				validation.Required.Error("Email is required"),
				is.EmailFormat.Error("Please enter a valid email address"),
			),
		)
	}, "Invalid password reset request")
}

type InitializePasswordResetResponse struct {
	Message string
	Success bool
}

// InitializePasswordResetHandler answers identically for known and unknown
// emails so the endpoint cannot be used to enumerate members.
type InitializePasswordResetHandler struct {
	auth *Auther
}

func NewInitializePasswordResetHandler(auth *Auther) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{auth: auth}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if verr := event.Validate(); verr != nil {
		return verr
	}

	a := h.auth
	if err := a.verifyHuman(ctx, event.HumanProof); err != nil {
		return err
	}

	// the lookup and the token write run off the request path so known and
	// unknown emails answer in the same time
	if err := a.offRequest(ctx, "password reset request", func(ctx context.Context) error {
		return h.issue(ctx, event)
	}); err != nil {
		return err
	}

	respond(event.OnResponse, &InitializePasswordResetResponse{Message: ResetRequestedMessage, Success: true})
	return nil
}

func (h *InitializePasswordResetHandler) issue(ctx context.Context, event InitializePasswordResetMessage) error {
	a := h.auth

	account, err := a.store.FindByEmail(ctx, event.Email)
	if err != nil {
		if !IsAccountNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password reset")
		}
		if _, err := a.resets.NewToken(); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset token")
		}
		a.logger.Info("password reset requested for unknown email")
		a.emit(ctx, ActivityEvent{
			EventType: ActivityEventPasswordResetRequested,
			Metadata:  map[string]any{"known_account": false},
		})
		return nil
	}

	var token string
	account, err = a.mutate(ctx, account.ID, func(acc *Account) error {
		t, err := a.resets.RequestReset(acc, a.now())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset token")
		}
		token = t
		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	if err := a.sendMail(ctx, account.Email, MailTemplatePasswordReset, map[string]string{
		"name":       account.FullName(),
		"link":       resetLink(event.ResetURL, account.Email, token),
		"expires_in": strconv.Itoa(int(a.resets.ttl() / time.Minute)),
	}); err != nil {
		a.logger.Error("%s mail delivery failed: %v", MailTemplatePasswordReset, err)
	}

	a.emit(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		AccountID: account.ID.String(),
		Metadata: map[string]any{
			"known_account": true,
			"token_fp":      fingerprint(account.ResetTokenHash),
		},
	})
	return nil
}

func respond[T any](fn func(T), resp T) {
	if fn != nil {
		fn(resp)
	}
}
