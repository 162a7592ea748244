package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
)

type RegisterAccountMessage struct {
	FirstName       string                 `form:"first_name" json:"first_name"`
	LastName        string                 `form:"last_name" json:"last_name"`
	Email           string                 `form:"email" json:"email"`
	Gender          string                 `form:"gender" json:"gender"`
	NRIC            string                 `form:"nric" json:"nric"`
	DateOfBirth     string                 `form:"date_of_birth" json:"date_of_birth"`
	WhoAmI          string                 `form:"who_am_i" json:"who_am_i"`
	Password        string                 `form:"password" json:"password"`
	ConfirmPassword string                 `form:"confirm_password" json:"confirm_password"`
	HumanProof      string                 `form:"g-recaptcha-response" json:"recaptcha_token"`
	UseHashid       bool                   `form:"-" json:"-"`
	OnResponse      func(account *Account) `form:"-" json:"-"`
}

// DateOfBirthLayout is the accepted date_of_birth format.
const DateOfBirthLayout = "2006-01-02"

const maxWhoAmILength = 2000

var nricPattern = regexp.MustCompile(`^[STFGM][0-9]{7}[A-Z]$`)

func (e RegisterAccountMessage) Type() string { return "account.register" }

// Validate will run validation rules
func (e RegisterAccountMessage) Validate() *goerrors.Error {
	e.NRIC = normalizeNRIC(e.NRIC)
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&e,
			validation.Field(&e.FirstName, validation.Required.Error("First name is required"), validation.Length(1, 100)),
			validation.Field(&e.LastName, validation.Required.Error("Last name is required"), validation.Length(1, 100)),
			validation.Field(
				&e.Email,
				validation.Required.Error("Email is required"),
				is.EmailFormat.Error("Please enter a valid email address"),
			),
			validation.Field(&e.Gender, validation.Required.Error("Gender is required"), validation.Length(1, 10)),
			validation.Field(
				&e.NRIC,
				validation.Required.Error("NRIC is required"),
				validation.Match(nricPattern).Error("Please enter a valid NRIC"),
			),
			validation.Field(
				&e.DateOfBirth,
				validation.Required.Error("Date of birth is required"),
				validation.Date(DateOfBirthLayout).Error("Date of birth must be a YYYY-MM-DD date"),
			),
			validation.Field(&e.WhoAmI, validation.Length(0, maxWhoAmILength)),
			validation.Field(&e.Password, validation.Required.Error("Password is required")),
			validation.Field(
				&e.ConfirmPassword,
				validation.Required.Error("Please confirm your password"),
				validation.In(e.Password).Error("Passwords do not match"),
			),
		)
	}, "Invalid registration payload")
}

type RegisterAccountHandler struct {
	auth *Auther
}

func NewRegisterAccountHandler(auth *Auther) *RegisterAccountHandler {
	return &RegisterAccountHandler{auth: auth}
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if verr := event.Validate(); verr != nil {
		return verr
	}

	a := h.auth
	if err := a.verifyHuman(ctx, event.HumanProof); err != nil {
		return err
	}

	if gaps := a.policy.RequirementGaps(event.Password); len(gaps) > 0 {
		return NewPolicyViolation(gaps...)
	}

	dob, err := time.Parse(DateOfBirthLayout, event.DateOfBirth)
	if err != nil || !dob.Before(a.now()) {
		return ErrDateOfBirthInFuture
	}

	if a.protector == nil {
		return ErrProtectorUnavailable
	}
	nric, err := a.protector.Protect(normalizeNRIC(event.NRIC))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to protect national id")
	}

	if _, err := a.store.FindByEmail(ctx, event.Email); err == nil {
		return ErrEmailTaken
	} else if !IsAccountNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check existing account")
	}

	hash, err := a.hasher.Hash(event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	now := a.now()
	account := &Account{
		FirstName:         strings.TrimSpace(event.FirstName),
		LastName:          strings.TrimSpace(event.LastName),
		Email:             NormalizeEmail(event.Email),
		Gender:            strings.TrimSpace(event.Gender),
		DateOfBirth:       timePtr(dob),
		WhoAmI:            event.WhoAmI,
		NRICProtected:     nric,
		PasswordHash:      hash,
		PasswordChangedAt: timePtr(now),
		CreatedAt:         timePtr(now),
		UpdatedAt:         timePtr(now),
	}
	if event.UseHashid {
		if id, err := hashid.NewUUID(account.Email); err == nil {
			account.ID = id
		}
	}

	created, err := a.store.CreateAccount(ctx, account)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account registration failed")
	}

	a.emit(ctx, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		AccountID: created.ID.String(),
	})

	respond(event.OnResponse, created)
	return nil
}

func normalizeNRIC(nric string) string {
	return strings.ToUpper(strings.TrimSpace(nric))
}
