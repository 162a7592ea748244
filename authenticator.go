package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-member-auth"

// errSkipSave lets a mutation finish without writing the account.
var errSkipSave = errors.New("skip save")

// SecurityPolicy groups the tunables of the security engine.
type SecurityPolicy struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	PasswordMinAge   time.Duration
	PasswordMaxAge   time.Duration
	OTPTTL           time.Duration
	OTPMaxAttempts   int
	ResetTokenTTL    time.Duration
	HashCost         int
}

// DefaultSecurityPolicy returns the stock member portal settings.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		MaxLoginAttempts: DefaultMaxLoginAttempts,
		LockoutDuration:  DefaultLockoutDuration,
		PasswordMinAge:   DefaultPasswordMinAge,
		PasswordMaxAge:   DefaultPasswordMaxAge,
		OTPTTL:           DefaultOTPTTL,
		OTPMaxAttempts:   DefaultOTPMaxAttempts,
		ResetTokenTTL:    DefaultResetTokenTTL,
		HashCost:         0,
	}
}

type Auther struct {
	store        AccountStore
	hasher       *Hasher
	policy       *PasswordPolicy
	lockout      *LockoutTracker
	otp          *OTPEngine
	sessions     *SessionManager
	resets       *ResetFlow
	mailer       Mailer
	verifier     HumanVerifier
	protector    Protector
	threshold    float64
	logger       Logger
	activitySink ActivitySink
	tokenService TokenService
	tracer       trace.Tracer
	now          func() time.Time
	syncDelivery bool

	decoyOnce sync.Once
	decoyHash string
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(store AccountStore, opts Config) *Auther {
	a := &Auther{
		store:        store,
		sessions:     NewSessionManager(),
		threshold:    opts.GetHumanVerificationThreshold(),
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}
	a.tokenService = NewTokenService(opts, a.logger)
	a.applyPolicy(DefaultSecurityPolicy())
	return a
}

func (s *Auther) applyPolicy(p SecurityPolicy) {
	s.hasher = NewHasher(p.HashCost).WithLogger(s.logger)
	s.policy = &PasswordPolicy{MinAge: p.PasswordMinAge, MaxAge: p.PasswordMaxAge}
	s.lockout = &LockoutTracker{MaxAttempts: p.MaxLoginAttempts, Duration: p.LockoutDuration}
	s.otp = DefaultOTPEngine()
	s.otp.TTL = p.OTPTTL
	s.otp.MaxAttempts = p.OTPMaxAttempts
	s.resets = NewResetFlow(s.policy, s.hasher, s.lockout)
	s.resets.TTL = p.ResetTokenTTL
	s.decoyOnce = sync.Once{}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger == nil {
		return s
	}
	s.logger = logger
	s.hasher.WithLogger(logger)
	if ts, ok := s.tokenService.(*TokenServiceImpl); ok {
		ts.logger = logger
	}
	return s
}

// WithSecurityPolicy replaces lockout, password, OTP and reset settings.
func (s *Auther) WithSecurityPolicy(p SecurityPolicy) *Auther {
	s.applyPolicy(p)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithMailer sets the collaborator that delivers codes and reset links.
func (s *Auther) WithMailer(mailer Mailer) *Auther {
	s.mailer = mailer
	return s
}

// WithHumanVerifier enables the captcha check on sign in, registration and
// reset requests.
func (s *Auther) WithHumanVerifier(verifier HumanVerifier) *Auther {
	s.verifier = verifier
	return s
}

// WithProtector sets the sealer used for the national id at rest.
func (s *Auther) WithProtector(protector Protector) *Auther {
	s.protector = protector
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *Auther) WithClock(clock func() time.Time) *Auther {
	if clock != nil {
		s.now = clock
		if ts, ok := s.tokenService.(*TokenServiceImpl); ok {
			ts.now = clock
		}
	}
	return s
}

// WithTracer overrides the OpenTelemetry tracer.
func (s *Auther) WithTracer(tracer trace.Tracer) *Auther {
	if tracer != nil {
		s.tracer = tracer
	}
	return s
}

// WithSyncDelivery runs reset request processing and its mail inline instead
// of in the background, surfacing their errors to the caller.
func (s *Auther) WithSyncDelivery(enabled bool) *Auther {
	s.syncDelivery = enabled
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// PasswordPolicy exposes the configured policy, used by forms to show the
// strength meter and requirement list.
func (s *Auther) PasswordPolicy() *PasswordPolicy {
	return s.policy
}

// LoginRequest payload
type LoginRequest struct {
	Email      string `form:"email" json:"email"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
	HumanProof string `form:"g-recaptcha-response" json:"recaptcha_token"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(
				&r.Email,
				validation.Required.Error("Email is required"),
				is.EmailFormat.Error("Please enter a valid email address"),
			),
			validation.Field(
				&r.Password,
				validation.Required.Error("Password is required"),
			),
		)
	}, "Invalid login request payload")
}

// Login runs the credential step of the sign in state machine. The returned
// result is non nil for every security decision; the error carries the
// member facing reason.
func (s *Auther) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer span.End()

	if verr := req.Validate(); verr != nil {
		return &LoginResult{State: StateAnonymous}, verr
	}

	if err := s.verifyHuman(ctx, req.HumanProof); err != nil {
		s.emit(ctx, ActivityEvent{
			EventType: ActivityEventLoginRejected,
			FromState: StateCredentialsSubmitted,
			ToState:   StateRejected,
			Metadata:  map[string]any{"reason": "human_verification"},
		})
		return &LoginResult{State: StateRejected}, err
	}

	account, err := s.store.FindByEmail(ctx, req.Email)
	if err != nil {
		if !IsAccountNotFound(err) {
			return nil, s.fail(span, err, "failed to load account")
		}
		// equalize timing with the known account path
		s.hasher.Verify(s.decoy(), req.Password)
		s.emit(ctx, ActivityEvent{
			EventType: ActivityEventLoginRejected,
			FromState: StateCredentialsSubmitted,
			ToState:   StateRejected,
			Metadata:  map[string]any{"reason": "unknown_account"},
		})
		return &LoginResult{State: StateRejected}, ErrInvalidCredentials
	}

	var (
		result  LoginResult
		outcome error
		code    string
	)

	account, err = s.mutate(ctx, account.ID, func(acc *Account) error {
		now := s.now()
		result = LoginResult{AccountID: acc.ID}
		outcome, code = nil, ""

		if st := s.lockout.CheckLocked(acc, now); st.Locked {
			result.State = StateLockedOut
			result.RetryAfter = st.Remaining
			outcome = NewAccountLockedError(st.Remaining)
			return errSkipSave
		}

		if s.hasher.Verify(acc.PasswordHash, req.Password) != VerifyMatch {
			st := s.lockout.RecordFailure(acc, now)
			if st.Locked {
				result.State = StateLockedOut
				result.RetryAfter = st.Remaining
				outcome = NewAccountLockedError(st.Remaining)
			} else {
				result.State = StateRejected
				result.AttemptsRemaining = st.AttemptsRemaining
				outcome = ErrInvalidCredentials
			}
			return nil
		}

		s.lockout.Reset(acc)

		if s.policy.CheckMaxAge(acc, now) == PasswordExpired {
			result.State = StatePasswordExpired
			return nil
		}

		if acc.TwoFactorEnabled {
			c, err := s.otp.Issue(acc, now)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification code")
			}
			code = c
			result.State = StateAwaitingSecondFactor
			return nil
		}

		token, err := s.sessions.Issue(acc, now)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue session")
		}
		result.State = StateAuthenticated
		result.SessionToken = token
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err, "login failed")
	}

	if err := validateTransition(StateCredentialsSubmitted, result.State); err != nil {
		return nil, s.fail(span, err, "login produced an invalid state")
	}

	span.SetAttributes(attribute.String("auth.state", string(result.State)))

	event := ActivityEvent{
		AccountID: account.ID.String(),
		FromState: StateCredentialsSubmitted,
		ToState:   result.State,
		Metadata:  map[string]any{},
	}

	switch result.State {
	case StateLockedOut:
		event.EventType = ActivityEventLoginLocked
		event.Metadata[MetaRetryAfter] = int(result.RetryAfter / time.Second)
	case StateRejected:
		event.EventType = ActivityEventLoginRejected
		event.Metadata["reason"] = "invalid_credentials"
		event.Metadata["attempts_remaining"] = result.AttemptsRemaining
	case StatePasswordExpired:
		event.EventType = ActivityEventLoginPasswordExpired
	case StateAwaitingSecondFactor:
		deliverErr := s.deliverCode(ctx, account, code)
		event.EventType = ActivityEventSecondFactorSent
		event.Metadata["delivered"] = deliverErr == nil
		event.Metadata["code_fp"] = fingerprint(account.OTPCodeHash)
		if deliverErr != nil {
			outcome = deliverErr
		}
	case StateAuthenticated:
		event.EventType = ActivityEventLoginSuccess
		event.Metadata["method"] = "password"
		event.Metadata["session_fp"] = fingerprint(account.SessionTokenHash)
	}

	s.emit(ctx, event)

	return &result, outcome
}

// VerifySecondFactor completes a sign in waiting on an emailed code.
func (s *Auther) VerifySecondFactor(ctx context.Context, accountID uuid.UUID, code string) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.VerifySecondFactor")
	defer span.End()

	code = strings.TrimSpace(code)

	var (
		result    LoginResult
		otpResult OTPResult
	)

	account, err := s.mutate(ctx, accountID, func(acc *Account) error {
		now := s.now()
		result = LoginResult{AccountID: acc.ID, State: StateAwaitingSecondFactor}

		if !acc.HasPendingOTP() {
			otpResult = OTPExpired
			return errSkipSave
		}

		otpResult = s.otp.Validate(acc, code, now)
		if otpResult != OTPValid {
			return nil
		}

		token, err := s.sessions.Issue(acc, now)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue session")
		}
		result.State = StateAuthenticated
		result.SessionToken = token
		return nil
	})
	if err != nil {
		if IsAccountNotFound(err) {
			return &LoginResult{State: StateAwaitingSecondFactor}, ErrCodeInvalid
		}
		return nil, s.fail(span, err, "second factor verification failed")
	}

	if err := validateTransition(StateAwaitingSecondFactor, result.State); err != nil {
		return nil, s.fail(span, err, "second factor produced an invalid state")
	}

	event := ActivityEvent{
		AccountID: account.ID.String(),
		FromState: StateAwaitingSecondFactor,
		ToState:   result.State,
		Metadata:  map[string]any{},
	}

	var outcome error
	switch otpResult {
	case OTPValid:
		event.EventType = ActivityEventLoginSuccess
		event.Metadata["method"] = "second_factor"
		event.Metadata["session_fp"] = fingerprint(account.SessionTokenHash)
	case OTPExpired:
		event.EventType = ActivityEventSecondFactorExpired
		outcome = ErrCodeExpired
	default:
		event.EventType = ActivityEventSecondFactorFailed
		event.Metadata["failed_attempts"] = account.OTPFailedAttempts
		event.Metadata["challenge_cleared"] = !account.HasPendingOTP()
		outcome = ErrCodeInvalid
	}

	span.SetAttributes(attribute.String("auth.otp_result", otpResult.String()))
	s.emit(ctx, event)

	return &result, outcome
}

// ResendSecondFactor issues a fresh code, invalidating the pending one.
func (s *Auther) ResendSecondFactor(ctx context.Context, accountID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "auth.ResendSecondFactor")
	defer span.End()

	var code string
	account, err := s.mutate(ctx, accountID, func(acc *Account) error {
		code = ""
		if !acc.TwoFactorEnabled {
			return ErrTwoFactorNotEnabled
		}
		c, err := s.otp.Issue(acc, s.now())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification code")
		}
		code = c
		return nil
	})
	if err != nil {
		if IsAccountNotFound(err) {
			return ErrChallengeNotSatisfied
		}
		return s.fail(span, err, "failed to resend verification code")
	}

	deliverErr := s.deliverCode(ctx, account, code)
	s.emit(ctx, ActivityEvent{
		EventType: ActivityEventSecondFactorResent,
		AccountID: account.ID.String(),
		FromState: StateAwaitingSecondFactor,
		ToState:   StateAwaitingSecondFactor,
		Metadata: map[string]any{
			"delivered": deliverErr == nil,
			"code_fp":   fingerprint(account.OTPCodeHash),
		},
	})

	return deliverErr
}

// ValidateSession is the authoritative single session check, run on every
// authenticated request. Only storage failures are returned as errors.
func (s *Auther) ValidateSession(ctx context.Context, accountID uuid.UUID, token string) (SessionValidity, error) {
	account, err := s.store.LoadAccount(ctx, accountID)
	if err != nil && !IsAccountNotFound(err) {
		return SessionInvalid, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}

	validity := s.sessions.Validate(account, token)
	if validity == SessionInvalid {
		reason := "superseded"
		if account == nil {
			reason = "unknown_account"
		} else if account.SessionTokenHash == "" {
			reason = "signed_out"
		}
		s.emit(ctx, ActivityEvent{
			EventType: ActivityEventSessionInvalidated,
			AccountID: accountID.String(),
			Metadata:  map[string]any{"reason": reason},
		})
	}

	return validity, nil
}

// Logout revokes the stored session if token is still the active one. A stale
// token cannot sign out a newer session.
func (s *Auther) Logout(ctx context.Context, accountID uuid.UUID, token string) error {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer span.End()

	revoked := false
	_, err := s.mutate(ctx, accountID, func(acc *Account) error {
		revoked = false
		if s.sessions.Validate(acc, token) != SessionValid {
			return errSkipSave
		}
		s.sessions.Revoke(acc)
		revoked = true
		return nil
	})
	if err != nil {
		if IsAccountNotFound(err) {
			return nil
		}
		return s.fail(span, err, "failed to sign out")
	}

	s.emit(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		AccountID: accountID.String(),
		Metadata:  map[string]any{"revoked": revoked},
	})
	return nil
}

// ChangePasswordRequest payload
type ChangePasswordRequest struct {
	AccountID       uuid.UUID `form:"-" json:"-"`
	CurrentPassword string    `form:"current_password" json:"current_password"`
	NewPassword     string    `form:"new_password" json:"new_password"`
	ConfirmPassword string    `form:"confirm_password" json:"confirm_password"`
}

// Validate will run validation rules
func (r ChangePasswordRequest) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.CurrentPassword, validation.Required.Error("Current password is required")),
			validation.Field(&r.NewPassword, validation.Required.Error("New password is required")),
			validation.Field(
				&r.ConfirmPassword,
				validation.Required.Error("Please confirm your new password"),
				validation.In(r.NewPassword).Error("Passwords do not match"),
			),
		)
	}, "Invalid change password payload")
}

// ChangePassword verifies the current password, then applies the minimum
// age, strength and reuse rules before rotating the credential history.
func (s *Auther) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	ctx, span := s.tracer.Start(ctx, "auth.ChangePassword")
	defer span.End()

	if verr := req.Validate(); verr != nil {
		return verr
	}

	_, err := s.mutate(ctx, req.AccountID, func(acc *Account) error {
		now := s.now()

		if s.hasher.Verify(acc.PasswordHash, req.CurrentPassword) != VerifyMatch {
			return ErrCurrentPasswordIncorrect
		}

		if st := s.policy.CheckMinAge(acc, now); !st.Allowed {
			return NewPasswordTooRecentError(st.Remaining)
		}

		if err := s.policy.Validate(acc, req.NewPassword, s.hasher); err != nil {
			return err
		}

		hash, err := s.hasher.Hash(req.NewPassword)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		s.policy.ApplyChange(acc, hash, now)
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) || richErr.Category == goerrors.CategoryInternal {
			return s.fail(span, err, "failed to change password")
		}
		s.emit(ctx, ActivityEvent{
			EventType: ActivityEventPasswordChangeFailed,
			AccountID: req.AccountID.String(),
			Metadata:  map[string]any{"reason": richErr.TextCode},
		})
		return err
	}

	s.emit(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		AccountID: req.AccountID.String(),
	})
	return nil
}

// EnableTwoFactor sends a test code to the member and turns on the second
// factor only when delivery succeeded. The test code is not stored.
func (s *Auther) EnableTwoFactor(ctx context.Context, accountID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "auth.EnableTwoFactor")
	defer span.End()

	account, err := s.store.LoadAccount(ctx, accountID)
	if err != nil {
		if IsAccountNotFound(err) {
			return ErrSessionInvalid
		}
		return s.fail(span, err, "failed to load account")
	}

	if account.TwoFactorEnabled {
		return nil
	}

	code, err := s.otp.Generate()
	if err != nil {
		return s.fail(span, err, "failed to generate verification code")
	}

	if err := s.deliverCode(ctx, account, code); err != nil {
		return err
	}

	changed := false
	if _, err := s.mutate(ctx, accountID, func(acc *Account) error {
		changed = false
		if acc.TwoFactorEnabled {
			return errSkipSave
		}
		acc.TwoFactorEnabled = true
		changed = true
		return nil
	}); err != nil {
		return s.fail(span, err, "failed to enable two-factor authentication")
	}

	if changed {
		s.emit(ctx, ActivityEvent{
			EventType: ActivityEventTwoFactorEnabled,
			AccountID: accountID.String(),
		})
	}
	return nil
}

// DisableTwoFactor turns off the second factor and drops any pending code.
func (s *Auther) DisableTwoFactor(ctx context.Context, accountID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "auth.DisableTwoFactor")
	defer span.End()

	_, err := s.mutate(ctx, accountID, func(acc *Account) error {
		acc.TwoFactorEnabled = false
		s.otp.Clear(acc)
		return nil
	})
	if err != nil {
		if IsAccountNotFound(err) {
			return ErrSessionInvalid
		}
		return s.fail(span, err, "failed to disable two-factor authentication")
	}

	s.emit(ctx, ActivityEvent{
		EventType: ActivityEventTwoFactorDisabled,
		AccountID: accountID.String(),
	})
	return nil
}

// Account loads an account for display, without security fields changes.
func (s *Auther) Account(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	return s.store.LoadAccount(ctx, accountID)
}

// mutate loads the account, applies fn and saves with a version check. A
// conflicting write is retried once against a fresh copy; fn must therefore
// reset any state it captures. Errors returned by fn are passed through.
func (s *Auther) mutate(ctx context.Context, id uuid.UUID, fn func(*Account) error) (*Account, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		account, err := s.store.LoadAccount(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(account); err != nil {
			if errors.Is(err, errSkipSave) {
				return account, nil
			}
			return account, err
		}

		account.UpdatedAt = timePtr(s.now())
		err = s.store.SaveAccount(ctx, account)
		if err == nil {
			return account, nil
		}

		if !IsStorageConflict(err) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save account")
		}

		lastErr = err
		s.logger.Warn("account %s changed concurrently, retrying", id)
	}

	return nil, goerrors.Wrap(lastErr, goerrors.CategoryInternal, "account update conflicted after retry").
		WithTextCode(TextCodeStorageConflict).
		WithCode(http.StatusInternalServerError)
}

func (s *Auther) verifyHuman(ctx context.Context, proof string) error {
	if s.verifier == nil {
		return nil
	}

	verdict, err := s.verifier.Verify(ctx, proof)
	if err != nil {
		s.logger.Error("human verification error: %v", err)
		return ErrHumanVerificationFailed
	}

	if !verdict.Passed || verdict.Score < s.threshold {
		s.logger.Info("human verification rejected, score %.2f", verdict.Score)
		return ErrHumanVerificationFailed
	}

	return nil
}

func (s *Auther) decoy() string {
	s.decoyOnce.Do(func() {
		s.decoyHash = s.hasher.RandomPasswordHash()
	})
	return s.decoyHash
}

func (s *Auther) emit(ctx context.Context, event ActivityEvent) {
	activityRecorder{
		sink:   s.activitySink,
		logger: s.logger,
		now:    s.now,
	}.record(ctx, event)
}

func (s *Auther) fail(span trace.Span, err error, message string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, message)
	s.logger.Error("%s: %v", message, err)

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError)
}
