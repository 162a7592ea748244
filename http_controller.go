package auth

import (
	"net/http"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RegisterAuthRoutes mounts the member authentication API on app.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	r := controller.Routes
	h := controller.HTTP

	app.Post(r.Register, controller.RegistrationCreate).SetName("register.post")

	app.Post(r.Login, controller.LoginPost).SetName("sign-in.post")
	app.Post(r.SecondFactor, controller.SecondFactorPost, h.ChallengeGuard(PurposeSecondFactor)).
		SetName("sign-in.second-factor.post")
	app.Post(r.SecondFactorResend, controller.SecondFactorResend, h.ChallengeGuard(PurposeSecondFactor)).
		SetName("sign-in.second-factor.resend")
	app.Post(r.Logout, controller.LogOut).SetName("sign-out.post")

	app.Get(r.Me, controller.MeShow, h.SessionGuard()).SetName("me.get")

	app.Post(r.PasswordChange, controller.PasswordChangePost, h.ChallengeGuard(PurposeSession, PurposePasswordExpired)).
		SetName("pwd-change.post")
	app.Post(r.PasswordStrength, controller.PasswordStrengthPost).SetName("pwd-strength.post")
	app.Post(r.PasswordForgot, controller.PasswordResetPost).SetName("pwd-reset.post")
	app.Get(r.PasswordReset, controller.PasswordResetForm).SetName("pwd-reset-do.get")
	app.Post(r.PasswordReset, controller.PasswordResetExecute).SetName("pwd-reset-do.post")

	app.Post(r.TwoFactorEnable, controller.TwoFactorEnable, h.SessionGuard()).SetName("two-factor.enable")
	app.Post(r.TwoFactorDisable, controller.TwoFactorDisable, h.SessionGuard()).SetName("two-factor.disable")

	return controller
}

type AuthControllerRoutes struct {
	Register           string
	Login              string
	SecondFactor       string
	SecondFactorResend string
	Logout             string
	Me                 string
	PasswordChange     string
	PasswordStrength   string
	PasswordForgot     string
	PasswordReset      string
	TwoFactorEnable    string
	TwoFactorDisable   string
}

type AuthController struct {
	Debug     bool
	UseHashid bool
	Logger    Logger
	Auther    *Auther
	HTTP      *RouteAuthenticator
	Routes    *AuthControllerRoutes
	// ResetURL is the absolute address of the reset form placed in emails.
	// When empty it is derived from the request Host header.
	ResetURL string

	register *RegisterAccountHandler
	resetReq *InitializePasswordResetHandler
	resetChk *VerifyPasswordResetHandler
	resetFin *FinalizePasswordResetHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithAuther(auther *Auther, cfg Config) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Auther = auther
		ac.HTTP = NewHTTPAuthenticator(auther, cfg)
		ac.Logger = auther.logger
		return ac
	}
}

func WithControllerRoutes(routes *AuthControllerRoutes) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if routes != nil {
			ac.Routes = routes
		}
		return ac
	}
}

func WithResetURL(url string) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.ResetURL = url
		return ac
	}
}

func WithHashidAccounts(enabled bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.UseHashid = enabled
		return ac
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

func DefaultAuthControllerRoutes() *AuthControllerRoutes {
	return &AuthControllerRoutes{
		Register:           "/register",
		Login:              LoginRoute,
		SecondFactor:       "/login/second-factor",
		SecondFactorResend: "/login/second-factor/resend",
		Logout:             "/logout",
		Me:                 "/me",
		PasswordChange:     "/password/change",
		PasswordStrength:   "/password/strength",
		PasswordForgot:     "/password/forgot",
		PasswordReset:      "/password/reset",
		TwoFactorEnable:    "/two-factor/enable",
		TwoFactorDisable:   "/two-factor/disable",
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: DefaultAuthControllerRoutes(),
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil || c.HTTP == nil {
		panic("Missing Auther in auth controller...")
	}

	c.register = NewRegisterAccountHandler(c.Auther)
	c.resetReq = NewInitializePasswordResetHandler(c.Auther)
	c.resetChk = NewVerifyPasswordResetHandler(c.Auther)
	c.resetFin = NewFinalizePasswordResetHandler(c.Auther)

	return c
}

func (a *AuthController) RegistrationCreate(ctx router.Context) error {
	payload := RegisterAccountMessage{}
	if err := ctx.Bind(&payload); err != nil {
		a.Logger.Error("register account parse payload: %v", err)
		return a.HTTP.ErrorHandler(ctx, ErrUnableToParseData)
	}

	var created *Account
	payload.UseHashid = a.UseHashid
	payload.OnResponse = func(account *Account) {
		created = account
	}

	if err := a.register.Execute(requestContext(ctx), payload); err != nil {
		return a.HTTP.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"account":  created,
		"redirect": LoginRoute + "?message=registered",
	})
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := LoginRequest{}
	if err := ctx.Bind(&payload); err != nil {
		a.Logger.Error("login parse payload: %v", err)
		return a.HTTP.ErrorHandler(ctx, ErrUnableToParseData)
	}

	if a.Debug {
		a.Logger.Debug("login attempt: %s", print.MaybePrettyJSON(map[string]any{"email": payload.Email, "remember_me": payload.RememberMe}))
	}

	result, err := a.Auther.Login(requestContext(ctx), payload)
	if result != nil {
		switch result.State {
		case StateAuthenticated:
			if serr := a.HTTP.StartSession(ctx, result, payload.RememberMe); serr != nil {
				return a.HTTP.ErrorHandler(ctx, serr)
			}
			return ctx.JSON(http.StatusOK, map[string]any{"state": result.State, "redirect": a.Routes.Me})
		case StateAwaitingSecondFactor:
			// the challenge cookie is set even when delivery failed so the
			// member can ask for a new code
			if serr := a.HTTP.StartChallenge(ctx, result, PurposeSecondFactor, payload.RememberMe); serr != nil {
				return a.HTTP.ErrorHandler(ctx, serr)
			}
			if err == nil {
				return ctx.JSON(http.StatusOK, map[string]any{"state": result.State, "redirect": a.Routes.SecondFactor})
			}
		case StatePasswordExpired:
			if serr := a.HTTP.StartChallenge(ctx, result, PurposePasswordExpired, false); serr != nil {
				return a.HTTP.ErrorHandler(ctx, serr)
			}
			return ctx.JSON(http.StatusOK, map[string]any{
				"state":    result.State,
				"message":  "Your password has expired. Please choose a new one.",
				"redirect": a.Routes.PasswordChange,
			})
		}
	}

	if err == nil {
		err = ErrInvalidCredentials
	}
	return a.HTTP.ErrorHandler(ctx, err)
}

type secondFactorPayload struct {
	Code string `form:"code" json:"code"`
}

func (a *AuthController) SecondFactorPost(ctx router.Context) error {
	session, err := a.HTTP.GetSession(ctx)
	if err != nil {
		return a.HTTP.sessionExpired(ctx, err)
	}

	payload := secondFactorPayload{}
	if err := ctx.Bind(&payload); err != nil {
		return a.HTTP.ErrorHandler(ctx, ErrUnableToParseData)
	}

	accountID, err := session.GetUserUUID()
	if err != nil {
		return a.HTTP.sessionExpired(ctx, ErrUnableToDecodeSession)
	}

	result, err := a.Auther.VerifySecondFactor(requestContext(ctx), accountID, payload.Code)
	if err != nil {
		return a.HTTP.ErrorHandler(ctx, err)
	}

	if serr := a.HTTP.StartSession(ctx, result, session.Remember); serr != nil {
		return a.HTTP.ErrorHandler(ctx, serr)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"state": result.State, "redirect": a.Routes.Me})
}

func (a *AuthController) SecondFactorResend(ctx router.Context) error {
	session, err := a.HTTP.GetSession(ctx)
	if err != nil {
		return a.HTTP.sessionExpired(ctx, err)
	}

	accountID, err := session.GetUserUUID()
	if err != nil {
		return a.HTTP.sessionExpired(ctx, ErrUnableToDecodeSession)
	}

	if err := a.Auther.ResendSecondFactor(requestContext(ctx), accountID); err != nil {
		return a.HTTP.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"message": "A new verification code has been sent to your email."})
}

// LogOut revokes the session named by the cookie, if it is still current,
// and always clears the cookie.
func (a *AuthController) LogOut(ctx router.Context) error {
	raw := ctx.Cookies(a.HTTP.cookieName())
	if raw != "" {
		if claims, err := a.HTTP.tokens.Validate(raw); err == nil && claims.Purpose == PurposeSession {
			if accountID, err := claims.AccountID(); err == nil {
				if err := a.Auther.Logout(requestContext(ctx), accountID, claims.SID); err != nil {
					return a.HTTP.ErrorHandler(ctx, err)
				}
			}
		}
	}

	a.HTTP.EndSession(ctx)
	return ctx.JSON(http.StatusOK, map[string]any{"redirect": LoginRoute})
}

func (a *AuthController) MeShow(ctx router.Context) error {
	session, err := a.HTTP.GetSession(ctx)
	if err != nil {
		return a.HTTP.sessionExpired(ctx, err)
	}

	accountID, err := session.GetUserUUID()
	if err != nil {
		return a.HTTP.sessionExpired(ctx, ErrUnableToDecodeSession)
	}

	account, err := a.Auther.Account(requestContext(ctx), accountID)
	if err != nil {
		if IsAccountNotFound(err) {
			return a.HTTP.sessionExpired(ctx, ErrSessionInvalid)
		}
		return a.HTTP.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"account": account,
		"nric":    a.Auther.RevealNRIC(account),
		"session": session,
	})
}

func (a *AuthController) PasswordChangePost(ctx router.Context) error {
	session, err := a.HTTP.GetSession(ctx)
	if err != nil {
		return a.HTTP.sessionExpired(ctx, err)
	}

	payload := ChangePasswordRequest{}
	if err := ctx.Bind(&payload); err != nil {
		return a.HTTP.ErrorHandler(ctx, ErrUnableToParseData)
	}

	accountID, err := session.GetUserUUID()
	if err != nil {
		return a.HTTP.sessionExpired(ctx, ErrUnableToDecodeSession)
	}
	payload.AccountID = accountID

	if err := a.Auther.ChangePassword(requestContext(ctx), payload); err != nil {
		return a.HTTP.ErrorHandler(ctx, err)
	}

	if session.Purpose == PurposePasswordExpired {
		a.HTTP.EndSession(ctx)
		return ctx.JSON(http.StatusOK, map[string]any{
			"message":  "Your password has been changed. Please sign in again.",
			"redirect": LoginRoute + "?message=password_changed",
		})
	}

	return ctx.JSON(http.StatusOK, map[string]any{"message": "Your password has been changed."})
}

type passwordStrengthPayload struct {
	Password string `form:"password" json:"password"`
}

// PasswordStrengthPost feeds the strength meter of the password forms.
func (a *AuthController) PasswordStrengthPost(ctx router.Context) error {
	payload := passwordStrengthPayload{}
	if err := ctx.Bind(&payload); err != nil {
		return a.HTTP.ErrorHandler(ctx, ErrUnableToParseData)
	}

	policy := a.Auther.PasswordPolicy()
	return ctx.JSON(http.StatusOK, map[string]any{
		"strength":     policy.Strength(payload.Password),
		"requirements": policy.RequirementGaps(payload.Password),
	})
}

func (a *AuthController) PasswordResetPost(ctx router.Context) error {
	payload := InitializePasswordResetMessage{}
	if err := ctx.Bind(&payload); err != nil {
		return a.HTTP.ErrorHandler(ctx, ErrUnableToParseData)
	}

	payload.ResetURL = a.ResetURL
	if payload.ResetURL == "" {
		payload.ResetURL = baseURL(ctx) + a.Routes.PasswordReset
	}

	var res *InitializePasswordResetResponse
	payload.OnResponse = func(resp *InitializePasswordResetResponse) {
		res = resp
	}

	if err := a.resetReq.Execute(requestContext(ctx), payload); err != nil {
		return a.HTTP.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"message": res.Message})
}

func (a *AuthController) PasswordResetForm(ctx router.Context) error {
	payload := VerifyPasswordResetMessage{
		Email: ctx.Query("email", ""),
		Token: ctx.Query("token", ""),
	}

	if err := a.resetChk.Execute(requestContext(ctx), payload); err != nil {
		return a.HTTP.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"valid": true,
		"email": payload.Email,
		"token": payload.Token,
	})
}

func (a *AuthController) PasswordResetExecute(ctx router.Context) error {
	payload := FinalizePasswordResetMessage{}
	if err := ctx.Bind(&payload); err != nil {
		return a.HTTP.ErrorHandler(ctx, ErrUnableToParseData)
	}

	if err := a.resetFin.Execute(requestContext(ctx), payload); err != nil {
		return a.HTTP.ErrorHandler(ctx, err)
	}

	a.HTTP.EndSession(ctx)
	return ctx.JSON(http.StatusOK, map[string]any{
		"message":  "Your password has been reset. Please sign in with your new password.",
		"redirect": LoginRoute + "?message=password_reset",
	})
}

func (a *AuthController) TwoFactorEnable(ctx router.Context) error {
	return a.toggleTwoFactor(ctx, true)
}

func (a *AuthController) TwoFactorDisable(ctx router.Context) error {
	return a.toggleTwoFactor(ctx, false)
}

func (a *AuthController) toggleTwoFactor(ctx router.Context, enable bool) error {
	session, err := a.HTTP.GetSession(ctx)
	if err != nil {
		return a.HTTP.sessionExpired(ctx, err)
	}

	accountID, err := session.GetUserUUID()
	if err != nil {
		return a.HTTP.sessionExpired(ctx, ErrUnableToDecodeSession)
	}

	message := "Two-factor authentication has been disabled."
	if enable {
		err = a.Auther.EnableTwoFactor(requestContext(ctx), accountID)
		message = "Two-factor authentication has been enabled."
	} else {
		err = a.Auther.DisableTwoFactor(requestContext(ctx), accountID)
	}
	if err != nil {
		return a.HTTP.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"message": message, "two_factor_enabled": enable})
}

func baseURL(ctx router.Context) string {
	scheme := strings.ToLower(ctx.Header("X-Forwarded-Proto"))
	if scheme != "http" {
		scheme = "https"
	}
	return scheme + "://" + ctx.Header("Host")
}
