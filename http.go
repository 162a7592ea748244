package auth

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const (
	LoginRoute           = "/login"
	SessionExpiredTarget = "/login?message=session_expired"
)

// RouteAuthenticator owns the cookie credential: it writes, refreshes and
// clears it, and turns engine errors into HTTP responses.
type RouteAuthenticator struct {
	auth   *Auther
	tokens TokenService
	cfg    Config
	Logger Logger
	now    func() time.Time
}

func NewHTTPAuthenticator(auther *Auther, cfg Config) *RouteAuthenticator {
	return &RouteAuthenticator{
		auth:   auther,
		tokens: auther.TokenService(),
		cfg:    cfg,
		Logger: auther.logger,
		now:    auther.now,
	}
}

func (a *RouteAuthenticator) cookieName() string {
	if key := a.cfg.GetContextKey(); key != "" {
		return key
	}
	return "member_session"
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, val string, expires time.Time) {
	c.Cookie(&router.Cookie{
		Name:     a.cookieName(),
		Value:    val,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   a.cfg.GetSecureCookies(),
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context) {
	c.Cookie(&router.Cookie{
		Name:     a.cookieName(),
		Value:    "",
		Path:     "/",
		Expires:  a.now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.cfg.GetSecureCookies(),
		SameSite: "Lax",
	})
}

// StartSession signs the session credential for a completed sign in.
func (a *RouteAuthenticator) StartSession(c router.Context, result *LoginResult, remember bool) error {
	signed, claims, err := a.tokens.MintSession(result.AccountID, result.SessionToken, remember)
	if err != nil {
		return err
	}
	a.setCookieToken(c, signed, claims.Expires())
	return nil
}

// StartChallenge signs a credential that only unlocks the next sign in step.
func (a *RouteAuthenticator) StartChallenge(c router.Context, result *LoginResult, purpose string, remember bool) error {
	signed, claims, err := a.tokens.MintChallenge(result.AccountID, purpose, remember)
	if err != nil {
		return err
	}
	a.setCookieToken(c, signed, claims.Expires())
	return nil
}

// EndSession clears the cookie.
func (a *RouteAuthenticator) EndSession(c router.Context) {
	a.cookieDel(c)
}

func (a *RouteAuthenticator) sessionExpired(c router.Context, err error) error {
	a.cookieDel(c)

	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = ErrSessionInvalid
	}

	return c.JSON(http.StatusUnauthorized, map[string]any{
		"error": map[string]any{
			"message":   ErrSessionInvalid.Message,
			"text_code": clientTextCode(richErr.TextCode),
		},
		"redirect": SessionExpiredTarget,
	})
}

// ErrorHandler maps engine errors onto status codes. Internal details are
// logged, never returned.
func (a *RouteAuthenticator) ErrorHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	status := richErr.Code
	if status == 0 {
		status = statusForCategory(richErr.Category)
	}

	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		a.Logger.Error("request %s %s failed: %v details=%s", c.Method(), c.OriginalURL(), err, print.MaybePrettyJSON(richErr.Metadata))
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error": map[string]any{"message": "An unexpected server error occurred"},
		})
	}

	a.Logger.Info("request %s %s rejected: %s (%s)", c.Method(), c.OriginalURL(), richErr.Message, richErr.TextCode)

	if retry, ok := RetryAfter(richErr); ok && status == http.StatusTooManyRequests {
		c.SetHeader("Retry-After", strconv.Itoa(int(retry/time.Second)))
	}

	body := map[string]any{
		"message":   richErr.Message,
		"text_code": clientTextCode(richErr.TextCode),
	}
	if reqs := PolicyViolations(richErr); len(reqs) > 0 {
		body[MetaRequirements] = reqs
	}
	if retry, ok := RetryAfter(richErr); ok {
		body[MetaRetryAfter] = int(retry / time.Second)
	}
	if len(richErr.ValidationErrors) > 0 {
		body["fields"] = richErr.ValidationErrors
	}

	return c.JSON(status, map[string]any{"error": body})
}

// clientTextCode folds codes that would tell a caller more than it needs.
// Expired and unknown tokens look the same from outside; audit events keep
// the distinction.
func clientTextCode(code string) string {
	if code == TextCodeTokenExpired {
		return TextCodeTokenInvalid
	}
	return code
}

// requestContext attaches client details to the request context so that
// audit events record where a request came from.
func requestContext(c router.Context) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := RequestInfoFromContext(ctx); ok {
		return ctx
	}
	return WithRequestInfo(ctx, RequestInfo{
		IP:        c.IP(),
		UserAgent: c.Header("User-Agent"),
	})
}

func statusForCategory(category errors.Category) int {
	switch category {
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case errors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
