package auth

import (
	"slices"

	"github.com/goliatone/go-router"
)

// SessionGuard protects member routes. On every request it decodes the
// cookie, re-verifies the stored session token and slides the idle window.
// A credential superseded by a newer sign in is rejected here.
func (a *RouteAuthenticator) SessionGuard() router.MiddlewareFunc {
	return a.guard(PurposeSession)
}

// ChallengeGuard admits a request carrying any of the given purposes. Only
// session credentials are checked against storage; challenge credentials
// are short lived and hold no session token.
func (a *RouteAuthenticator) ChallengeGuard(purposes ...string) router.MiddlewareFunc {
	return a.guard(purposes...)
}

func (a *RouteAuthenticator) guard(purposes ...string) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			session, err := a.admit(c, purposes)
			if err != nil {
				return err
			}
			if session == nil {
				return nil
			}
			c.Locals(a.cookieName(), session)
			c.SetContext(WithSessionContext(requestContext(c), session))
			return next(c)
		}
	}
}

// admit returns a nil session once a rejection has been written.
func (a *RouteAuthenticator) admit(c router.Context, purposes []string) (*SessionObject, error) {
	raw := c.Cookies(a.cookieName())
	if raw == "" {
		return nil, a.sessionExpired(c, ErrSessionInvalid)
	}

	claims, err := a.tokens.Validate(raw)
	if err != nil {
		a.Logger.Debug("session cookie rejected: %v", err)
		return nil, a.sessionExpired(c, err)
	}

	if !slices.Contains(purposes, claims.Purpose) {
		return nil, a.sessionExpired(c, ErrChallengeNotSatisfied)
	}

	accountID, err := claims.AccountID()
	if err != nil {
		return nil, a.sessionExpired(c, ErrUnableToDecodeSession)
	}

	if claims.Purpose == PurposeSession {
		validity, err := a.auth.ValidateSession(requestContext(c), accountID, claims.SID)
		if err != nil {
			return nil, a.ErrorHandler(c, err)
		}
		if validity != SessionValid {
			return nil, a.sessionExpired(c, ErrSessionInvalid)
		}

		signed, next, err := a.tokens.Refresh(claims)
		if err != nil {
			return nil, a.sessionExpired(c, err)
		}
		a.setCookieToken(c, signed, next.Expires())
		claims = next
	}

	return claims.Session(), nil
}

// GetSession returns the SessionObject stored by a guard.
func (a *RouteAuthenticator) GetSession(c router.Context) (*SessionObject, error) {
	return GetRouterSession(c, a.cookieName())
}

// GetRouterSession reads the SessionObject stored under key.
func GetRouterSession(c router.Context, key string) (*SessionObject, error) {
	value := c.Locals(key)
	if value == nil {
		return nil, ErrSessionInvalid
	}

	session, ok := value.(*SessionObject)
	if !ok || session == nil {
		return nil, ErrUnableToDecodeSession
	}

	return session, nil
}
