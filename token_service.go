package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	DefaultSessionIdleTimeout      = 30 * time.Minute
	DefaultSessionAbsoluteTimeout  = 8 * time.Hour
	DefaultExtendedSessionDuration = 30 * 24 * time.Hour
	DefaultChallengeDuration       = 10 * time.Minute
)

// TokenService signs and parses the cookie credential.
type TokenService interface {
	// MintSession signs a full session credential for sessionToken.
	MintSession(accountID uuid.UUID, sessionToken string, remember bool) (string, *SessionClaims, error)
	// MintChallenge signs a short lived credential for an unfinished sign in.
	MintChallenge(accountID uuid.UUID, purpose string, remember bool) (string, *SessionClaims, error)
	// Validate parses a credential and checks signature, issuer, audience
	// and expiry.
	Validate(token string) (*SessionClaims, error)
	// Refresh slides the idle window of a session credential forward, never
	// past the absolute limit measured from the original sign in.
	Refresh(claims *SessionClaims) (string, *SessionClaims, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	idle       time.Duration
	absolute   time.Duration
	extended   time.Duration
	challenge  time.Duration
	logger     Logger
	now        func() time.Time
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg Config, logger Logger) TokenService {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		signingKey: []byte(cfg.GetSigningKey()),
		issuer:     cfg.GetIssuer(),
		audience:   jwt.ClaimStrings(cfg.GetAudience()),
		idle:       durationOr(cfg.GetSessionIdleTimeout(), DefaultSessionIdleTimeout),
		absolute:   durationOr(cfg.GetSessionAbsoluteTimeout(), DefaultSessionAbsoluteTimeout),
		extended:   durationOr(cfg.GetExtendedSessionDuration(), DefaultExtendedSessionDuration),
		challenge:  durationOr(cfg.GetChallengeDuration(), DefaultChallengeDuration),
		logger:     logger,
		now:        time.Now,
	}
}

func (ts *TokenServiceImpl) MintSession(accountID uuid.UUID, sessionToken string, remember bool) (string, *SessionClaims, error) {
	now := ts.now()
	ttl := ts.idle
	if remember {
		ttl = ts.extended
	}

	claims := ts.baseClaims(accountID, now, now.Add(ttl))
	claims.SID = sessionToken
	claims.Purpose = PurposeSession
	claims.Remember = remember
	claims.AuthTime = jwt.NewNumericDate(now)

	signed, err := ts.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

func (ts *TokenServiceImpl) MintChallenge(accountID uuid.UUID, purpose string, remember bool) (string, *SessionClaims, error) {
	if purpose == PurposeSession || purpose == "" {
		return "", nil, errors.New("challenge purpose required", errors.CategoryInternal)
	}

	now := ts.now()
	claims := ts.baseClaims(accountID, now, now.Add(ts.challenge))
	claims.Purpose = purpose
	claims.Remember = remember

	signed, err := ts.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Validate parses and validates a token string, returning structured claims
func (ts *TokenServiceImpl) Validate(tokenString string) (*SessionClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionInvalid
		}
		return nil, errors.Wrap(err, ErrUnableToDecodeSession.Category, ErrUnableToDecodeSession.Message).
			WithTextCode(ErrUnableToDecodeSession.TextCode).
			WithCode(ErrUnableToDecodeSession.Code)
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	ts.logger.Error("TokenService validate could not decode or validate claims")
	return nil, ErrUnableToDecodeSession
}

func (ts *TokenServiceImpl) Refresh(claims *SessionClaims) (string, *SessionClaims, error) {
	if claims == nil || claims.Purpose != PurposeSession {
		return "", nil, ErrSessionInvalid
	}

	now := ts.now()
	expires := now.Add(ts.idle)
	if claims.Remember {
		// remembered sessions keep their original expiry
		expires = claims.Expires()
	} else if limit := claims.AuthenticatedAt().Add(ts.absolute); expires.After(limit) {
		expires = limit
	}

	if !expires.After(now) {
		return "", nil, ErrSessionInvalid
	}

	next := *claims
	next.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    claims.Issuer,
		Subject:   claims.Subject,
		Audience:  claims.Audience,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	ensureTokenID(&next.RegisteredClaims)

	signed, err := ts.sign(&next)
	if err != nil {
		return "", nil, err
	}
	return signed, &next, nil
}

func (ts *TokenServiceImpl) baseClaims(accountID uuid.UUID, now, expires time.Time) *SessionClaims {
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   accountID.String(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	ensureTokenID(&claims.RegisteredClaims)
	return claims
}

func (ts *TokenServiceImpl) sign(claims *SessionClaims) (string, error) {
	if len(ts.signingKey) == 0 {
		return "", errors.New("signing key is not configured", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
