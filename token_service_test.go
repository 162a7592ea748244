package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-member-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenService(t *testing.T, cfg *testConfig) (*auth.TokenServiceImpl, *testClock) {
	t.Helper()

	clock := newTestClock()
	auther := auth.NewAuthenticator(auth.NewMemoryStore(), cfg).
		WithLogger(&testLogger{}).
		WithClock(clock.Now)

	ts, ok := auther.TokenService().(*auth.TokenServiceImpl)
	require.True(t, ok)
	return ts, clock
}

func assertSameTime(t *testing.T, expected, actual time.Time) {
	t.Helper()
	assert.True(t, expected.Equal(actual), "expected %s, got %s", expected, actual)
}

func textCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

func TestTokenService_MintAndValidateSession(t *testing.T) {
	ts, clock := newTokenService(t, newTestConfig())
	accountID := uuid.New()

	signed, claims, err := ts.MintSession(accountID, "session-token", false)
	require.NoError(t, err)
	assertSameTime(t, clock.Now().Add(30*time.Minute), claims.Expires())
	assertSameTime(t, clock.Now(), claims.AuthenticatedAt())

	parsed, err := ts.Validate(signed)
	require.NoError(t, err)

	id, err := parsed.AccountID()
	require.NoError(t, err)
	assert.Equal(t, accountID, id)
	assert.Equal(t, auth.PurposeSession, parsed.Purpose)
	assert.Equal(t, "session-token", parsed.SID)
	assert.False(t, parsed.Remember)
	assert.Equal(t, "member-portal", parsed.Issuer)
	assert.NotEmpty(t, parsed.ID)

	session := parsed.Session()
	assert.Equal(t, accountID.String(), session.AccountID)
	assert.Equal(t, "session-token", session.SessionToken)
}

func TestTokenService_RememberUsesExtendedLifetime(t *testing.T) {
	ts, clock := newTokenService(t, newTestConfig())

	_, claims, err := ts.MintSession(uuid.New(), "token", true)
	require.NoError(t, err)
	assertSameTime(t, clock.Now().Add(720*time.Hour), claims.Expires())
	assert.True(t, claims.Remember)
}

func TestTokenService_ValidateRejects(t *testing.T) {
	ts, clock := newTokenService(t, newTestConfig())

	signed, _, err := ts.MintSession(uuid.New(), "token", false)
	require.NoError(t, err)

	other := newTestConfig()
	other.key = "fedcba9876543210fedcba9876543210"
	foreign, _ := newTokenService(t, other)
	forged, _, err := foreign.MintSession(uuid.New(), "token", false)
	require.NoError(t, err)

	_, err = ts.Validate(forged)
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeSessionDecodeError, textCode(err))

	_, err = ts.Validate("not-a-jwt")
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeSessionDecodeError, textCode(err))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ts.Validate(unsigned)
	assert.Error(t, err)

	clock.Advance(31 * time.Minute)
	_, err = ts.Validate(signed)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrSessionInvalid)
}

func TestTokenService_RefreshSlidesWithinAbsoluteLimit(t *testing.T) {
	ts, clock := newTokenService(t, newTestConfig())
	start := clock.Now()

	signed, claims, err := ts.MintSession(uuid.New(), "token", false)
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	parsed, err := ts.Validate(signed)
	require.NoError(t, err)

	_, next, err := ts.Refresh(parsed)
	require.NoError(t, err)
	assertSameTime(t, clock.Now().Add(30*time.Minute), next.Expires())
	assertSameTime(t, start, next.AuthenticatedAt())
	assert.Equal(t, claims.SID, next.SID)
	assert.NotEqual(t, claims.ID, next.ID)

	clock.Advance(7*time.Hour + 25*time.Minute)
	_, capped, err := ts.Refresh(next)
	require.NoError(t, err)
	assertSameTime(t, start.Add(8*time.Hour), capped.Expires())

	clock.Advance(15 * time.Minute)
	_, _, err = ts.Refresh(capped)
	assert.ErrorIs(t, err, auth.ErrSessionInvalid, "absolute limit reached")
}

func TestTokenService_RefreshKeepsRememberedExpiry(t *testing.T) {
	ts, clock := newTokenService(t, newTestConfig())

	_, claims, err := ts.MintSession(uuid.New(), "token", true)
	require.NoError(t, err)

	clock.Advance(12 * time.Hour)
	_, next, err := ts.Refresh(claims)
	require.NoError(t, err)
	assertSameTime(t, claims.Expires(), next.Expires())
}

func TestTokenService_Challenge(t *testing.T) {
	ts, clock := newTokenService(t, newTestConfig())

	_, _, err := ts.MintChallenge(uuid.New(), auth.PurposeSession, false)
	assert.Error(t, err, "a challenge cannot carry the session purpose")

	signed, claims, err := ts.MintChallenge(uuid.New(), auth.PurposeSecondFactor, true)
	require.NoError(t, err)
	assertSameTime(t, clock.Now().Add(10*time.Minute), claims.Expires())
	assert.Empty(t, claims.SID)

	parsed, err := ts.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, auth.PurposeSecondFactor, parsed.Purpose)
	assert.True(t, parsed.Remember)

	_, _, err = ts.Refresh(parsed)
	assert.ErrorIs(t, err, auth.ErrSessionInvalid, "challenges never slide")
}
