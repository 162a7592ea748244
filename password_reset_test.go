package auth_test

import (
	"testing"
	"time"

	auth "github.com/goliatone/go-member-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newResetFlow() *auth.ResetFlow {
	return auth.NewResetFlow(auth.DefaultPasswordPolicy(), auth.NewHasher(bcrypt.MinCost), auth.DefaultLockoutTracker())
}

func TestResetFlow_TokenValidity(t *testing.T) {
	flow := newResetFlow()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	account := &auth.Account{Email: "member@example.com"}

	token, err := flow.RequestReset(account, now)
	require.NoError(t, err)
	assert.NotEqual(t, token, account.ResetTokenHash)

	assert.Equal(t, auth.TokenValid, flow.ValidateToken(account, "member@example.com", token, now))
	assert.Equal(t, auth.TokenValid, flow.ValidateToken(account, " Member@Example.com ", token, now))
	assert.Equal(t, auth.TokenValid, flow.ValidateToken(account, "member@example.com", token, now.Add(time.Hour-time.Second)))

	assert.Equal(t, auth.TokenInvalid, flow.ValidateToken(account, "member@example.com", token, now.Add(time.Hour)), "expiry instant is invalid")
	assert.Equal(t, auth.TokenInvalid, flow.ValidateToken(account, "other@example.com", token, now))
	assert.Equal(t, auth.TokenInvalid, flow.ValidateToken(account, "member@example.com", token+"x", now))
	assert.Equal(t, auth.TokenInvalid, flow.ValidateToken(account, "member@example.com", "", now))
	assert.Equal(t, auth.TokenInvalid, flow.ValidateToken(nil, "member@example.com", token, now))
}

func TestResetFlow_NewRequestReplacesToken(t *testing.T) {
	flow := newResetFlow()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	account := &auth.Account{Email: "member@example.com"}

	first, err := flow.RequestReset(account, now)
	require.NoError(t, err)
	second, err := flow.RequestReset(account, now)
	require.NoError(t, err)

	assert.Equal(t, auth.TokenInvalid, flow.ValidateToken(account, account.Email, first, now))
	assert.Equal(t, auth.TokenValid, flow.ValidateToken(account, account.Email, second, now))
}

func TestResetFlow_Complete(t *testing.T) {
	flow := newResetFlow()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	current, err := flow.Hasher.Hash(testPassword)
	require.NoError(t, err)

	end := now.Add(time.Minute)
	account := &auth.Account{
		Email:               "member@example.com",
		PasswordHash:        current,
		FailedLoginAttempts: 3,
		LockoutEnd:          &end,
	}
	_, err = flow.RequestReset(account, now)
	require.NoError(t, err)

	err = flow.Complete(account, "weak", now)
	require.Error(t, err)
	assert.Contains(t, auth.PolicyViolations(err), auth.GapLength)

	err = flow.Complete(account, testPassword, now)
	require.Error(t, err)
	assert.Equal(t, []string{"Cannot reuse your previous passwords"}, auth.PolicyViolations(err))
	assert.NotEmpty(t, account.ResetTokenHash, "failed attempts keep the token")

	require.NoError(t, flow.Complete(account, testNewPassword, now))

	assert.Equal(t, auth.VerifyMatch, flow.Hasher.Verify(account.PasswordHash, testNewPassword))
	assert.Equal(t, current, account.PreviousPasswordHash1)
	assert.Empty(t, account.ResetTokenHash)
	assert.Nil(t, account.ResetTokenExpiry)
	assert.Zero(t, account.FailedLoginAttempts)
	assert.Nil(t, account.LockoutEnd)
}

func TestResetFlow_NewTokenIsUnbound(t *testing.T) {
	flow := newResetFlow()

	a, err := flow.NewToken()
	require.NoError(t, err)
	b, err := flow.NewToken()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43, "32 bytes in unpadded base64url")
}
