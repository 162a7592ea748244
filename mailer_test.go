package auth_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-member-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogMailer(t *testing.T) {
	logger := &testLogger{}
	mailer := auth.NewLogMailer(logger)

	err := mailer.Deliver(context.Background(), "member@example.com", auth.MailTemplateTwoFactorCode, map[string]string{"expires_in": "5"})
	require.NoError(t, err)
	assert.True(t, logger.contains("to=member@example.com"))
	assert.True(t, logger.contains("template=two_factor_code"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, mailer.Deliver(ctx, "member@example.com", auth.MailTemplatePasswordReset, nil), context.Canceled)
}

func TestDeliverCode_EscapesParams(t *testing.T) {
	h := newHarness(t)
	account := h.seed(t, "member@example.com", withTwoFactor())

	stored := h.load(t, account.ID)
	stored.FirstName = "<b>Pepe</b>"
	require.NoError(t, h.store.SaveAccount(context.Background(), stored))

	_, err := login(h, "member@example.com", testPassword)
	require.NoError(t, err)

	assert.Equal(t, "&lt;b&gt;Pepe&lt;/b&gt; Rone", h.mailer.last(t).Params["name"])
}

func TestDeliverCode_WithoutMailer(t *testing.T) {
	h := newHarness(t)
	h.auther.WithMailer(nil)
	h.seed(t, "member@example.com", withTwoFactor())

	result, err := login(h, "member@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrDeliveryFailure)
	assert.Equal(t, auth.StateAwaitingSecondFactor, result.State)
}
