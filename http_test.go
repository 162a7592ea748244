package auth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-member-auth"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cookieName = "member_session"

func newTestApp(t *testing.T, h *harness) *fiber.App {
	t.Helper()

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return fiber.New()
	})
	auth.RegisterAuthRoutes(srv.Router(),
		auth.WithAuther(h.auther, h.cfg),
		auth.WithResetURL("https://portal.example.com/password/reset"),
	)
	return srv.WrappedRouter()
}

type apiResponse struct {
	Status  int
	Header  http.Header
	Cookies []*http.Cookie
	Body    map[string]any
}

func (r apiResponse) cookie(name string) *http.Cookie {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (r apiResponse) errorField(key string) any {
	body, ok := r.Body["error"].(map[string]any)
	if !ok {
		return nil
	}
	return body[key]
}

func call(t *testing.T, app *fiber.App, method, target string, payload any, cookies ...*http.Cookie) apiResponse {
	t.Helper()
	return send(t, app, newRequest(t, method, target, payload, cookies...))
}

func newRequest(t *testing.T, method, target string, payload any, cookies ...*http.Cookie) *http.Request {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return req
}

func send(t *testing.T, app *fiber.App, req *http.Request) apiResponse {
	t.Helper()

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := apiResponse{
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Cookies: resp.Cookies(),
		Body:    map[string]any{},
	}

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.Body), string(raw))
	}
	return out
}

func loginPayload(email, password string) map[string]any {
	return map[string]any{"email": email, "password": password}
}

func TestHTTP_RegisterLoginAndMe(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(t, h)

	resp := call(t, app, http.MethodPost, "/register", map[string]any{
		"first_name":       "Pepe",
		"last_name":        "Rone",
		"email":            "Member@Example.com",
		"gender":           "Female",
		"nric":             testNRIC,
		"date_of_birth":    "1992-11-03",
		"who_am_i":         "<script>alert(1)</script>",
		"password":         testPassword,
		"confirm_password": testPassword,
	})
	require.Equal(t, http.StatusCreated, resp.Status, resp.Body)
	account, ok := resp.Body["account"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "member@example.com", account["email"])
	assert.NotContains(t, account, "password_hash")
	assert.NotContains(t, account, "nric_protected")
	assert.Equal(t, "<script>alert(1)</script>", account["who_am_i"])

	resp = call(t, app, http.MethodPost, "/register", map[string]any{
		"first_name":       "Pepe",
		"last_name":        "Rone",
		"email":            "member@example.com",
		"gender":           "Female",
		"nric":             testNRIC,
		"date_of_birth":    "1992-11-03",
		"password":         testPassword,
		"confirm_password": testPassword,
	})
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, auth.TextCodeEmailTaken, resp.errorField("text_code"))

	resp = call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testPassword))
	require.Equal(t, http.StatusOK, resp.Status, resp.Body)
	assert.Equal(t, string(auth.StateAuthenticated), resp.Body["state"])

	session := resp.cookie(cookieName)
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, session.SameSite)

	resp = call(t, app, http.MethodGet, "/me", nil, session)
	require.Equal(t, http.StatusOK, resp.Status, resp.Body)
	me, ok := resp.Body["account"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "member@example.com", me["email"])
	assert.Equal(t, "Female", me["gender"])
	assert.Equal(t, testNRIC, resp.Body["nric"], "the owner sees the national id")
	assert.NotNil(t, resp.cookie(cookieName), "idle window slides on every request")

	resp = call(t, app, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, auth.SessionExpiredTarget, resp.Body["redirect"])
}

func TestHTTP_RegisterRejectsWeakPassword(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(t, h)

	resp := call(t, app, http.MethodPost, "/register", map[string]any{
		"first_name":       "Pepe",
		"last_name":        "Rone",
		"email":            "member@example.com",
		"gender":           "Female",
		"nric":             testNRIC,
		"date_of_birth":    "1992-11-03",
		"password":         "password",
		"confirm_password": "password",
	})

	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, auth.TextCodePasswordPolicy, resp.errorField("text_code"))
	assert.Equal(t, []any{auth.GapLength, auth.GapUppercase, auth.GapDigit, auth.GapSymbol}, resp.errorField("requirements"))
}

func TestHTTP_NewLoginSignsOutOtherBrowser(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "member@example.com")
	app := newTestApp(t, h)

	first := call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testPassword)).cookie(cookieName)
	second := call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testPassword)).cookie(cookieName)
	require.NotNil(t, first)
	require.NotNil(t, second)

	resp := call(t, app, http.MethodGet, "/me", nil, first)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, auth.SessionExpiredTarget, resp.Body["redirect"])

	resp = call(t, app, http.MethodGet, "/me", nil, second)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestHTTP_IdleTimeout(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "member@example.com")
	app := newTestApp(t, h)

	session := call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testPassword)).cookie(cookieName)
	require.NotNil(t, session)

	h.clock.Advance(20 * time.Minute)
	resp := call(t, app, http.MethodGet, "/me", nil, session)
	require.Equal(t, http.StatusOK, resp.Status)
	refreshed := resp.cookie(cookieName)
	require.NotNil(t, refreshed)

	h.clock.Advance(20 * time.Minute)
	assert.Equal(t, http.StatusUnauthorized, call(t, app, http.MethodGet, "/me", nil, session).Status, "original cookie idled out")
	assert.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/me", nil, refreshed).Status)
}

func TestHTTP_LockoutReturnsRetryAfter(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "member@example.com")
	app := newTestApp(t, h)

	resp := call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", "Wrong!Password1"))
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, "Invalid email or password", resp.errorField("message"))

	call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", "Wrong!Password1"))

	resp = call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", "Wrong!Password1"))
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, "300", resp.Header.Get("Retry-After"))
	assert.Equal(t, auth.TextCodeAccountLocked, resp.errorField("text_code"))
	assert.Nil(t, resp.cookie(cookieName))
}

func TestHTTP_SecondFactor(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "member@example.com", withTwoFactor())
	app := newTestApp(t, h)

	resp := call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testPassword))
	require.Equal(t, http.StatusOK, resp.Status, resp.Body)
	assert.Equal(t, string(auth.StateAwaitingSecondFactor), resp.Body["state"])
	challenge := resp.cookie(cookieName)
	require.NotNil(t, challenge)

	resp = call(t, app, http.MethodGet, "/me", nil, challenge)
	assert.Equal(t, http.StatusUnauthorized, resp.Status, "a challenge is not a session")

	code := h.mailer.last(t).Params["code"]

	resp = call(t, app, http.MethodPost, "/login/second-factor", map[string]any{"code": wrongCode(code)}, challenge)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, "Invalid or expired verification code", resp.errorField("message"))

	resp = call(t, app, http.MethodPost, "/login/second-factor", map[string]any{"code": code}, challenge)
	require.Equal(t, http.StatusOK, resp.Status, resp.Body)
	session := resp.cookie(cookieName)
	require.NotNil(t, session)

	assert.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/me", nil, session).Status)
}

func TestHTTP_PasswordExpiredForcesChange(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "member@example.com", withPasswordChangedAt(h.clock.Now().Add(-100*24*time.Hour)))
	app := newTestApp(t, h)

	resp := call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testPassword))
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, string(auth.StatePasswordExpired), resp.Body["state"])
	challenge := resp.cookie(cookieName)
	require.NotNil(t, challenge)

	assert.Equal(t, http.StatusUnauthorized, call(t, app, http.MethodGet, "/me", nil, challenge).Status)

	resp = call(t, app, http.MethodPost, "/password/change", map[string]any{
		"current_password": testPassword,
		"new_password":     testNewPassword,
		"confirm_password": testNewPassword,
	}, challenge)
	require.Equal(t, http.StatusOK, resp.Status, resp.Body)
	cleared := resp.cookie(cookieName)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	resp = call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testNewPassword))
	assert.Equal(t, string(auth.StateAuthenticated), resp.Body["state"])
}

func TestHTTP_Logout(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "member@example.com")
	app := newTestApp(t, h)

	session := call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testPassword)).cookie(cookieName)
	require.NotNil(t, session)

	resp := call(t, app, http.MethodPost, "/logout", nil, session)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, auth.LoginRoute, resp.Body["redirect"])

	assert.Equal(t, http.StatusUnauthorized, call(t, app, http.MethodGet, "/me", nil, session).Status)

	resp = call(t, app, http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusOK, resp.Status, "signing out without a cookie is harmless")
}

func TestHTTP_PasswordStrength(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(t, h)

	resp := call(t, app, http.MethodPost, "/password/strength", map[string]any{"password": "abc"})
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, string(auth.StrengthWeak), resp.Body["strength"])
	assert.Len(t, resp.Body["requirements"], 4)

	resp = call(t, app, http.MethodPost, "/password/strength", map[string]any{"password": testPassword})
	assert.Equal(t, string(auth.StrengthStrong), resp.Body["strength"])
	assert.Empty(t, resp.Body["requirements"])
}

func TestHTTP_PasswordReset(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "member@example.com")
	app := newTestApp(t, h)

	session := call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testPassword)).cookie(cookieName)
	require.NotNil(t, session)

	unknown := call(t, app, http.MethodPost, "/password/forgot", map[string]any{"email": "ghost@example.com"})
	require.Equal(t, http.StatusOK, unknown.Status)
	assert.Equal(t, 0, h.mailer.count())

	known := call(t, app, http.MethodPost, "/password/forgot", map[string]any{"email": "member@example.com"})
	require.Equal(t, http.StatusOK, known.Status)
	assert.Equal(t, unknown.Body, known.Body)
	assert.Equal(t, auth.ResetRequestedMessage, known.Body["message"])

	mail := h.mailer.last(t)
	assert.Equal(t, auth.MailTemplatePasswordReset, mail.Template)
	assert.Contains(t, mail.Params["link"], "https://portal.example.com/password/reset?email=member%40example.com")
	token := resetTokenFromLink(t, mail.Params["link"])

	query := url.Values{"email": {"member@example.com"}, "token": {token}}
	resp := call(t, app, http.MethodGet, "/password/reset?"+query.Encode(), nil)
	require.Equal(t, http.StatusOK, resp.Status, resp.Body)
	assert.Equal(t, true, resp.Body["valid"])

	bogus := url.Values{"email": {"member@example.com"}, "token": {"bogus"}}
	resp = call(t, app, http.MethodGet, "/password/reset?"+bogus.Encode(), nil)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "Invalid or expired link", resp.errorField("message"))

	finalize := map[string]any{
		"email":            "member@example.com",
		"token":            token,
		"password":         testNewPassword,
		"confirm_password": testNewPassword,
	}
	resp = call(t, app, http.MethodPost, "/password/reset", finalize)
	require.Equal(t, http.StatusOK, resp.Status, resp.Body)

	resp = call(t, app, http.MethodPost, "/password/reset", finalize)
	assert.Equal(t, http.StatusBadRequest, resp.Status, "tokens are single use")

	assert.Equal(t, http.StatusUnauthorized, call(t, app, http.MethodGet, "/me", nil, session).Status, "reset signs out every device")

	resp = call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testNewPassword))
	assert.Equal(t, string(auth.StateAuthenticated), resp.Body["state"])
}

func TestHTTP_TwoFactorToggle(t *testing.T) {
	h := newHarness(t)
	account := h.seed(t, "member@example.com")
	app := newTestApp(t, h)

	session := call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testPassword)).cookie(cookieName)
	require.NotNil(t, session)

	resp := call(t, app, http.MethodPost, "/two-factor/enable", nil, session)
	require.Equal(t, http.StatusOK, resp.Status, resp.Body)
	assert.Equal(t, true, resp.Body["two_factor_enabled"])
	assert.True(t, h.load(t, account.ID).TwoFactorEnabled)

	resp = call(t, app, http.MethodPost, "/two-factor/disable", nil, session)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.False(t, h.load(t, account.ID).TwoFactorEnabled)
}

func TestHTTP_ExpiredAndWrongCodesLookAlike(t *testing.T) {
	challengeFor := func(app *fiber.App) *http.Cookie {
		resp := call(t, app, http.MethodPost, "/login", loginPayload("member@example.com", testPassword))
		require.Equal(t, http.StatusOK, resp.Status, resp.Body)
		challenge := resp.cookie(cookieName)
		require.NotNil(t, challenge)
		return challenge
	}

	wrongH := newHarness(t)
	wrongH.seed(t, "member@example.com", withTwoFactor())
	wrongApp := newTestApp(t, wrongH)
	challenge := challengeFor(wrongApp)
	code := wrongH.mailer.last(t).Params["code"]
	wrong := call(t, wrongApp, http.MethodPost, "/login/second-factor", map[string]any{"code": wrongCode(code)}, challenge)

	expiredH := newHarness(t)
	expiredH.seed(t, "member@example.com", withTwoFactor())
	expiredApp := newTestApp(t, expiredH)
	challenge = challengeFor(expiredApp)
	code = expiredH.mailer.last(t).Params["code"]
	expiredH.clock.Advance(6 * time.Minute)
	expired := call(t, expiredApp, http.MethodPost, "/login/second-factor", map[string]any{"code": code}, challenge)

	assert.Equal(t, http.StatusUnauthorized, wrong.Status)
	assert.Equal(t, wrong.Status, expired.Status)
	assert.Equal(t, wrong.errorField("message"), expired.errorField("message"))
	assert.Equal(t, auth.TextCodeTokenInvalid, wrong.errorField("text_code"))
	assert.Equal(t, auth.TextCodeTokenInvalid, expired.errorField("text_code"))

	assert.Equal(t, auth.ActivityEventSecondFactorExpired, expiredH.sink.last().EventType, "the audit trail keeps the cause")
	assert.Equal(t, auth.ActivityEventSecondFactorFailed, wrongH.sink.last().EventType)
}

func TestHTTP_AuditEventsCarryClientDetails(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "member@example.com")
	app := newTestApp(t, h)

	req := newRequest(t, http.MethodPost, "/login", loginPayload("member@example.com", testPassword))
	req.Header.Set("User-Agent", "PortalTest/1.0")
	resp := send(t, app, req)
	require.Equal(t, http.StatusOK, resp.Status, resp.Body)

	event := h.sink.last()
	assert.Equal(t, auth.ActivityEventLoginSuccess, event.EventType)
	assert.Equal(t, "PortalTest/1.0", event.Metadata[auth.MetaUserAgent])
	assert.NotEmpty(t, event.Metadata[auth.MetaIPAddress])

	req = newRequest(t, http.MethodPost, "/two-factor/enable", nil, resp.cookie(cookieName))
	req.Header.Set("User-Agent", "PortalTest/2.0")
	require.Equal(t, http.StatusOK, send(t, app, req).Status)
	assert.Equal(t, "PortalTest/2.0", h.sink.last().Metadata[auth.MetaUserAgent], "guarded routes carry client details too")
}

func TestHTTP_RegisterRejectsMissingProfile(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(t, h)

	resp := call(t, app, http.MethodPost, "/register", map[string]any{
		"first_name":       "Pepe",
		"last_name":        "Rone",
		"email":            "member@example.com",
		"password":         testPassword,
		"confirm_password": testPassword,
	})

	assert.Equal(t, http.StatusBadRequest, resp.Status)
	fields, ok := resp.errorField("fields").([]any)
	require.True(t, ok, resp.Body)
	assert.NotEmpty(t, fields)
}
