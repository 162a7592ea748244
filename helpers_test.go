package auth_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-member-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword    = "Str0ng!Passw0rd12"
	testNewPassword = "An0ther!Secret99"
	testSigningKey  = "0123456789abcdef0123456789abcdef"
	testNRIC        = "S1234567D"
)

var testProfileKey = []byte("profile-key-0123456789abcdef0123")

func newTestProtector(t *testing.T) *auth.SecretboxProtector {
	t.Helper()
	p, err := auth.NewSecretboxProtector(testProfileKey)
	require.NoError(t, err)
	return p
}

type testConfig struct {
	key       string
	idle      time.Duration
	absolute  time.Duration
	extended  time.Duration
	challenge time.Duration
	threshold float64
}

func newTestConfig() *testConfig {
	return &testConfig{
		key:       testSigningKey,
		idle:      30 * time.Minute,
		absolute:  8 * time.Hour,
		extended:  720 * time.Hour,
		challenge: 10 * time.Minute,
		threshold: 0.5,
	}
}

func (c *testConfig) GetSigningKey() string                     { return c.key }
func (c *testConfig) GetContextKey() string                     { return "member_session" }
func (c *testConfig) GetIssuer() string                         { return "member-portal" }
func (c *testConfig) GetAudience() []string                     { return []string{"member-portal-web"} }
func (c *testConfig) GetSessionIdleTimeout() time.Duration      { return c.idle }
func (c *testConfig) GetSessionAbsoluteTimeout() time.Duration  { return c.absolute }
func (c *testConfig) GetExtendedSessionDuration() time.Duration { return c.extended }
func (c *testConfig) GetChallengeDuration() time.Duration       { return c.challenge }
func (c *testConfig) GetSecureCookies() bool                    { return false }
func (c *testConfig) GetHumanVerificationThreshold() float64    { return c.threshold }

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) log(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *testLogger) Debug(format string, args ...any) { l.log("DBG", format, args...) }
func (l *testLogger) Info(format string, args ...any)  { l.log("INF", format, args...) }
func (l *testLogger) Warn(format string, args ...any)  { l.log("WRN", format, args...) }
func (l *testLogger) Error(format string, args ...any) { l.log("ERR", format, args...) }

func (l *testLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *capturingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *capturingSink) last() auth.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return auth.ActivityEvent{}
	}
	return s.events[len(s.events)-1]
}

func (s *capturingSink) all() []auth.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEvent, len(s.events))
	copy(out, s.events)
	return out
}

type sentMail struct {
	Recipient string
	Template  auth.MailTemplate
	Params    map[string]string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *captureMailer) Deliver(_ context.Context, recipient string, template auth.MailTemplate, params map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{Recipient: recipient, Template: template, Params: params})
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "expected a mail to be sent")
	return m.sent[len(m.sent)-1]
}

func (m *captureMailer) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	auther *auth.Auther
	store  *auth.MemoryStore
	clock  *testClock
	sink   *capturingSink
	mailer *captureMailer
	logger *testLogger
	cfg    *testConfig
}

func testPolicy() auth.SecurityPolicy {
	policy := auth.DefaultSecurityPolicy()
	policy.HashCost = bcrypt.MinCost
	return policy
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, auth.NewMemoryStore(), nil)
}

func newHarnessWithStore(t *testing.T, store *auth.MemoryStore, wrap func(*auth.MemoryStore) auth.AccountStore) *harness {
	t.Helper()

	h := &harness{
		store:  store,
		clock:  newTestClock(),
		sink:   &capturingSink{},
		mailer: &captureMailer{},
		logger: &testLogger{},
		cfg:    newTestConfig(),
	}

	var backend auth.AccountStore = store
	if wrap != nil {
		backend = wrap(store)
	}

	h.auther = auth.NewAuthenticator(backend, h.cfg).
		WithSecurityPolicy(testPolicy()).
		WithLogger(h.logger).
		WithClock(h.clock.Now).
		WithActivitySink(h.sink).
		WithMailer(h.mailer).
		WithProtector(newTestProtector(t)).
		WithSyncDelivery(true)

	return h
}

type seedOption func(*auth.Account)

func withTwoFactor() seedOption {
	return func(a *auth.Account) { a.TwoFactorEnabled = true }
}

func withPasswordChangedAt(t time.Time) seedOption {
	return func(a *auth.Account) { a.PasswordChangedAt = &t }
}

func (h *harness) seed(t *testing.T, email string, opts ...seedOption) *auth.Account {
	t.Helper()

	hash, err := auth.NewHasher(bcrypt.MinCost).Hash(testPassword)
	require.NoError(t, err)

	changed := h.clock.Now().Add(-24 * time.Hour)
	account := &auth.Account{
		ID:                uuid.New(),
		FirstName:         "Pepe",
		LastName:          "Rone",
		Email:             email,
		PasswordHash:      hash,
		PasswordChangedAt: &changed,
	}
	for _, opt := range opts {
		opt(account)
	}

	created, err := h.store.CreateAccount(context.Background(), account)
	require.NoError(t, err)
	return created
}

func (h *harness) load(t *testing.T, id uuid.UUID) *auth.Account {
	t.Helper()
	account, err := h.store.LoadAccount(context.Background(), id)
	require.NoError(t, err)
	return account
}

func login(h *harness, email, password string) (*auth.LoginResult, error) {
	return h.auther.Login(context.Background(), auth.LoginRequest{Email: email, Password: password})
}

// wrongCode returns a six digit code guaranteed to differ from code.
func wrongCode(code string) string {
	if code == "111111" {
		return "222222"
	}
	return "111111"
}

func resetTokenFromLink(t *testing.T, link string) string {
	t.Helper()
	parts := strings.SplitN(link, "token=", 2)
	require.Len(t, parts, 2, "reset link carries a token: %s", link)
	return parts[1]
}
