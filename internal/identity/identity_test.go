package identity

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/infra/persistence/memory"
	"scrubnotes/internal/table"
)

type captureMailer struct {
	mu    sync.Mutex
	links map[string]string
	err   error
}

func (m *captureMailer) SendMagicLink(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.links == nil {
		m.links = map[string]string{}
	}
	m.links[email] = link
	return nil
}

func (m *captureMailer) token(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	link := m.links[email]
	return link[strings.Index(link, "token=")+len("token="):]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *captureMailer, *fakeClock) {
	t.Helper()
	mailer := &captureMailer{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)}
	svc := NewService(memory.New(),
		WithMailer(mailer),
		WithClock(clock.Now),
		WithBcryptCost(bcrypt.MinCost),
		WithBaseURL("https://notes.example.com/"),
	)
	return svc, mailer, clock
}

func TestSignUpAndPasswordSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	sess, err := svc.SignUp(ctx, "  Nurse@Hospital.org ", "scrub123")
	require.NoError(t, err)
	assert.Equal(t, "nurse@hospital.org", sess.Email)
	assert.NotEmpty(t, sess.Token)

	_, err = svc.SignUp(ctx, "nurse@hospital.org", "another1")
	assert.True(t, errors.Is(err, apperr.ErrValidation), "duplicate email: %v", err)

	again, err := svc.SignInWithPassword(ctx, "NURSE@hospital.org", "scrub123")
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, again.UserID)
	assert.NotEqual(t, sess.Token, again.Token)

	_, err = svc.SignInWithPassword(ctx, "nurse@hospital.org", "wrong-pass")
	assert.True(t, errors.Is(err, apperr.ErrAuth))
	assert.Equal(t, "invalid email or password", apperr.MessageOf(err))
	_, err = svc.SignInWithPassword(ctx, "nobody@hospital.org", "scrub123")
	assert.True(t, errors.Is(err, apperr.ErrAuth))
}

func TestSignUpValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	cases := map[string][2]string{
		"empty email":    {"", "scrub123"},
		"no at sign":     {"nurse", "scrub123"},
		"short password": {"a@b.co", "12345"},
	}
	for name, in := range cases {
		_, err := svc.SignUp(context.Background(), in[0], in[1])
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestMagicLinkSingleUse(t *testing.T) {
	ctx := context.Background()
	svc, mailer, _ := newTestService(t)
	require.NoError(t, svc.RequestMagicLink(ctx, "Circulator@OR.org"))
	assert.True(t, strings.HasPrefix(mailer.links["circulator@or.org"], "https://notes.example.com/auth/verify?token="))

	sess, err := svc.VerifyMagicLink(ctx, mailer.token("circulator@or.org"))
	require.NoError(t, err)
	assert.Equal(t, "circulator@or.org", sess.Email)

	_, err = svc.VerifyMagicLink(ctx, mailer.token("circulator@or.org"))
	assert.True(t, errors.Is(err, apperr.ErrAuth), "second use must fail: %v", err)

	require.NoError(t, svc.RequestMagicLink(ctx, "circulator@or.org"))
	second, err := svc.VerifyMagicLink(ctx, mailer.token("circulator@or.org"))
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, second.UserID, "existing account is reused")
}

func TestMagicLinkExpires(t *testing.T) {
	ctx := context.Background()
	svc, mailer, clock := newTestService(t)
	require.NoError(t, svc.RequestMagicLink(ctx, "a@b.co"))
	clock.Advance(DefaultMagicLinkTTL + time.Second)
	_, err := svc.VerifyMagicLink(ctx, mailer.token("a@b.co"))
	assert.True(t, errors.Is(err, apperr.ErrAuth))
	_, err = svc.VerifyMagicLink(ctx, "")
	assert.True(t, errors.Is(err, apperr.ErrAuth))
}

func TestMagicLinkDeliveryFailureIsRemote(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	mailer.err = errors.New("smtp: 550 mailbox unavailable")
	err := svc.RequestMagicLink(context.Background(), "a@b.co")
	assert.True(t, errors.Is(err, apperr.ErrRemote))
	assert.Equal(t, "smtp: 550 mailbox unavailable", apperr.MessageOf(err))
}

func TestGetSessionExpiryAndSignOutPublishEvents(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	events, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	sess, err := svc.SignUp(ctx, "a@b.co", "secret1")
	require.NoError(t, err)
	assert.Equal(t, SignedIn, (<-events).Kind)

	got, err := svc.GetSession(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", got.Email)

	clock.Advance(DefaultSessionTTL)
	_, err = svc.GetSession(ctx, sess.Token)
	assert.True(t, errors.Is(err, apperr.ErrAuth))
	ev := <-events
	assert.Equal(t, Expired, ev.Kind)
	assert.Equal(t, sess.UserID, ev.UserID)

	other, err := svc.SignInWithPassword(ctx, "a@b.co", "secret1")
	require.NoError(t, err)
	<-events
	require.NoError(t, svc.SignOut(ctx, other.Token))
	assert.Equal(t, SignedOut, (<-events).Kind)
	_, err = svc.GetSession(ctx, other.Token)
	assert.True(t, errors.Is(err, apperr.ErrAuth))
	require.NoError(t, svc.SignOut(ctx, ""))
	_, err = svc.GetSession(ctx, "")
	assert.True(t, errors.Is(err, apperr.ErrAuth))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	svc, _, _ := newTestService(t)
	events, unsubscribe := svc.Subscribe()
	unsubscribe()
	unsubscribe()
	if _, ok := <-events; ok {
		t.Fatalf("expected closed channel")
	}
	_, err := svc.SignUp(context.Background(), "a@b.co", "secret1")
	require.NoError(t, err, "publishing after unsubscribe must not panic")
}

type failingStore struct{ table.Store }

func (failingStore) Select(context.Context, table.Query) ([]table.Row, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailuresAreRemote(t *testing.T) {
	svc := NewService(failingStore{memory.New()})
	_, err := svc.GetSession(context.Background(), "tok")
	assert.True(t, errors.Is(err, apperr.ErrRemote))
	assert.Equal(t, "connection refused", apperr.MessageOf(err))
}

func TestResendMailer(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	m := &ResendMailer{cfg: MailConfig{ResendAPIKey: "re_key", From: "notes@example.com"}, client: srv.Client(), endpoint: srv.URL}
	require.NoError(t, m.SendMagicLink(context.Background(), "a@b.co", "https://x/auth/verify?token=abc"))
	assert.Equal(t, "Bearer re_key", gotAuth)
	assert.Contains(t, gotBody, `"to":["a@b.co"]`)
	assert.Contains(t, gotBody, "token=abc")

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer failing.Close()
	m.endpoint = failing.URL
	assert.Error(t, m.SendMagicLink(context.Background(), "a@b.co", "l"))
}

func TestSMTPMailer(t *testing.T) {
	var addr string
	var msg []byte
	m := &SMTPMailer{
		cfg: MailConfig{SMTPHost: "mail.local", SMTPUser: "u", SMTPPass: "p", From: "notes@example.com"},
		sendMail: func(a string, _ smtp.Auth, _ string, _ []string, b []byte) error {
			addr, msg = a, b
			return nil
		},
	}
	require.NoError(t, m.SendMagicLink(context.Background(), "a@b.co", "https://x/auth/verify?token=abc"))
	assert.Equal(t, "mail.local:587", addr)
	assert.Contains(t, string(msg), "To: a@b.co\r\n")
}

func TestNewMailerSelection(t *testing.T) {
	assert.IsType(t, &SMTPMailer{}, NewMailer(MailConfig{SMTPHost: "h", ResendAPIKey: "k"}, nil))
	assert.IsType(t, &ResendMailer{}, NewMailer(MailConfig{ResendAPIKey: "k"}, nil))
	assert.IsType(t, LogMailer{}, NewMailer(MailConfig{}, nil))
	assert.NoError(t, LogMailer{}.SendMagicLink(context.Background(), "a@b.co", "l"))
}
