// Package identity is the sign-in collaborator: email/password accounts,
// magic links, opaque session tokens and session-change notifications. All
// state lives in the users, sessions and magic_tokens tables.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/metrics"
	"scrubnotes/internal/table"
)

const (
	// MinPasswordLength is the shortest password SignUp accepts.
	MinPasswordLength = 6
	// DefaultSessionTTL is how long a session token stays valid.
	DefaultSessionTTL = 30 * 24 * time.Hour
	// DefaultMagicLinkTTL is how long an emailed link can be used.
	DefaultMagicLinkTTL = 15 * time.Minute
)

var (
	errNoSession      = errors.New("no session token")
	errUnknownSession = errors.New("session not found")
	errExpiredSession = errors.New("session expired")
)

// Session is an authenticated sign-in.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provider is the identity contract the rest of the application consumes.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (Session, error)
	RequestMagicLink(ctx context.Context, email string) error
	VerifyMagicLink(ctx context.Context, token string) (Session, error)
	SignOut(ctx context.Context, token string) error
	GetSession(ctx context.Context, token string) (Session, error)
	Subscribe() (<-chan Event, func())
}

// Service implements Provider on a table.Store.
type Service struct {
	store      table.Store
	mailer     Mailer
	log        *zap.Logger
	metrics    metrics.Recorder
	bus        *bus
	now        func() time.Time
	baseURL    string
	sessionTTL time.Duration
	linkTTL    time.Duration
	bcryptCost int
}

var _ Provider = (*Service)(nil)

// Option customises a Service.
type Option func(*Service)

func WithMailer(m Mailer) Option              { return func(s *Service) { s.mailer = m } }
func WithLogger(l *zap.Logger) Option         { return func(s *Service) { s.log = l } }
func WithMetrics(r metrics.Recorder) Option   { return func(s *Service) { s.metrics = r } }
func WithClock(now func() time.Time) Option   { return func(s *Service) { s.now = now } }
func WithBaseURL(u string) Option             { return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") } }
func WithSessionTTL(d time.Duration) Option   { return func(s *Service) { s.sessionTTL = d } }
func WithMagicLinkTTL(d time.Duration) Option { return func(s *Service) { s.linkTTL = d } }

// WithBcryptCost sets the password hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(c int) Option { return func(s *Service) { s.bcryptCost = c } }

// NewService builds a Service. Without a mailer, magic links are logged.
func NewService(store table.Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		log:        zap.NewNop(),
		metrics:    metrics.Nop{},
		bus:        newBus(),
		now:        time.Now,
		baseURL:    "http://localhost:8080",
		sessionTTL: DefaultSessionTTL,
		linkTTL:    DefaultMagicLinkTTL,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, o := range opts {
		o(s)
	}
	if s.mailer == nil {
		s.mailer = LogMailer{Log: s.log}
	}
	return s
}

// Subscribe returns a channel of session changes and a function that
// unsubscribes and closes it.
func (s *Service) Subscribe() (<-chan Event, func()) { return s.bus.subscribe() }

func normalizeEmail(op, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperr.Validation(op, "email is required")
	}
	if at := strings.IndexByte(email, '@'); at <= 0 || at == len(email)-1 {
		return "", apperr.Validationf(op, "invalid email %q", email)
	}
	return email, nil
}

func invalidCredentials(op string) error {
	return &apperr.Error{Kind: apperr.KindAuth, Op: op, Message: "invalid email or password"}
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// SignUp creates an account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password string) (sess Session, err error) {
	const op = "identity.sign_up"
	defer metrics.Track(ctx, s.metrics, op, time.Now(), &err)
	if email, err = normalizeEmail(op, email); err != nil {
		return Session{}, err
	}
	if len(password) < MinPasswordLength {
		return Session{}, apperr.Validationf(op, "password must be at least %d characters", MinPasswordLength)
	}
	if _, found, err := s.userByEmail(ctx, op, email); err != nil {
		return Session{}, err
	} else if found {
		return Session{}, apperr.Validation(op, "email already registered")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return Session{}, apperr.Remote(op, err)
	}
	row, err := s.store.Insert(ctx, "users", table.Row{"email": email, "password_hash": string(hash)})
	if err != nil {
		return Session{}, apperr.Remote(op, err)
	}
	s.log.Info("user signed up", zap.String("user_id", row["id"].(string)))
	return s.startSession(ctx, op, row["id"].(string), email)
}

// SignInWithPassword checks the password and opens a session.
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (sess Session, err error) {
	const op = "identity.sign_in_password"
	defer metrics.Track(ctx, s.metrics, op, time.Now(), &err)
	if email, err = normalizeEmail(op, email); err != nil {
		return Session{}, err
	}
	if password == "" {
		return Session{}, apperr.Validation(op, "password is required")
	}
	user, found, err := s.userByEmail(ctx, op, email)
	if err != nil {
		return Session{}, err
	}
	hash, _ := user["password_hash"].(string)
	if !found || hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		s.log.Info("password sign-in rejected", zap.String("email", email))
		return Session{}, invalidCredentials(op)
	}
	return s.startSession(ctx, op, user["id"].(string), email)
}

// RequestMagicLink stores a single-use token and mails the sign-in link.
func (s *Service) RequestMagicLink(ctx context.Context, email string) (err error) {
	const op = "identity.request_magic_link"
	defer metrics.Track(ctx, s.metrics, op, time.Now(), &err)
	if email, err = normalizeEmail(op, email); err != nil {
		return err
	}
	token, err := newToken()
	if err != nil {
		return apperr.Remote(op, err)
	}
	expires := s.now().Add(s.linkTTL)
	if _, err := s.store.Insert(ctx, "magic_tokens", table.Row{"email": email, "token": token, "expires_at": expires.UnixNano()}); err != nil {
		return apperr.Remote(op, err)
	}
	link := s.baseURL + "/auth/verify?token=" + token
	if err := s.mailer.SendMagicLink(ctx, email, link); err != nil {
		s.log.Error("magic link delivery failed", zap.String("email", email), zap.Error(err))
		return apperr.Remote(op, err)
	}
	return nil
}

// VerifyMagicLink consumes a token and signs in its email, creating the
// account on first use.
func (s *Service) VerifyMagicLink(ctx context.Context, token string) (sess Session, err error) {
	const op = "identity.verify_magic_link"
	defer metrics.Track(ctx, s.metrics, op, time.Now(), &err)
	rejected := &apperr.Error{Kind: apperr.KindAuth, Op: op, Message: "sign-in link is invalid or has expired"}
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, rejected
	}
	rows, err := s.store.Select(ctx, table.Query{Table: "magic_tokens", Filters: []table.Filter{table.Eq("token", token)}, Limit: 1})
	if err != nil {
		return Session{}, apperr.Remote(op, err)
	}
	if len(rows) == 0 {
		return Session{}, rejected
	}
	used, _ := rows[0]["used"].(bool)
	expires, _ := rows[0]["expires_at"].(int64)
	if used || s.now().UnixNano() >= expires {
		return Session{}, rejected
	}
	// the used=false filter makes concurrent verifications race for one row
	n, err := s.store.Update(ctx, "magic_tokens", table.Row{"used": true}, []table.Filter{table.Eq("token", token), table.Eq("used", false)})
	if err != nil {
		return Session{}, apperr.Remote(op, err)
	}
	if n == 0 {
		return Session{}, rejected
	}
	email, _ := rows[0]["email"].(string)
	user, found, err := s.userByEmail(ctx, op, email)
	if err != nil {
		return Session{}, err
	}
	if !found {
		if user, err = s.store.Insert(ctx, "users", table.Row{"email": email}); err != nil {
			return Session{}, apperr.Remote(op, err)
		}
	}
	return s.startSession(ctx, op, user["id"].(string), email)
}

// SignOut deletes the session. Unknown tokens are not an error.
func (s *Service) SignOut(ctx context.Context, token string) (err error) {
	const op = "identity.sign_out"
	defer metrics.Track(ctx, s.metrics, op, time.Now(), &err)
	if token == "" {
		return nil
	}
	rows, err := s.store.Select(ctx, table.Query{Table: "sessions", Filters: []table.Filter{table.Eq("token", token)}, Limit: 1})
	if err != nil {
		return apperr.Remote(op, err)
	}
	if _, err := s.store.Delete(ctx, "sessions", []table.Filter{table.Eq("token", token)}); err != nil {
		return apperr.Remote(op, err)
	}
	if len(rows) > 0 {
		uid, _ := rows[0]["user_id"].(string)
		s.bus.publish(Event{Kind: SignedOut, UserID: uid, Token: token})
		s.log.Info("signed out", zap.String("user_id", uid))
	}
	return nil
}

// GetSession resolves a token. Missing, unknown and expired tokens are Auth
// errors; expired sessions are removed and announced.
func (s *Service) GetSession(ctx context.Context, token string) (Session, error) {
	const op = "identity.get_session"
	if token == "" {
		return Session{}, apperr.Auth(op, errNoSession)
	}
	rows, err := s.store.Select(ctx, table.Query{Table: "sessions", Filters: []table.Filter{table.Eq("token", token)}, Limit: 1})
	if err != nil {
		return Session{}, apperr.Remote(op, err)
	}
	if len(rows) == 0 {
		return Session{}, apperr.Auth(op, errUnknownSession)
	}
	uid, _ := rows[0]["user_id"].(string)
	expires, _ := rows[0]["expires_at"].(int64)
	if s.now().UnixNano() >= expires {
		if _, err := s.store.Delete(ctx, "sessions", []table.Filter{table.Eq("token", token)}); err != nil {
			s.log.Warn("expired session cleanup failed", zap.Error(err))
		}
		s.bus.publish(Event{Kind: Expired, UserID: uid, Token: token})
		return Session{}, apperr.Auth(op, errExpiredSession)
	}
	users, err := s.store.Select(ctx, table.Query{Table: "users", Columns: []string{"email"}, Filters: []table.Filter{table.Eq("id", uid)}, Limit: 1})
	if err != nil {
		return Session{}, apperr.Remote(op, err)
	}
	if len(users) == 0 {
		return Session{}, apperr.Auth(op, fmt.Errorf("user %s no longer exists", uid))
	}
	email, _ := users[0]["email"].(string)
	return Session{Token: token, UserID: uid, Email: email, ExpiresAt: time.Unix(0, expires)}, nil
}

func (s *Service) userByEmail(ctx context.Context, op, email string) (table.Row, bool, error) {
	rows, err := s.store.Select(ctx, table.Query{Table: "users", Filters: []table.Filter{table.Eq("email", email)}, Limit: 1})
	if err != nil {
		return nil, false, apperr.Remote(op, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (s *Service) startSession(ctx context.Context, op, userID, email string) (Session, error) {
	token, err := newToken()
	if err != nil {
		return Session{}, apperr.Remote(op, err)
	}
	expires := s.now().Add(s.sessionTTL)
	if _, err := s.store.Insert(ctx, "sessions", table.Row{"token": token, "user_id": userID, "expires_at": expires.UnixNano()}); err != nil {
		return Session{}, apperr.Remote(op, err)
	}
	s.bus.publish(Event{Kind: SignedIn, UserID: userID, Token: token})
	s.log.Info("signed in", zap.String("user_id", userID), zap.String("via", op))
	return Session{Token: token, UserID: userID, Email: email, ExpiresAt: expires}, nil
}
