// Package session resolves the signed-in user for an operation. The token
// travels in the request context; every lookup re-validates it with the
// identity provider so a revoked or expired session is noticed immediately.
package session

import (
	"context"
	"errors"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/identity"
)

type tokenKey struct{}

// WithToken returns a context carrying the session token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the token carried by ctx, if any.
func TokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

var errNoToken = errors.New("no session token in context")

// Guard answers "who is signed in" for the operations that need it.
type Guard struct {
	provider identity.Provider
}

// NewGuard wraps an identity provider.
func NewGuard(p identity.Provider) *Guard {
	return &Guard{provider: p}
}

// CurrentUserID returns the user id of the session in ctx, or an Auth error.
func (g *Guard) CurrentUserID(ctx context.Context) (string, error) {
	sess, err := g.Current(ctx)
	if err != nil {
		return "", err
	}
	return sess.UserID, nil
}

// Current returns the whole session in ctx.
func (g *Guard) Current(ctx context.Context) (identity.Session, error) {
	const op = "session.current_user"
	tok := TokenFrom(ctx)
	if tok == "" {
		return identity.Session{}, apperr.Auth(op, errNoToken)
	}
	sess, err := g.provider.GetSession(ctx, tok)
	if err != nil {
		if errors.Is(err, apperr.ErrAuth) {
			return identity.Session{}, err
		}
		return identity.Session{}, apperr.Remote(op, err)
	}
	if sess.UserID == "" {
		return identity.Session{}, apperr.Auth(op, errors.New("session has no user"))
	}
	return sess, nil
}

// Subscribe forwards the provider's session-change notifications.
func (g *Guard) Subscribe() (<-chan identity.Event, func()) {
	return g.provider.Subscribe()
}
