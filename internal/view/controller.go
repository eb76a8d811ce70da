// Package view drives a screen: session check, scoped load, user actions
// with a single busy slot, and the hands-free scroll mode of the scrub view.
package view

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/identity"
	"scrubnotes/internal/outcome"
)

// State is where a screen is in its load cycle.
type State string

const (
	StateInitializing       State = "initializing"
	StateNoIdentifier       State = "no-identifier"
	StateCheckingSession    State = "checking-session"
	StateRedirectingToLogin State = "redirecting-to-login"
	StateLoadingEntity      State = "loading-entity"
	StateNotFound           State = "not-found"
	StateLoadError          State = "load-error"
	StateReady              State = "ready"
)

// Busy is the action in flight on a ready screen.
type Busy string

const (
	Idle      Busy = "idle"
	Saving    Busy = "saving"
	Deleting  Busy = "deleting"
	Uploading Busy = "uploading"
)

var (
	// ErrBusy rejects an action while another one is running.
	ErrBusy = errors.New("view: another action is in progress")
	// ErrNotReady rejects an action on a screen that has not loaded.
	ErrNotReady = errors.New("view: screen is not ready")
	// ErrUnmounted is returned once the screen has been torn down.
	ErrUnmounted = errors.New("view: screen is unmounted")
)

// SessionSource resolves the session in ctx and reports session changes.
// *session.Guard implements it.
type SessionSource interface {
	Current(ctx context.Context) (identity.Session, error)
	Subscribe() (<-chan identity.Event, func())
}

// Config describes one screen.
type Config[T any] struct {
	Session SessionSource
	// Identifier is the route parameter the screen is about. It is checked
	// only when RequireIdentifier is set.
	Identifier        string
	RequireIdentifier bool
	Load              func(ctx context.Context, userID string) (T, error)
	Log               *zap.Logger
}

// Snapshot is a consistent copy of a controller's state.
type Snapshot[T any] struct {
	State State  `json:"state"`
	Busy  Busy   `json:"busy"`
	Data  T      `json:"data"`
	Error string `json:"error,omitempty"`
	// ActionError is the message of the last failed action, cleared when the
	// next one starts.
	ActionError string `json:"action_error,omitempty"`
}

// Controller is the state machine of one mounted screen.
type Controller[T any] struct {
	cfg Config[T]
	log *zap.Logger

	mu          sync.Mutex
	state       State
	busy        Busy
	data        T
	loadErr     string
	actionErr   string
	userID      string
	token       string
	gen         uint64
	mounted     bool
	unmounted   bool
	unsubscribe func()
	watchDone   chan struct{}
}

// NewController returns a controller in StateInitializing.
func NewController[T any](cfg Config[T]) *Controller[T] {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller[T]{cfg: cfg, log: log, state: StateInitializing, busy: Idle}
}

// Mount runs the load cycle and starts watching session changes. It returns
// the state the screen settled in.
func (c *Controller[T]) Mount(ctx context.Context) State {
	c.mu.Lock()
	if c.unmounted || c.mounted {
		st := c.state
		c.mu.Unlock()
		return st
	}
	c.mounted = true
	if c.cfg.RequireIdentifier && c.cfg.Identifier == "" {
		c.state = StateNoIdentifier
		c.mu.Unlock()
		return StateNoIdentifier
	}
	events, unsubscribe := c.cfg.Session.Subscribe()
	c.unsubscribe = unsubscribe
	c.watchDone = make(chan struct{})
	c.state = StateCheckingSession
	gen := c.bumpLocked()
	c.mu.Unlock()

	go c.watch(events, c.watchDone)

	sess, err := c.cfg.Session.Current(ctx)
	c.mu.Lock()
	switch {
	case gen != c.gen:
		st := c.state
		c.mu.Unlock()
		return st
	case errors.Is(err, apperr.ErrAuth):
		c.sessionLostLocked()
		c.mu.Unlock()
		return StateRedirectingToLogin
	case err != nil:
		c.loadErr = apperr.MessageOf(err)
		c.state = StateLoadError
		c.mu.Unlock()
		c.log.Warn("session check failed", zap.Error(err))
		return StateLoadError
	}
	c.userID, c.token = sess.UserID, sess.Token
	c.state = StateLoadingEntity
	c.mu.Unlock()
	c.reload(ctx, gen, sess.UserID)
	return c.State()
}

// bumpLocked starts a new generation; results tagged with an older one are
// dropped.
func (c *Controller[T]) bumpLocked() uint64 {
	c.gen++
	return c.gen
}

// reload fetches the entity and applies it if gen is still current.
func (c *Controller[T]) reload(ctx context.Context, gen uint64, uid string) {
	v, err := c.cfg.Load(ctx, uid)
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.log.Debug("dropping stale load result", zap.Uint64("generation", gen))
		return
	}
	var zero T
	switch {
	case err == nil:
		c.data = v
		c.loadErr = ""
		c.state = StateReady
	case errors.Is(err, apperr.ErrAuth):
		c.sessionLostLocked()
	case errors.Is(err, apperr.ErrNotFound):
		c.data = zero
		c.state = StateNotFound
	default:
		c.data = zero
		c.loadErr = apperr.MessageOf(err)
		c.state = StateLoadError
		c.log.Warn("screen load failed", zap.Error(err))
	}
}

// sessionLostLocked clears held data and sends the screen to sign-in.
func (c *Controller[T]) sessionLostLocked() {
	var zero T
	c.data = zero
	c.userID, c.token = "", ""
	c.state = StateRedirectingToLogin
	c.bumpLocked()
}

func (c *Controller[T]) watch(events <-chan identity.Event, done chan struct{}) {
	defer close(done)
	for ev := range events {
		if ev.Kind != identity.SignedOut && ev.Kind != identity.Expired {
			continue
		}
		c.mu.Lock()
		if c.token != "" && ev.Token == c.token {
			c.log.Info("session ended while screen mounted", zap.String("event", string(ev.Kind)))
			c.sessionLostLocked()
		}
		c.mu.Unlock()
	}
}

// Do runs one user action. Only one action runs at a time and the busy slot
// is released however fn ends. A successful action is followed by a reload
// so the screen never shows pre-mutation data.
func (c *Controller[T]) Do(ctx context.Context, busy Busy, fn func(ctx context.Context, userID string) error) error {
	c.mu.Lock()
	switch {
	case c.unmounted:
		c.mu.Unlock()
		return ErrUnmounted
	case c.busy != Idle:
		c.mu.Unlock()
		return ErrBusy
	case c.state != StateReady:
		c.mu.Unlock()
		return ErrNotReady
	}
	c.busy = busy
	c.actionErr = ""
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = Idle
		c.mu.Unlock()
	}()

	sess, err := c.cfg.Session.Current(ctx)
	uid := sess.UserID
	if err == nil {
		err = fn(ctx, uid)
	}
	if err != nil {
		c.mu.Lock()
		if errors.Is(err, apperr.ErrAuth) {
			c.sessionLostLocked()
		} else {
			c.actionErr = apperr.MessageOf(err)
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.unmounted || c.state != StateReady {
		c.mu.Unlock()
		return nil
	}
	gen := c.bumpLocked()
	c.mu.Unlock()
	c.reload(ctx, gen, uid)
	return nil
}

// Unmount stops session watching and drops any load still in flight. It is
// safe to call more than once.
func (c *Controller[T]) Unmount() {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	c.unmounted = true
	c.bumpLocked()
	unsubscribe, done := c.unsubscribe, c.watchDone
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
		<-done
	}
}

// Snapshot returns the current state.
func (c *Controller[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot[T]{State: c.state, Busy: c.busy, Data: c.data, Error: c.loadErr, ActionError: c.actionErr}
}

// State returns the current load state.
func (c *Controller[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Outcome reports the screen as a tagged result.
func (c *Controller[T]) Outcome() outcome.Result[T] {
	s := c.Snapshot()
	switch s.State {
	case StateReady:
		return outcome.Ok(s.Data)
	case StateRedirectingToLogin:
		return outcome.RequiresAuth[T]()
	case StateNotFound, StateNoIdentifier:
		return outcome.NotFound[T]()
	case StateLoadError:
		return outcome.Failed[T](s.Error)
	default:
		return outcome.Failed[T]("screen is still " + string(s.State))
	}
}
