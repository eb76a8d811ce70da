package view

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/identity"
	"scrubnotes/internal/infra/persistence/memory"
	"scrubnotes/internal/outcome"
	"scrubnotes/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	mu   sync.Mutex
	uid  string
	err  error
	subs []chan identity.Event
}

func (f *fakeSession) Current(context.Context) (identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return identity.Session{}, f.err
	}
	if f.uid == "" {
		return identity.Session{}, apperr.Auth("test", errors.New("no session"))
	}
	return identity.Session{UserID: f.uid, Token: "tok-" + f.uid}, nil
}

func (f *fakeSession) Subscribe() (<-chan identity.Event, func()) {
	ch := make(chan identity.Event, 4)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, c := range f.subs {
				if c == ch {
					f.subs = append(f.subs[:i], f.subs[i+1:]...)
				}
			}
			close(ch)
		})
	}
}

func (f *fakeSession) signOut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := identity.Event{Kind: identity.SignedOut, UserID: f.uid, Token: "tok-" + f.uid}
	f.uid = ""
	for _, c := range f.subs {
		c <- ev
	}
}

// endOther reports the end of another session of the same user.
func (f *fakeSession) endOther(kind identity.EventKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := identity.Event{Kind: kind, UserID: f.uid, Token: "tok-elsewhere"}
	for _, c := range f.subs {
		c <- ev
	}
}

func (f *fakeSession) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func listLoader(calls *atomic.Int32) func(context.Context, string) ([]string, error) {
	return func(_ context.Context, uid string) ([]string, error) {
		n := calls.Add(1)
		if n == 1 {
			return []string{uid + ":a"}, nil
		}
		return []string{uid + ":a", uid + ":b"}, nil
	}
}

func TestMountWithoutIdentifier(t *testing.T) {
	sess := &fakeSession{uid: "u1"}
	c := NewController(Config[string]{
		Session:           sess,
		RequireIdentifier: true,
		Load: func(context.Context, string) (string, error) {
			t.Fatal("load must not run")
			return "", nil
		},
	})
	assert.Equal(t, StateInitializing, c.State())
	assert.Equal(t, StateNoIdentifier, c.Mount(context.Background()))
	assert.Equal(t, outcome.StatusNotFound, c.Outcome().Status)
	c.Unmount()
}

func TestMountWithoutSessionRedirects(t *testing.T) {
	var calls atomic.Int32
	c := NewController(Config[[]string]{Session: &fakeSession{}, Load: listLoader(&calls)})
	defer c.Unmount()
	assert.Equal(t, StateRedirectingToLogin, c.Mount(context.Background()))
	assert.Zero(t, calls.Load())
	assert.Equal(t, outcome.StatusRequiresAuth, c.Outcome().Status)
}

func TestMountLoadOutcomes(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		state State
		msg   string
	}{
		{"not found", apperr.NotFound("load", "surgeon not found"), StateNotFound, ""},
		{"remote", apperr.Remote("load", errors.New("JWT expired")), StateLoadError, "JWT expired"},
		{"auth", apperr.Auth("load", errors.New("gone")), StateRedirectingToLogin, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewController(Config[int]{
				Session: &fakeSession{uid: "u1"},
				Load:    func(context.Context, string) (int, error) { return 0, tc.err },
			})
			defer c.Unmount()
			assert.Equal(t, tc.state, c.Mount(context.Background()))
			assert.Equal(t, tc.msg, c.Snapshot().Error)
		})
	}
}

func TestDoReloadsAfterSuccess(t *testing.T) {
	var calls atomic.Int32
	c := NewController(Config[[]string]{Session: &fakeSession{uid: "u1"}, Identifier: "s1", RequireIdentifier: true, Load: listLoader(&calls)})
	defer c.Unmount()
	require.Equal(t, StateReady, c.Mount(context.Background()))
	assert.Equal(t, []string{"u1:a"}, c.Snapshot().Data)

	var gotUser string
	err := c.Do(context.Background(), Saving, func(_ context.Context, uid string) error {
		gotUser = uid
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", gotUser)
	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.Busy)
	assert.Equal(t, []string{"u1:a", "u1:b"}, snap.Data)
	assert.EqualValues(t, 2, calls.Load())
}

func TestDoRejectsSecondActionAndAlwaysReturnsToIdle(t *testing.T) {
	var calls atomic.Int32
	c := NewController(Config[[]string]{Session: &fakeSession{uid: "u1"}, Load: listLoader(&calls)})
	defer c.Unmount()
	require.Equal(t, StateReady, c.Mount(context.Background()))

	started := make(chan struct{})
	release := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- c.Do(context.Background(), Uploading, func(context.Context, string) error {
			close(started)
			<-release
			return apperr.Remote("upload", errors.New("Bucket not found"))
		})
	}()
	<-started
	assert.Equal(t, Uploading, c.Snapshot().Busy)
	assert.ErrorIs(t, c.Do(context.Background(), Deleting, func(context.Context, string) error { return nil }), ErrBusy)
	close(release)
	err := <-errc
	assert.ErrorIs(t, err, apperr.ErrRemote)

	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.Busy)
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, "Bucket not found", snap.ActionError)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoOnUnreadyScreen(t *testing.T) {
	c := NewController(Config[int]{Session: &fakeSession{}, Load: func(context.Context, string) (int, error) { return 1, nil }})
	c.Mount(context.Background())
	assert.ErrorIs(t, c.Do(context.Background(), Saving, func(context.Context, string) error { return nil }), ErrNotReady)
	c.Unmount()
	assert.ErrorIs(t, c.Do(context.Background(), Saving, func(context.Context, string) error { return nil }), ErrUnmounted)
}

func TestSessionLostClearsData(t *testing.T) {
	sess := &fakeSession{uid: "u1"}
	var calls atomic.Int32
	c := NewController(Config[[]string]{Session: sess, Load: listLoader(&calls)})
	defer c.Unmount()
	require.Equal(t, StateReady, c.Mount(context.Background()))

	sess.signOut()
	assert.Eventually(t, func() bool { return c.State() == StateRedirectingToLogin }, time.Second, 5*time.Millisecond)
	assert.Nil(t, c.Snapshot().Data)
}

func TestOtherSessionEndingKeepsScreen(t *testing.T) {
	sess := &fakeSession{uid: "u1"}
	var calls atomic.Int32
	c := NewController(Config[[]string]{Session: sess, Load: listLoader(&calls)})
	defer c.Unmount()
	require.Equal(t, StateReady, c.Mount(context.Background()))

	sess.endOther(identity.SignedOut)
	sess.endOther(identity.Expired)
	assert.Never(t, func() bool { return c.State() != StateReady }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, []string{"u1:a"}, c.Snapshot().Data)
}

func TestScreenFollowsItsOwnSessionOnly(t *testing.T) {
	ids := identity.NewService(memory.New(), identity.WithBcryptCost(bcrypt.MinCost))
	ctx := context.Background()
	first, err := ids.SignUp(ctx, "two@example.com", "secret1")
	require.NoError(t, err)
	second, err := ids.SignInWithPassword(ctx, "two@example.com", "secret1")
	require.NoError(t, err)

	guard := session.NewGuard(ids)
	c := NewController(Config[string]{
		Session: guard,
		Load:    func(_ context.Context, uid string) (string, error) { return uid, nil },
	})
	defer c.Unmount()
	screenCtx := session.WithToken(ctx, second.Token)
	require.Equal(t, StateReady, c.Mount(screenCtx))

	require.NoError(t, ids.SignOut(ctx, first.Token))
	assert.Never(t, func() bool { return c.State() != StateReady }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, second.UserID, c.Snapshot().Data)

	require.NoError(t, ids.SignOut(ctx, second.Token))
	assert.Eventually(t, func() bool { return c.State() == StateRedirectingToLogin }, time.Second, 5*time.Millisecond)
}

func TestUnmountDropsLateLoadAndUnsubscribes(t *testing.T) {
	sess := &fakeSession{uid: "u1"}
	entered := make(chan struct{})
	release := make(chan struct{})
	c := NewController(Config[string]{
		Session: sess,
		Load: func(context.Context, string) (string, error) {
			close(entered)
			<-release
			return "late", nil
		},
	})
	done := make(chan State, 1)
	go func() { done <- c.Mount(context.Background()) }()
	<-entered
	c.Unmount()
	assert.Zero(t, sess.subscribers())
	close(release)
	assert.Equal(t, StateLoadingEntity, <-done)
	assert.Equal(t, "", c.Snapshot().Data)
	c.Unmount()
}

func TestScrollerAdvancesAndPauses(t *testing.T) {
	s := NewScroller()
	now := time.Unix(0, 0)
	s.Open(SectionDraping, 500, 100)
	f := s.Advance(now, time.Second)
	assert.InDelta(t, 18, f.Offset, 0.001)

	s.Hover(true)
	f = s.Advance(now, time.Second)
	assert.InDelta(t, 18, f.Offset, 0.001)
	s.Hover(false)

	assert.False(t, s.Toggle())
	f = s.Advance(now, time.Second)
	assert.InDelta(t, 18, f.Offset, 0.001)
	assert.True(t, s.Toggle())

	s.SetSpeed(SpeedFast)
	f = s.Advance(now, time.Second)
	assert.InDelta(t, 46, f.Offset, 0.001)
}

func TestScrollerWrapsAfterDelay(t *testing.T) {
	s := NewScroller()
	now := time.Unix(0, 0)
	s.Open(SectionWorkflow, 110, 100)
	f := s.Advance(now, time.Second)
	assert.InDelta(t, 10, f.Offset, 0.001)

	f = s.Advance(now.Add(WrapDelay-time.Millisecond), 16*time.Millisecond)
	assert.InDelta(t, 10, f.Offset, 0.001)
	f = s.Advance(now.Add(WrapDelay), 16*time.Millisecond)
	assert.Zero(t, f.Offset)
}

func TestScrollerShortContentStays(t *testing.T) {
	s := NewScroller()
	s.Open(SectionInstruments, 50, 100)
	assert.Zero(t, s.Advance(time.Now(), time.Second).Offset)
}

func TestScrollerReopenRestoresDefaults(t *testing.T) {
	s := NewScroller()
	s.Open(SectionDraping, 1000, 100)
	s.SetSpeed(SpeedSlow)
	s.Toggle()
	s.Hover(true)
	s.Advance(time.Now(), time.Second)
	s.Close()
	f := s.Frame()
	assert.Equal(t, Section(""), f.Section)
	assert.Zero(t, f.Offset)

	s.Open(SectionDraping, 1000, 100)
	f = s.Frame()
	assert.Equal(t, Frame{Section: SectionDraping, Offset: 0, Max: 900, On: true, Speed: SpeedNormal}, f)
}

func TestScrollerRunStopsOnClose(t *testing.T) {
	s := NewScroller()
	s.Open(SectionDraping, 10000, 100)
	frames := make(chan Frame, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- s.Run(context.Background(), time.Millisecond, func(f Frame) {
			select {
			case frames <- f:
			default:
			}
		})
	}()
	<-frames
	s.Close()
	assert.NoError(t, <-errc)
}

func TestScrollerRunStopsOnCancel(t *testing.T) {
	s := NewScroller()
	s.Open(SectionDraping, 10000, 100)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx, time.Millisecond, nil) }()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	closed := NewScroller()
	assert.NoError(t, closed.Run(context.Background(), time.Millisecond, nil))
}

func TestParseSection(t *testing.T) {
	s, ok := ParseSection("instruments_trays")
	assert.True(t, ok)
	assert.Equal(t, SectionInstruments, s)
	_, ok = ParseSection("photos")
	assert.False(t, ok)
}
