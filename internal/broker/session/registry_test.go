package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/session"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
	"github.com/stretchr/testify/require"
)

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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []any
	sendErr error
	closes  atomic.Int32
	done    chan struct{}
	once    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

func (t *fakeTransport) Send(_ context.Context, msg any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Close() error {
	t.closes.Add(1)
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *fakeTransport) Done() <-chan struct{} { return t.done }

func newRegistry(cfg session.Config) (*session.Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	cfg.Now = clock.Now
	cfg.Logger = slogx.Discard()
	return session.NewRegistry(cfg), clock
}

func TestRegisterAndGet(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(session.Config{})

	tr := newFakeTransport()
	s, err := reg.Register("s1", tr, "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", s.UserID)
	require.Equal(t, 1, reg.Len())

	got, ok := reg.Get("s1")
	require.True(t, ok)
	require.Same(t, s, got)

	_, err = reg.Register("s1", newFakeTransport(), "u2")
	require.ErrorIs(t, err, session.ErrSessionExists)

	_, err = reg.Register("", tr, "u1")
	require.ErrorIs(t, err, session.ErrInvalidSession)
	_, err = reg.Register("s2", tr, "")
	require.ErrorIs(t, err, session.ErrInvalidSession)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(session.Config{})

	tr := newFakeTransport()
	s, err := reg.Register("s1", tr, "u1")
	require.NoError(t, err)

	require.True(t, reg.Close("s1"))
	require.False(t, reg.Close("s1"))
	require.EqualValues(t, 1, tr.closes.Load())
	require.True(t, s.Closed())
	require.Zero(t, reg.Len())

	require.ErrorIs(t, s.Send(context.Background(), "late"), session.ErrSessionClosed)
}

func TestFindByUserPicksMostRecent(t *testing.T) {
	t.Parallel()
	reg, clock := newRegistry(session.Config{})

	_, err := reg.Register("old", newFakeTransport(), "u1")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = reg.Register("new", newFakeTransport(), "u1")
	require.NoError(t, err)
	_, err = reg.Register("other", newFakeTransport(), "u2")
	require.NoError(t, err)

	s, ok := reg.FindByUser("u1")
	require.True(t, ok)
	require.Equal(t, "new", s.ID)

	clock.Advance(time.Minute)
	require.True(t, reg.Touch("old"))

	s, ok = reg.FindByUser("u1")
	require.True(t, ok)
	require.Equal(t, "old", s.ID)

	_, ok = reg.FindByUser("nobody")
	require.False(t, ok)
	require.False(t, reg.Touch("missing"))
}

func TestSweep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       session.Config
		touch     bool
		advance   time.Duration
		wantSwept int
	}{
		{name: "fresh", cfg: session.Config{}, advance: time.Hour, wantSwept: 0},
		{name: "max age", cfg: session.Config{}, touch: true, advance: 4 * time.Hour, wantSwept: 1},
		{name: "idle", cfg: session.Config{IdleTimeout: 10 * time.Minute}, advance: 11 * time.Minute, wantSwept: 1},
		{name: "idle disabled", cfg: session.Config{}, advance: 3 * time.Hour, wantSwept: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg, clock := newRegistry(tt.cfg)

			_, err := reg.Register("s1", newFakeTransport(), "u1")
			require.NoError(t, err)

			clock.Advance(tt.advance - time.Second)
			if tt.touch {
				reg.Touch("s1")
			}
			clock.Advance(time.Second)

			require.Equal(t, tt.wantSwept, reg.Sweep())
			require.Equal(t, 1-tt.wantSwept, reg.Len())
		})
	}
}

func TestRunClosesOnTransportEvents(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(session.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reg.Run(ctx)
	}()

	dropped := newFakeTransport()
	_, err := reg.Register("dropped", dropped, "u1")
	require.NoError(t, err)

	broken := newFakeTransport()
	broken.sendErr = errors.New("broken pipe")
	s, err := reg.Register("broken", broken, "u1")
	require.NoError(t, err)

	_, err = reg.Register("kept", newFakeTransport(), "u2")
	require.NoError(t, err)

	// The client went away.
	require.NoError(t, dropped.Close())
	// A write failed.
	require.Error(t, s.Send(context.Background(), "hello"))

	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 5*time.Millisecond)
	_, ok := reg.Get("kept")
	require.True(t, ok)

	cancel()
	<-done
	require.Zero(t, reg.Len())
}

func TestDoSerialises(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(session.Config{})

	s, err := reg.Register("s1", newFakeTransport(), "u1")
	require.NoError(t, err)

	var active, maxActive atomic.Int32
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), func(context.Context) error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, maxActive.Load())
	require.Len(t, order, 8)
}

func TestDoReleasesLockOnTimeout(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(session.Config{})

	s, err := reg.Register("s1", newFakeTransport(), "u1")
	require.NoError(t, err)

	block := make(chan struct{})
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = s.Do(ctx, func(context.Context) error {
		<-block
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The next request gets the lock despite the stuck handler.
	var ran bool
	require.NoError(t, s.Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}

func TestSendDelivers(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(session.Config{})

	tr := newFakeTransport()
	s, err := reg.Register("s1", tr, "u1")
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), map[string]string{"k": "v"}))
	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.sent, 1)
}
