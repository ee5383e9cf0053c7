package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/store"
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *fakeClock) {
	t.Helper()
	s := store.NewMemory()
	t.Cleanup(func() { _ = s.Close() })
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	return NewStore(s, Config{TTL: ttl}, WithClock(clock.Now)), clock
}

func TestCreateGet(t *testing.T) {
	ss, clock := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, ss.Create(ctx, &Session{
		ConnID:   "c1",
		UserID:   "u1",
		Username: "alice",
		Roles:    []string{"admin", "member"},
	}))

	got, err := ss.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, []string{"admin", "member"}, got.Roles)
	assert.True(t, got.LastActivity.Equal(clock.Now()))

	err = ss.Create(ctx, &Session{ConnID: "c1", UserID: "u1"})
	assert.True(t, errors.Is(err, ErrSessionExists))

	_, err = ss.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestTouch(t *testing.T) {
	ss, clock := newTestStore(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, ss.Create(ctx, &Session{ConnID: "c1", UserID: "u1"}))

	clock.Advance(30 * time.Second)
	at, err := ss.Touch(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.True(t, at.Equal(clock.Now()))

	got, err := ss.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.LastActivity.Equal(clock.Now()))
	assert.Equal(t, 30*time.Second, got.LastActivity.Sub(got.IssuedAt))

	_, err = ss.Touch(ctx, "missing", "u1")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestExpiry(t *testing.T) {
	ss, _ := newTestStore(t, 50*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, ss.Create(ctx, &Session{ConnID: "c1", UserID: "u1"}))

	time.Sleep(80 * time.Millisecond)
	_, err := ss.Get(ctx, "c1")
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	live, err := ss.UserSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestDeleteCountsRemaining(t *testing.T) {
	ss, _ := newTestStore(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, ss.Create(ctx, &Session{ConnID: "c1", UserID: "u1"}))
	require.NoError(t, ss.Create(ctx, &Session{ConnID: "c2", UserID: "u1"}))

	remaining, err := ss.Delete(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	remaining, err = ss.Delete(ctx, "c2", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestDeleteUser(t *testing.T) {
	ss, _ := newTestStore(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, ss.Create(ctx, &Session{ConnID: "c1", UserID: "u1"}))
	require.NoError(t, ss.Create(ctx, &Session{ConnID: "c2", UserID: "u1"}))
	require.NoError(t, ss.Create(ctx, &Session{ConnID: "c3", UserID: "u2"}))

	ids, err := ss.DeleteUser(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)

	_, err = ss.Get(ctx, "c1")
	assert.Error(t, err)
	_, err = ss.Get(ctx, "c3")
	assert.NoError(t, err)
}

func TestTouchKeepsUserIndex(t *testing.T) {
	ss, _ := newTestStore(t, 200*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, ss.Create(ctx, &Session{ConnID: "c1", UserID: "u1"}))
	require.NoError(t, ss.Create(ctx, &Session{ConnID: "c2", UserID: "u1"}))

	// 持续活动超过一个 TTL
	for i := 0; i < 6; i++ {
		time.Sleep(60 * time.Millisecond)
		_, err := ss.Touch(ctx, "c1", "u1")
		require.NoError(t, err)
		_, err = ss.Touch(ctx, "c2", "u1")
		require.NoError(t, err)
	}

	live, err := ss.UserSessions(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, live)

	remaining, err := ss.Delete(ctx, "c2", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	ids, err := ss.DeleteUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)
}
