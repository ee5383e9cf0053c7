package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	s := store.NewMemory()
	t.Cleanup(func() { _ = s.Close() })
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	cfg := Config{CheckInterval: 30 * time.Second, CleanupInterval: 5 * time.Minute}
	return New(s, cfg, WithClock(clock.Now)), clock
}

func TestDerive(t *testing.T) {
	tr, _ := newTestTracker(t)
	tests := []struct {
		age  time.Duration
		want Status
	}{
		{0, Online},
		{29 * time.Second, Online},
		{30 * time.Second, Away},
		{4 * time.Minute, Away},
		{5 * time.Minute, Offline},
		{time.Hour, Offline},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.Derive(tt.age), tt.age.String())
	}
}

func TestAwayThenAbsent(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()

	change, err := tr.Touch(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, Offline, change.Previous)
	assert.Equal(t, Online, change.Status)

	clock.Advance(time.Minute)
	rec, ok, err := tr.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Away, rec.Status)

	clock.Advance(4 * time.Minute)
	_, ok, err = tr.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := tr.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Offline, status)
}

func TestSweepDemotes(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Enter(ctx, "u1", "lobby"))
	require.NoError(t, tr.Enter(ctx, "u1", "game"))
	_, err := tr.Touch(ctx, "u2")
	require.NoError(t, err)

	changes, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	clock.Advance(45 * time.Second)
	_, err = tr.Touch(ctx, "u2")
	require.NoError(t, err)

	changes, err = tr.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, Change{UserID: "u1", Status: Away, Previous: Online, Rooms: []string{"game", "lobby"}}, changes[0])

	// 再次扫描不重复报告
	changes, err = tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	clock.Advance(5 * time.Minute)
	changes, err = tr.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	for _, c := range changes {
		assert.Equal(t, Offline, c.Status)
	}

	_, ok, err := tr.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTouchPromotesOnly(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Touch(ctx, "u1")
	require.NoError(t, err)

	change, err := tr.Touch(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, change, "online to online is not a change")

	clock.Advance(time.Minute)
	_, err = tr.Sweep(ctx)
	require.NoError(t, err)

	change, err = tr.Touch(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, Away, change.Previous)
	assert.Equal(t, Online, change.Status)
}

func TestRoomStatus(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Enter(ctx, "u1", "lobby"))
	status, err := tr.RoomStatus(ctx, "lobby", "u1")
	require.NoError(t, err)
	assert.Equal(t, Online, status)

	status, err = tr.RoomStatus(ctx, "other", "u1")
	require.NoError(t, err)
	assert.Equal(t, Offline, status)

	clock.Advance(time.Minute)
	status, err = tr.RoomStatus(ctx, "lobby", "u1")
	require.NoError(t, err)
	assert.Equal(t, Away, status)

	require.NoError(t, tr.Leave(ctx, "u1", "lobby"))
	status, err = tr.RoomStatus(ctx, "lobby", "u1")
	require.NoError(t, err)
	assert.Equal(t, Offline, status)
}

func TestRemove(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Enter(ctx, "u1", "lobby"))
	rooms, err := tr.Remove(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lobby"}, rooms)

	_, ok, err := tr.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := store.NewMemory()
	defer s.Close()
	tr := New(s, Config{CheckInterval: 20 * time.Millisecond, CleanupInterval: time.Second})
	require.NoError(t, tr.Enter(context.Background(), "u1", "lobby"))

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan []Change, 1)
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx, func(c []Change) {
			select {
			case got <- c:
			default:
			}
		})
		close(done)
	}()

	select {
	case changes := <-got:
		require.Len(t, changes, 1)
		assert.Equal(t, Away, changes[0].Status)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not report")
	}
	cancel()
	<-done
}

func TestTimeoutOverridesCheckInterval(t *testing.T) {
	tr := New(store.NewMemory(), Config{CheckInterval: 10 * time.Second, Timeout: time.Minute, CleanupInterval: 5 * time.Minute})
	assert.Equal(t, time.Minute, tr.Config().Timeout)
	assert.Equal(t, 5*time.Second, tr.Config().SweepInterval)

	tests := []struct {
		age  time.Duration
		want Status
	}{
		{30 * time.Second, Online},
		{time.Minute, Away},
		{5 * time.Minute, Offline},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.Derive(tt.age), tt.age.String())
	}

	d := New(store.NewMemory(), Config{CheckInterval: 20 * time.Second}).Config()
	assert.Equal(t, 20*time.Second, d.Timeout)
	assert.Equal(t, 200*time.Second, d.CleanupInterval)
}

// interleaved 在条件写入前执行一次 fn，模拟扫描读取后到达的活动
type interleaved struct {
	store.Store
	once sync.Once
	fn   func()
}

func (s *interleaved) HSetIf(ctx context.Context, key string, cond store.Cond, fields map[string]string) (bool, error) {
	s.once.Do(s.fn)
	return s.Store.HSetIf(ctx, key, cond, fields)
}

func (s *interleaved) HDeleteIf(ctx context.Context, key string, cond store.Cond) (bool, error) {
	s.once.Do(s.fn)
	return s.Store.HDeleteIf(ctx, key, cond)
}

func TestSweepSkipsRefreshedRecord(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
	}{
		{"away demotion", time.Minute},
		{"cleanup", 6 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			base := store.NewMemory()
			t.Cleanup(func() { _ = base.Close() })
			clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
			s := &interleaved{Store: base}
			tr := New(s, Config{CheckInterval: 30 * time.Second, CleanupInterval: 5 * time.Minute}, WithClock(clock.Now))

			require.NoError(t, tr.Enter(ctx, "u1", "lobby"))
			clock.Advance(tt.elapsed)
			s.fn = func() {
				_, err := tr.Touch(ctx, "u1")
				require.NoError(t, err)
			}

			changes, err := tr.Sweep(ctx)
			require.NoError(t, err)
			assert.Empty(t, changes)

			rec, ok, err := tr.Get(ctx, "u1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, Online, rec.Status)
			assert.Equal(t, []string{"lobby"}, rec.Rooms)

			// 记录仍在索引中，之后的扫描照常降级
			clock.Advance(tt.elapsed)
			changes, err = tr.Sweep(ctx)
			require.NoError(t, err)
			assert.Len(t, changes, 1)
		})
	}
}
