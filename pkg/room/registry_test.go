package room

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
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

type inviteList map[string][]string

func (l inviteList) IsInvited(_ context.Context, roomID, userID string) (bool, error) {
	for _, u := range l[roomID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *fakeClock) {
	t.Helper()
	s := store.NewMemory()
	t.Cleanup(func() { _ = s.Close() })
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	cfg := DefaultConfig()
	cfg.EmptyGrace = time.Minute
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(s, nil, cfg, opts...), clock
}

func TestCreateRoom(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	room, err := r.CreateRoom(ctx, Room{ID: "team", Permission: Public, MaxMembers: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, room.MaxMembers)

	_, err = r.CreateRoom(ctx, Room{ID: "team", Permission: Public})
	assert.True(t, errors.Is(err, errors.ErrRoomExists))
	assert.Equal(t, errors.KindConflict, errors.KindOf(err))

	tests := []struct {
		name string
		room Room
		want string
	}{
		{"bad id", Room{ID: "bad id", Permission: Public}, "bad_charset"},
		{"bad permission", Room{ID: "x", Permission: "secret"}, "invalid_input"},
		{"private without owner", Room{ID: "x", Permission: Private}, "invalid_input"},
		{"restricted without roles", Room{ID: "x", Permission: Restricted}, "empty"},
		{"too many members", Room{ID: "x", Permission: Public, MaxMembers: 5000}, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.CreateRoom(ctx, tt.room)
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.From(err).Reason)
		})
	}

	got, err := r.Get(ctx, "team")
	require.NoError(t, err)
	assert.Equal(t, Public, got.Permission)

	ids, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"team"}, ids)
}

func TestEnsureRoomIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	a, err := r.EnsureRoom(ctx, "lobby")
	require.NoError(t, err)
	b, err := r.EnsureRoom(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, a.CreatedAt.UnixMilli(), b.CreatedAt.UnixMilli())
}

func TestCheckAccess(t *testing.T) {
	r, _ := newTestRegistry(t, WithInvites(inviteList{"secret": {"guest"}}))
	ctx := context.Background()

	_, err := r.CreateRoom(ctx, Room{ID: "open", Permission: Public})
	require.NoError(t, err)
	_, err = r.CreateRoom(ctx, Room{ID: "secret", Permission: Private, Owner: "owner"})
	require.NoError(t, err)
	_, err = r.CreateRoom(ctx, Room{ID: "admins", Permission: Restricted, AllowedRoles: []string{"admin"}})
	require.NoError(t, err)
	_, err = r.CreateRoom(ctx, Room{ID: "mine", Permission: OwnerOnly, Owner: "owner"})
	require.NoError(t, err)

	tests := []struct {
		room  string
		user  string
		roles []string
		want  bool
	}{
		{"open", "anyone", nil, true},
		{"secret", "owner", nil, true},
		{"secret", "guest", nil, true},
		{"secret", "stranger", nil, false},
		{"admins", "v", []string{"member"}, false},
		{"admins", "v", []string{"member", "admin"}, true},
		{"mine", "owner", nil, true},
		{"mine", "guest", []string{"admin"}, false},
		{"missing", "owner", []string{"admin"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.room+"/"+tt.user, func(t *testing.T) {
			ok, err := r.CheckAccess(ctx, tt.room, tt.user, tt.roles)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestJoinConcurrentCapacity(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	const capacity, extra = 10, 7
	_, err := r.CreateRoom(ctx, Room{ID: "arena", Permission: Public, MaxMembers: capacity})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
		full     atomic.Int64
	)
	for i := 0; i < capacity+extra; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Join(ctx, "arena", fmt.Sprintf("u%d", i), fmt.Sprintf("c%d", i), nil)
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, errors.ErrRoomFull):
				full.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(capacity), admitted.Load())
	assert.Equal(t, int64(extra), full.Load())

	n, err := r.Count(ctx, "arena")
	require.NoError(t, err)
	assert.Equal(t, int64(capacity), n)
}

func TestJoinSupersedes(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	res, err := r.Join(ctx, "lobby", "u", "c1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
	assert.Empty(t, res.Superseded)

	res, err = r.Join(ctx, "lobby", "u", "c2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
	assert.Equal(t, "c1", res.Superseded)

	// 旧连接离开不影响新连接的成员身份
	left, err := r.Leave(ctx, "lobby", "u", "c1")
	require.NoError(t, err)
	assert.False(t, left.Removed)
	assert.Equal(t, int64(1), left.Count)

	left, err = r.Leave(ctx, "lobby", "u", "c2")
	require.NoError(t, err)
	assert.True(t, left.Removed)
	assert.Equal(t, int64(0), left.Count)

	scheduled, err := r.ScheduledForDeletion(ctx, "lobby")
	require.NoError(t, err)
	assert.True(t, scheduled)
}

func TestJoinDenied(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateRoom(ctx, Room{ID: "admins", Permission: Restricted, AllowedRoles: []string{"admin"}})
	require.NoError(t, err)

	_, err = r.Join(ctx, "admins", "v", "c1", []string{"member"})
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))
	assert.Equal(t, errors.KindUnauthorized, errors.KindOf(err))

	n, err := r.Count(ctx, "admins")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// 不存在的非默认房间同样是 access_denied
	_, err = r.Join(ctx, "nowhere", "v", "c1", nil)
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))

	_, err = r.Join(ctx, "bad id!", "v", "c1", nil)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestCleanup(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Join(ctx, "lobby", "u", "c1", nil)
	require.NoError(t, err)
	_, err = r.CreateRoom(ctx, Room{ID: "busy", Permission: Public})
	require.NoError(t, err)
	_, err = r.Join(ctx, "busy", "u", "c1", nil)
	require.NoError(t, err)

	_, err = r.Leave(ctx, "lobby", "u", "c1")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	deleted, err := r.Cleanup(ctx)
	require.NoError(t, err)
	assert.Empty(t, deleted, "still within grace")

	clock.Advance(time.Minute)
	deleted, err = r.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lobby"}, deleted)

	ok, err := r.Exists(ctx, "lobby")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.Exists(ctx, "busy")
	require.NoError(t, err)
	assert.True(t, ok)

	// 默认房间在下次加入时重新创建
	res, err := r.Join(ctx, "lobby", "u", "c1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
}

func TestCleanupSkipsRejoined(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Join(ctx, "lobby", "u", "c1", nil)
	require.NoError(t, err)
	_, err = r.Leave(ctx, "lobby", "u", "c1")
	require.NoError(t, err)
	_, err = r.Join(ctx, "lobby", "u", "c2", nil)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	deleted, err := r.Cleanup(ctx)
	require.NoError(t, err)
	assert.Empty(t, deleted)

	scheduled, err := r.ScheduledForDeletion(ctx, "lobby")
	require.NoError(t, err)
	assert.False(t, scheduled)
}

func TestOwnerOperations(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateRoom(ctx, Room{ID: "club", Permission: OwnerOnly, Owner: "boss"})
	require.NoError(t, err)

	_, err = r.GetPermissions(ctx, "club", "intruder")
	assert.True(t, errors.Is(err, errors.ErrNotOwner))
	_, err = r.GetPermissions(ctx, "missing", "boss")
	assert.True(t, errors.Is(err, errors.ErrRoomNotFound))

	perm := Restricted
	limit := 3
	room, err := r.UpdatePermissions(ctx, "club", "boss", Update{
		Permission:   &perm,
		AllowedRoles: []string{"vip"},
		MaxMembers:   &limit,
	})
	require.NoError(t, err)
	assert.Equal(t, Restricted, room.Permission)

	got, err := r.GetPermissions(ctx, "club", "boss")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, got.AllowedRoles)
	assert.Equal(t, 3, got.MaxMembers)

	_, err = r.UpdatePermissions(ctx, "club", "intruder", Update{Permission: &perm})
	assert.True(t, errors.Is(err, errors.ErrNotOwner))

	bad := Permission("nobody")
	_, err = r.UpdatePermissions(ctx, "club", "boss", Update{Permission: &bad})
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestMaxMembersNeverBelowCount(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateRoom(ctx, Room{ID: "club", Permission: Public, Owner: "boss", MaxMembers: 5})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := r.Join(ctx, "club", fmt.Sprintf("u%d", i), fmt.Sprintf("c%d", i), nil)
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		limit int
		err   error
	}{
		{"below count", 2, errors.ErrBelowMembers},
		{"one below count", 3, errors.ErrBelowMembers},
		{"equal to count", 4, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit := tt.limit
			_, err := r.UpdatePermissions(ctx, "club", "boss", Update{MaxMembers: &limit})
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err))
				assert.Equal(t, errors.KindConflict, errors.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			n, err := r.Count(ctx, "club")
			require.NoError(t, err)
			assert.Equal(t, int64(4), n)
		})
	}

	got, err := r.GetPermissions(ctx, "club", "boss")
	require.NoError(t, err)
	assert.Equal(t, 4, got.MaxMembers)

	// 加入时按存储中的最新上限判断
	_, err = r.Join(ctx, "club", "late", "c9", nil)
	assert.True(t, errors.Is(err, errors.ErrRoomFull))

	limit := 2
	_, err = r.UpdatePermissions(ctx, "missing", "boss", Update{MaxMembers: &limit})
	assert.True(t, errors.Is(err, errors.ErrRoomNotFound))
}

func TestMarkEmptyDoesNotRecreateDeletedRoom(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateRoom(ctx, Room{ID: "club", Permission: Public, Owner: "boss"})
	require.NoError(t, err)
	_, err = r.DeleteRoom(ctx, "club", "boss")
	require.NoError(t, err)

	r.markEmpty(ctx, "club")
	ok, err := r.Exists(ctx, "club")
	require.NoError(t, err)
	assert.False(t, ok)
	fields, err := r.store.HGetAll(ctx, metaKey("club"))
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestDeleteRoomEvicts(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateRoom(ctx, Room{ID: "club", Permission: Public, Owner: "boss"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := r.Join(ctx, "club", fmt.Sprintf("u%d", i), fmt.Sprintf("c%d", i), nil)
		require.NoError(t, err)
	}

	_, err = r.DeleteRoom(ctx, "club", "u1")
	assert.True(t, errors.Is(err, errors.ErrNotOwner))

	evicted, err := r.DeleteRoom(ctx, "club", "boss")
	require.NoError(t, err)
	assert.Equal(t, []Member{{"u0", "c0"}, {"u1", "c1"}, {"u2", "c2"}}, evicted)

	ok, err := r.Exists(ctx, "club")
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := r.Count(ctx, "club")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = r.Join(ctx, "club", "u0", "c0", nil)
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))
}

func TestParsePermission(t *testing.T) {
	for _, s := range []string{"public", "private", "restricted", "owner_only"} {
		p, err := ParsePermission(s)
		require.NoError(t, err)
		assert.Equal(t, Permission(s), p)
	}
	_, err := ParsePermission("everyone")
	assert.Error(t, err)
}
