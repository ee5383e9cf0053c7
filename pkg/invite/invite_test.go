package invite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/orm"
	"github.com/tokmz/huddle/pkg/room"
	"github.com/tokmz/huddle/pkg/store"
)

var _ room.InviteChecker = (*Repository)(nil)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	cfg := orm.DefaultConfig()
	cfg.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := orm.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orm.Close(db) })

	r := NewRepository(db, nil)
	require.NoError(t, r.Migrate(context.Background()))
	return r
}

func TestInvites(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	ok, err := r.IsInvited(ctx, "secret", "guest")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Add(ctx, "secret", "guest", "owner"))
	require.NoError(t, r.Add(ctx, "secret", "guest", "owner"), "duplicate invite is a no-op")
	require.NoError(t, r.Add(ctx, "secret", "another", "owner"))
	require.NoError(t, r.Add(ctx, "other", "guest", "owner"))

	ok, err = r.IsInvited(ctx, "secret", "guest")
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := r.List(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, []string{"another", "guest"}, ids)

	require.NoError(t, r.Remove(ctx, "secret", "guest"))
	ok, err = r.IsInvited(ctx, "secret", "guest")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.RemoveRoom(ctx, "secret"))
	ids, err = r.List(ctx, "secret")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ok, err = r.IsInvited(ctx, "other", "guest")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrivateRoomJoin(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	s := store.NewMemory()
	defer s.Close()

	reg := room.New(s, nil, room.DefaultConfig(), room.WithInvites(repo))
	_, err := reg.CreateRoom(ctx, room.Room{ID: "secret", Permission: room.Private, Owner: "owner"})
	require.NoError(t, err)

	_, err = reg.Join(ctx, "secret", "guest", "c1", nil)
	assert.True(t, errors.Is(err, errors.ErrAccessDenied))

	require.NoError(t, repo.Add(ctx, "secret", "guest", "owner"))
	res, err := reg.Join(ctx, "secret", "guest", "c1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
}
