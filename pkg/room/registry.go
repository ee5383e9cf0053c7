// Package room 房间注册表
//
// 房间由三个共享同一哈希标签的键组成：
//
//	room:{id}:meta     权限元数据（哈希）
//	room:{id}:members  成员用户 ID（集合）
//	room:{id}:holders  用户 ID -> 持有成员身份的连接 ID（哈希）
//
// 容量检查与加入在存储中一步完成；同一用户从新连接加入时，
// 成员身份转移到新连接，成员数不变。
package room

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/logger"
	"github.com/tokmz/huddle/pkg/store"
	"github.com/tokmz/huddle/pkg/validator"
)

const indexKey = "rooms"

const (
	fieldPermission = "permission"
	fieldOwner      = "owner"
	fieldRoles      = "allowed_roles"
	fieldMax        = "max_members"
	fieldCreated    = "created_at"
	fieldEmpty      = "empty_since"
)

func metaKey(id string) string    { return "room:{" + id + "}:meta" }
func membersKey(id string) string { return "room:{" + id + "}:members" }
func holdersKey(id string) string { return "room:{" + id + "}:holders" }

// Room 房间元数据
type Room struct {
	ID           string     `json:"room_id"`
	Permission   Permission `json:"permission"`
	Owner        string     `json:"owner,omitempty"`
	AllowedRoles []string   `json:"allowed_roles,omitempty"`
	MaxMembers   int        `json:"max_members"`
	CreatedAt    time.Time  `json:"created_at"`
	EmptySince   time.Time  `json:"-"`
}

// InviteChecker 私有房间的邀请名单
type InviteChecker interface {
	IsInvited(ctx context.Context, roomID, userID string) (bool, error)
}

// Member 成员及其持有连接
type Member struct {
	UserID string
	ConnID string
}

// JoinResult 加入结果
type JoinResult struct {
	Room       *Room
	Count      int64
	Superseded string // 被替换的旧连接 ID，为空表示新成员或同一连接重复加入
}

// LeaveResult 离开结果
type LeaveResult struct {
	Removed bool
	Count   int64
}

// Update 权限更新，nil 字段保持不变
type Update struct {
	Permission   *Permission
	AllowedRoles []string
	MaxMembers   *int
}

// Registry 房间注册表
type Registry struct {
	store    store.Store
	validate *validator.Validator
	cfg      Config
	invites  InviteChecker
	now      func() time.Time
	log      logger.Logger
}

// Option 选项
type Option func(*Registry)

// WithInvites 设置邀请名单
func WithInvites(ic InviteChecker) Option {
	return func(r *Registry) { r.invites = ic }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) { r.log = l.Named("room") }
}

// New 创建注册表
func New(s store.Store, v *validator.Validator, cfg Config, opts ...Option) *Registry {
	if v == nil {
		v = validator.Default()
	}
	r := &Registry{store: s, validate: v, cfg: cfg.withDefaults(), now: time.Now, log: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config 返回生效的配置
func (r *Registry) Config() Config {
	return r.cfg
}

// IsDefault 是否是自动创建的默认房间
func (r *Registry) IsDefault(id string) bool {
	return slices.Contains(r.cfg.Defaults, id)
}

// CreateRoom 创建房间，ID 已被占用返回 already_exists
func (r *Registry) CreateRoom(ctx context.Context, room Room) (*Room, error) {
	if err := r.validate.RoomID(room.ID); err != nil {
		return nil, err
	}
	if _, err := ParsePermission(string(room.Permission)); err != nil {
		return nil, err
	}
	if room.Permission.NeedsOwner() && room.Owner == "" {
		return nil, errors.ErrInvalidInput.WithField("owner").WithMessage("owner is required for this permission level")
	}
	if room.Permission == Restricted {
		if len(room.AllowedRoles) == 0 {
			return nil, errors.ErrEmpty.WithField("allowed_roles")
		}
		if err := r.validate.Roles("allowed_roles", room.AllowedRoles); err != nil {
			return nil, err
		}
	}
	limit, err := r.maxMembers(room.MaxMembers)
	if err != nil {
		return nil, err
	}
	room.MaxMembers = limit

	now := r.now()
	room.CreatedAt = now
	room.EmptySince = now

	created, err := r.store.HCreate(ctx, metaKey(room.ID), encode(&room), 0)
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	if !created {
		return nil, errors.ErrRoomExists.WithField("room_id")
	}
	if err := r.store.SAdd(ctx, indexKey, room.ID); err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}

	r.log.InfoContext(ctx, "room created",
		zap.String("room_id", room.ID),
		zap.String("permission", string(room.Permission)),
		zap.Int("max_members", room.MaxMembers))
	return &room, nil
}

// EnsureRoom 幂等地创建公开房间
func (r *Registry) EnsureRoom(ctx context.Context, id string) (*Room, error) {
	room, err := r.CreateRoom(ctx, Room{ID: id, Permission: Public})
	if errors.Is(err, errors.ErrRoomExists) {
		return r.Get(ctx, id)
	}
	return room, err
}

// Get 读取房间元数据
func (r *Registry) Get(ctx context.Context, id string) (*Room, error) {
	fields, err := r.store.HGetAll(ctx, metaKey(id))
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	if len(fields) == 0 || fields[fieldPermission] == "" {
		return nil, errors.ErrRoomNotFound
	}
	return decode(id, fields), nil
}

// Exists 房间是否存在
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.Exists(ctx, metaKey(id))
	if err != nil {
		return false, errors.ErrInternal.WithError(err)
	}
	return ok, nil
}

// CheckAccess 判断用户能否进入房间，房间不存在同样视为拒绝
func (r *Registry) CheckAccess(ctx context.Context, roomID, userID string, roles []string) (bool, error) {
	room, err := r.Get(ctx, roomID)
	if errors.Is(err, errors.ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.allowed(ctx, room, userID, roles)
}

func (r *Registry) allowed(ctx context.Context, room *Room, userID string, roles []string) (bool, error) {
	switch room.Permission {
	case Public:
		return true, nil
	case Private:
		if room.Owner == userID {
			return true, nil
		}
		if r.invites == nil {
			return false, nil
		}
		ok, err := r.invites.IsInvited(ctx, room.ID, userID)
		if err != nil {
			return false, errors.ErrInternal.WithError(err)
		}
		return ok, nil
	case Restricted:
		for _, role := range roles {
			if slices.Contains(room.AllowedRoles, role) {
				return true, nil
			}
		}
		return false, nil
	case OwnerOnly:
		return room.Owner == userID, nil
	}
	return false, nil
}

// Join 加入房间
// 拒绝访问返回 access_denied，房间已满返回 room_full
func (r *Registry) Join(ctx context.Context, roomID, userID, connID string, roles []string) (*JoinResult, error) {
	if err := r.validate.RoomID(roomID); err != nil {
		return nil, err
	}

	// 默认房间在被清理后可能需要重新创建，最多重试一次
	for attempt := 0; attempt < 2; attempt++ {
		room, err := r.Get(ctx, roomID)
		if errors.Is(err, errors.ErrRoomNotFound) && r.IsDefault(roomID) {
			room, err = r.EnsureRoom(ctx, roomID)
		}
		if errors.Is(err, errors.ErrRoomNotFound) {
			return nil, errors.ErrAccessDenied
		}
		if err != nil {
			return nil, err
		}

		ok, err := r.allowed(ctx, room, userID, roles)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.ErrAccessDenied
		}

		res, err := r.store.Claim(ctx, store.Claim{
			Guard:   metaKey(roomID),
			Set:     membersKey(roomID),
			Holders: holdersKey(roomID),
			Member:  userID,
			Holder:  connID,
			Limit:   int64(room.MaxMembers),

			LimitField: fieldMax,
		})
		if err != nil {
			return nil, errors.ErrInternal.WithError(err)
		}
		if res.Missing {
			continue
		}
		if !res.Admitted {
			return nil, errors.ErrRoomFull
		}

		if !room.EmptySince.IsZero() {
			_ = r.store.HDel(ctx, metaKey(roomID), fieldEmpty)
			room.EmptySince = time.Time{}
		}
		r.log.DebugContext(ctx, "room joined",
			zap.String("room_id", roomID), zap.String("user_id", userID), zap.Int64("count", res.Count))
		return &JoinResult{Room: room, Count: res.Count, Superseded: res.Superseded}, nil
	}
	return nil, errors.ErrAccessDenied
}

// Leave 离开房间，仅当 connID 仍持有成员身份时生效
// 成员数归零时标记房间，宽限期后由 Cleanup 删除
func (r *Registry) Leave(ctx context.Context, roomID, userID, connID string) (*LeaveResult, error) {
	res, err := r.store.Release(ctx, store.Release{
		Set:     membersKey(roomID),
		Holders: holdersKey(roomID),
		Member:  userID,
		Holder:  connID,
	})
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	if res.Removed && res.Count == 0 {
		r.markEmpty(ctx, roomID)
	}
	return &LeaveResult{Removed: res.Removed, Count: res.Count}, nil
}

// markEmpty 记录房间变空的时间，房间已被删除时不重建元数据
func (r *Registry) markEmpty(ctx context.Context, roomID string) {
	_, err := r.store.HSetIf(ctx, metaKey(roomID), store.Cond{}, map[string]string{
		fieldEmpty: formatTime(r.now()),
	})
	if err != nil {
		r.log.WarnContext(ctx, "mark room empty failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

// Members 房间成员用户 ID
func (r *Registry) Members(ctx context.Context, roomID string) ([]string, error) {
	ids, err := r.store.SMembers(ctx, membersKey(roomID))
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Count 房间成员数
func (r *Registry) Count(ctx context.Context, roomID string) (int64, error) {
	n, err := r.store.SCard(ctx, membersKey(roomID))
	if err != nil {
		return 0, errors.ErrInternal.WithError(err)
	}
	return n, nil
}

// IsMember 用户是否在房间内
func (r *Registry) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	ok, err := r.store.SIsMember(ctx, membersKey(roomID), userID)
	if err != nil {
		return false, errors.ErrInternal.WithError(err)
	}
	return ok, nil
}

// Holders 成员与其持有连接
func (r *Registry) Holders(ctx context.Context, roomID string) ([]Member, error) {
	h, err := r.store.HGetAll(ctx, holdersKey(roomID))
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	out := make([]Member, 0, len(h))
	for uid, cid := range h {
		out = append(out, Member{UserID: uid, ConnID: cid})
	}
	slices.SortFunc(out, func(a, b Member) int { return strings.Compare(a.UserID, b.UserID) })
	return out, nil
}

// List 全部房间 ID
func (r *Registry) List(ctx context.Context) ([]string, error) {
	ids, err := r.store.SMembers(ctx, indexKey)
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	slices.Sort(ids)
	return ids, nil
}

// owned 读取房间并确认操作者是房主
func (r *Registry) owned(ctx context.Context, roomID, actorID string) (*Room, error) {
	room, err := r.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Owner == "" || room.Owner != actorID {
		return nil, errors.ErrNotOwner
	}
	return room, nil
}

// GetPermissions 读取房间权限，仅房主
func (r *Registry) GetPermissions(ctx context.Context, roomID, actorID string) (*Room, error) {
	return r.owned(ctx, roomID, actorID)
}

// UpdatePermissions 修改房间权限，仅房主
func (r *Registry) UpdatePermissions(ctx context.Context, roomID, actorID string, u Update) (*Room, error) {
	room, err := r.owned(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}

	if u.Permission != nil {
		p, err := ParsePermission(string(*u.Permission))
		if err != nil {
			return nil, err
		}
		room.Permission = p
	}
	if u.AllowedRoles != nil {
		if err := r.validate.Roles("allowed_roles", u.AllowedRoles); err != nil {
			return nil, err
		}
		room.AllowedRoles = u.AllowedRoles
	}
	if room.Permission == Restricted && len(room.AllowedRoles) == 0 {
		return nil, errors.ErrEmpty.WithField("allowed_roles")
	}
	if u.MaxMembers != nil {
		limit, err := r.maxMembers(*u.MaxMembers)
		if err != nil {
			return nil, err
		}
		room.MaxMembers = limit
	}

	// 房主和成员数在写入时再确认一次，上限不能低于当前成员数
	ok, err := r.store.HSetIf(ctx, metaKey(roomID), store.Cond{
		Field:   fieldOwner,
		Value:   actorID,
		Set:     membersKey(roomID),
		MaxCard: int64(room.MaxMembers),
	}, map[string]string{
		fieldPermission: string(room.Permission),
		fieldRoles:      strings.Join(room.AllowedRoles, ","),
		fieldMax:        strconv.Itoa(room.MaxMembers),
	})
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	if !ok {
		return nil, r.updateRejected(ctx, roomID, actorID)
	}
	r.log.InfoContext(ctx, "room permissions updated",
		zap.String("room_id", roomID), zap.String("permission", string(room.Permission)))
	return room, nil
}

// updateRejected 条件写入失败后确定原因
func (r *Registry) updateRejected(ctx context.Context, roomID, actorID string) error {
	if _, err := r.owned(ctx, roomID, actorID); err != nil {
		return err
	}
	return errors.ErrBelowMembers.WithField("max_members")
}

// DeleteRoom 删除房间并驱逐全部成员，仅房主
func (r *Registry) DeleteRoom(ctx context.Context, roomID, actorID string) ([]Member, error) {
	if _, err := r.owned(ctx, roomID, actorID); err != nil {
		return nil, err
	}
	evicted, err := r.evict(ctx, roomID)
	if err != nil {
		return nil, err
	}
	r.log.InfoContext(ctx, "room deleted", zap.String("room_id", roomID), zap.Int("evicted", len(evicted)))
	return evicted, nil
}

// evict 逐个释放成员后删除房间
func (r *Registry) evict(ctx context.Context, roomID string) ([]Member, error) {
	holders, err := r.Holders(ctx, roomID)
	if err != nil {
		return nil, err
	}
	// 先删元数据，阻止并发加入
	if err := r.store.Delete(ctx, metaKey(roomID)); err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}

	evicted := make([]Member, 0, len(holders))
	for _, m := range holders {
		res, err := r.store.Release(ctx, store.Release{
			Set:     membersKey(roomID),
			Holders: holdersKey(roomID),
			Member:  m.UserID,
		})
		if err != nil {
			return evicted, errors.ErrInternal.WithError(err)
		}
		if res.Removed {
			evicted = append(evicted, m)
		}
	}

	if err := r.store.Delete(ctx, membersKey(roomID), holdersKey(roomID)); err != nil {
		return evicted, errors.ErrInternal.WithError(err)
	}
	if err := r.store.SRem(ctx, indexKey, roomID); err != nil {
		return evicted, errors.ErrInternal.WithError(err)
	}
	return evicted, nil
}

// Cleanup 删除空置超过宽限期的房间，返回被删除的房间 ID
func (r *Registry) Cleanup(ctx context.Context) ([]string, error) {
	ids, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	var deleted []string
	for _, id := range ids {
		room, err := r.Get(ctx, id)
		if errors.Is(err, errors.ErrRoomNotFound) {
			_ = r.store.SRem(ctx, indexKey, id)
			continue
		}
		if err != nil {
			return deleted, err
		}
		if room.EmptySince.IsZero() || now.Sub(room.EmptySince) < r.cfg.EmptyGrace {
			continue
		}

		removed, err := r.store.RemoveIfEmpty(ctx, membersKey(id), metaKey(id), holdersKey(id))
		if err != nil {
			return deleted, errors.ErrInternal.WithError(err)
		}
		if !removed {
			// 标记之后又有人加入
			_ = r.store.HDel(ctx, metaKey(id), fieldEmpty)
			continue
		}
		_ = r.store.SRem(ctx, indexKey, id)
		deleted = append(deleted, id)
	}

	if len(deleted) > 0 {
		r.log.InfoContext(ctx, "empty rooms deleted", zap.Strings("rooms", deleted))
	}
	return deleted, nil
}

// ScheduledForDeletion 房间是否已空置等待删除
func (r *Registry) ScheduledForDeletion(ctx context.Context, roomID string) (bool, error) {
	room, err := r.Get(ctx, roomID)
	if err != nil {
		return false, err
	}
	return !room.EmptySince.IsZero(), nil
}

// Run 按 CleanupInterval 周期清理，直到 ctx 取消
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Cleanup(ctx); err != nil {
				r.log.Error("room cleanup failed", zap.Error(err))
			}
		}
	}
}

func (r *Registry) maxMembers(n int) (int, error) {
	switch {
	case n == 0:
		return r.cfg.DefaultMaxMembers, nil
	case n < 0 || n > r.cfg.MaxMembersLimit:
		return 0, errors.ErrInvalidInput.WithField("max_members").
			WithMessage("max_members must be between 1 and " + strconv.Itoa(r.cfg.MaxMembersLimit))
	default:
		return n, nil
	}
}

func encode(room *Room) map[string]string {
	f := map[string]string{
		fieldPermission: string(room.Permission),
		fieldOwner:      room.Owner,
		fieldRoles:      strings.Join(room.AllowedRoles, ","),
		fieldMax:        strconv.Itoa(room.MaxMembers),
		fieldCreated:    formatTime(room.CreatedAt),
	}
	if !room.EmptySince.IsZero() {
		f[fieldEmpty] = formatTime(room.EmptySince)
	}
	return f
}

func decode(id string, f map[string]string) *Room {
	room := &Room{
		ID:         id,
		Permission: Permission(f[fieldPermission]),
		Owner:      f[fieldOwner],
		CreatedAt:  parseTime(f[fieldCreated]),
	}
	room.MaxMembers, _ = strconv.Atoi(f[fieldMax])
	if v := f[fieldRoles]; v != "" {
		room.AllowedRoles = strings.Split(v, ",")
	}
	if v := f[fieldEmpty]; v != "" {
		room.EmptySince = parseTime(v)
	}
	return room
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(v string) time.Time {
	ms, _ := strconv.ParseInt(v, 10, 64)
	return time.UnixMilli(ms)
}
