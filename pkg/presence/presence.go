// Package presence 用户在线状态
//
// 状态完全由最后活动时间推导：
//
//	age <  Timeout                    online
//	Timeout <= age < CleanupInterval  away
//	age >= CleanupInterval            记录删除，视为 offline
//
// Timeout 未设置时等于 CheckInterval。
//
// 活动只会把状态提升为 online，降级只由周期性的 Sweep 完成。
package presence

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/logger"
	"github.com/tokmz/huddle/pkg/store"
)

// Status 在线状态
type Status string

const (
	Online  Status = "online"
	Away    Status = "away"
	Offline Status = "offline"
)

// Config 在线状态配置
type Config struct {
	// CheckInterval 检查周期（默认 30 秒），也是 Timeout 的默认值
	CheckInterval time.Duration `mapstructure:"check_interval"`

	// Timeout 超过该时长无活动视为 away
	Timeout time.Duration `mapstructure:"timeout"`

	// CleanupInterval 超过该时长无活动删除记录（默认 5 分钟）
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// SweepInterval 扫描周期（默认 CheckInterval 的一半）
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		CheckInterval:   30 * time.Second,
		Timeout:         30 * time.Second,
		CleanupInterval: 5 * time.Minute,
		SweepInterval:   15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = c.CheckInterval
	}
	if c.CleanupInterval <= c.Timeout {
		c.CleanupInterval = c.Timeout * 10
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.CheckInterval / 2
	}
	return c
}

// Record 用户的在线记录
type Record struct {
	UserID   string    `json:"user_id"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
	Rooms    []string  `json:"rooms,omitempty"`
}

// Change 扫描或活动导致的状态变化
type Change struct {
	UserID   string
	Status   Status
	Previous Status
	Rooms    []string
}

const (
	indexKey   = "presence:index"
	fieldState = "status"
	fieldSeen  = "last_seen"
	roomPrefix = "room:"
)

func recordKey(userID string) string {
	return "presence:{" + userID + "}"
}

// Tracker 在线状态跟踪
type Tracker struct {
	store store.Store
	cfg   Config
	now   func() time.Time
	log   logger.Logger
}

// Option 选项
type Option func(*Tracker)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) { t.log = l.Named("presence") }
}

// New 创建跟踪器
func New(s store.Store, cfg Config, opts ...Option) *Tracker {
	t := &Tracker{store: s, cfg: cfg.withDefaults(), now: time.Now, log: logger.Nop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Config 返回生效的配置
func (t *Tracker) Config() Config {
	return t.cfg
}

// Derive 由空闲时长推导状态
func (t *Tracker) Derive(age time.Duration) Status {
	switch {
	case age < t.cfg.Timeout:
		return Online
	case age < t.cfg.CleanupInterval:
		return Away
	default:
		return Offline
	}
}

// Touch 记录活动，状态由非 online 提升为 online 时返回变化
func (t *Tracker) Touch(ctx context.Context, userID string) (*Change, error) {
	key := recordKey(userID)
	fields, err := t.store.HGetAll(ctx, key)
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}

	if err := t.store.HSet(ctx, key, map[string]string{
		fieldState: string(Online),
		fieldSeen:  formatTime(t.now()),
	}); err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	// 每次都登记索引，与 Sweep 的摘除交错时记录不会漏出索引
	if err := t.store.SAdd(ctx, indexKey, userID); err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}

	prev := Status(fields[fieldState])
	if prev == Online {
		return nil, nil
	}
	if prev == "" {
		prev = Offline
	}
	return &Change{UserID: userID, Status: Online, Previous: prev, Rooms: roomsOf(fields)}, nil
}

// Enter 记录用户进入房间
func (t *Tracker) Enter(ctx context.Context, userID, roomID string) error {
	now := formatTime(t.now())
	err := t.store.HSet(ctx, recordKey(userID), map[string]string{
		fieldState:          string(Online),
		fieldSeen:           now,
		roomPrefix + roomID: now,
	})
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}
	if err := t.store.SAdd(ctx, indexKey, userID); err != nil {
		return errors.ErrInternal.WithError(err)
	}
	return nil
}

// Leave 删除用户在房间中的记录
func (t *Tracker) Leave(ctx context.Context, userID, roomID string) error {
	if err := t.store.HDel(ctx, recordKey(userID), roomPrefix+roomID); err != nil {
		return errors.ErrInternal.WithError(err)
	}
	return nil
}

// Remove 删除用户记录（最后一个连接断开），返回用户之前所在的房间
func (t *Tracker) Remove(ctx context.Context, userID string) ([]string, error) {
	fields, err := t.store.HGetAll(ctx, recordKey(userID))
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	if err := t.store.Delete(ctx, recordKey(userID)); err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	if err := t.store.SRem(ctx, indexKey, userID); err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	return roomsOf(fields), nil
}

// Get 读取用户当前状态，记录不存在或已过清理时长时返回 false
func (t *Tracker) Get(ctx context.Context, userID string) (Record, bool, error) {
	fields, err := t.store.HGetAll(ctx, recordKey(userID))
	if err != nil {
		return Record{}, false, errors.ErrInternal.WithError(err)
	}
	if len(fields) == 0 || fields[fieldSeen] == "" {
		return Record{}, false, nil
	}
	seen := parseTime(fields[fieldSeen])
	status := t.Derive(t.now().Sub(seen))
	if status == Offline {
		return Record{}, false, nil
	}
	return Record{UserID: userID, Status: status, LastSeen: seen, Rooms: roomsOf(fields)}, true, nil
}

// Status 读取用户状态，不存在返回 Offline
func (t *Tracker) Status(ctx context.Context, userID string) (Status, error) {
	rec, ok, err := t.Get(ctx, userID)
	if err != nil || !ok {
		return Offline, err
	}
	return rec.Status, nil
}

// RoomStatus 读取用户在房间内的状态
func (t *Tracker) RoomStatus(ctx context.Context, roomID, userID string) (Status, error) {
	fields, err := t.store.HGetAll(ctx, recordKey(userID))
	if err != nil {
		return Offline, errors.ErrInternal.WithError(err)
	}
	if _, in := fields[roomPrefix+roomID]; !in {
		return Offline, nil
	}
	// 房间内的状态跟随用户最近一次任意活动
	return t.Derive(t.now().Sub(parseTime(fields[fieldSeen]))), nil
}

// Sweep 执行降级和清理，返回发生变化的用户
func (t *Tracker) Sweep(ctx context.Context) ([]Change, error) {
	users, err := t.store.SMembers(ctx, indexKey)
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	sort.Strings(users)

	now := t.now()
	var changes []Change
	for _, uid := range users {
		key := recordKey(uid)
		fields, err := t.store.HGetAll(ctx, key)
		if err != nil {
			return changes, errors.ErrInternal.WithError(err)
		}
		if len(fields) == 0 {
			t.untrack(ctx, uid)
			continue
		}

		prev := Status(fields[fieldState])
		status := t.Derive(now.Sub(parseTime(fields[fieldSeen])))
		if status == prev {
			continue
		}
		// 只降级，提升只能由活动触发
		if rank(status) > rank(prev) {
			continue
		}

		// 读取之后记录可能已被活动刷新，last_seen 不变才写入
		cond := store.Cond{Field: fieldSeen, Value: fields[fieldSeen]}
		var applied bool
		if status == Offline {
			applied, err = t.store.HDeleteIf(ctx, key, cond)
			if applied {
				t.untrack(ctx, uid)
			}
		} else {
			applied, err = t.store.HSetIf(ctx, key, cond, map[string]string{fieldState: string(status)})
		}
		if err != nil {
			return changes, errors.ErrInternal.WithError(err)
		}
		if !applied {
			continue
		}

		changes = append(changes, Change{UserID: uid, Status: status, Previous: prev, Rooms: roomsOf(fields)})
	}

	if len(changes) > 0 {
		t.log.DebugContext(ctx, "presence swept", zap.Int("changes", len(changes)), zap.Int("tracked", len(users)))
	}
	return changes, nil
}

// untrack 从索引摘除用户，摘除后记录又出现时重新登记
func (t *Tracker) untrack(ctx context.Context, userID string) {
	_ = t.store.SRem(ctx, indexKey, userID)
	if ok, err := t.store.Exists(ctx, recordKey(userID)); err == nil && ok {
		_ = t.store.SAdd(ctx, indexKey, userID)
	}
}

// Run 按 SweepInterval 周期扫描，直到 ctx 取消
func (t *Tracker) Run(ctx context.Context, onChange func([]Change)) error {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			changes, err := t.Sweep(ctx)
			if err != nil {
				t.log.Error("presence sweep failed", zap.Error(err))
			}
			if len(changes) > 0 && onChange != nil {
				onChange(changes)
			}
		}
	}
}

func rank(s Status) int {
	switch s {
	case Online:
		return 2
	case Away:
		return 1
	default:
		return 0
	}
}

func roomsOf(fields map[string]string) []string {
	var rooms []string
	for k := range fields {
		if id, ok := strings.CutPrefix(k, roomPrefix); ok {
			rooms = append(rooms, id)
		}
	}
	sort.Strings(rooms)
	return rooms
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(v string) time.Time {
	ms, _ := strconv.ParseInt(v, 10, 64)
	return time.UnixMilli(ms)
}
