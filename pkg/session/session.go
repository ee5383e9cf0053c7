// Package session 已认证连接的会话元数据
//
// 会话以连接 ID 为键存放在共享存储中，带过期时间；
// 每个用户另有一个连接 ID 集合，用于判断用户是否仍有其他在线连接。
package session

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/logger"
	"github.com/tokmz/huddle/pkg/store"
)

var (
	// ErrSessionNotFound 会话不存在或已过期
	ErrSessionNotFound = errors.New(6001, errors.KindUnauthenticated, "session_not_found", "session not found")
	// ErrSessionExists 连接 ID 已有会话
	ErrSessionExists = errors.New(6002, errors.KindConflict, "session_exists", "session already exists")
)

// Session 已认证连接的身份信息
type Session struct {
	ConnID       string    `json:"conn_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Roles        []string  `json:"roles,omitempty"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Idle 距最后一次活动的时长
func (s *Session) Idle(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// Config 会话配置
type Config struct {
	// TTL 会话过期时间，每次活动后刷新（默认 24 小时）
	TTL time.Duration `mapstructure:"ttl"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{TTL: 24 * time.Hour}
}

// Store 会话存储，是会话数据的唯一写入方
type Store struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
	log   logger.Logger
}

// Option 存储选项
type Option func(*Store)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l.Named("session") }
}

// NewStore 创建会话存储
func NewStore(s store.Store, cfg Config, opts ...Option) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	ss := &Store{store: s, ttl: cfg.TTL, now: time.Now, log: logger.Nop()}
	for _, opt := range opts {
		opt(ss)
	}
	return ss
}

// TTL 返回会话过期时间
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func sessionKey(connID string) string {
	return "session:{" + connID + "}"
}

func userKey(userID string) string {
	return "user:{" + userID + "}:sessions"
}

// Create 创建会话，连接 ID 已存在时返回 conflict
func (s *Store) Create(ctx context.Context, sess *Session) error {
	now := s.now()
	if sess.IssuedAt.IsZero() {
		sess.IssuedAt = now
	}
	sess.LastActivity = now

	created, err := s.store.HCreate(ctx, sessionKey(sess.ConnID), encode(sess), s.ttl)
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}
	if !created {
		return ErrSessionExists
	}
	if err := s.store.SAdd(ctx, userKey(sess.UserID), sess.ConnID); err != nil {
		return errors.ErrInternal.WithError(err)
	}
	// 用户集合比任何会话活得久即可
	_ = s.store.Expire(ctx, userKey(sess.UserID), s.ttl)

	s.log.DebugContext(ctx, "session created",
		zap.String("conn_id", sess.ConnID), zap.String("user_id", sess.UserID))
	return nil
}

// Get 读取会话
func (s *Store) Get(ctx context.Context, connID string) (*Session, error) {
	fields, err := s.store.HGetAll(ctx, sessionKey(connID))
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return decode(connID, fields), nil
}

// Touch 刷新活动时间和过期时间，返回刷新后的活动时间
// 用户的连接集合随之续期，保证它不早于任何存活的会话过期
func (s *Store) Touch(ctx context.Context, connID, userID string) (time.Time, error) {
	now := s.now()
	// 先续期，确认会话仍存在，避免给过期会话写出残缺的哈希
	if err := s.store.Expire(ctx, sessionKey(connID), s.ttl); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return time.Time{}, ErrSessionNotFound
		}
		return time.Time{}, errors.ErrInternal.WithError(err)
	}
	err := s.store.HSet(ctx, sessionKey(connID), map[string]string{
		"last_activity": formatTime(now),
	})
	if err != nil {
		return time.Time{}, errors.ErrInternal.WithError(err)
	}
	if err := s.store.SAdd(ctx, userKey(userID), connID); err != nil {
		return time.Time{}, errors.ErrInternal.WithError(err)
	}
	if err := s.store.Expire(ctx, userKey(userID), s.ttl); err != nil {
		return time.Time{}, errors.ErrInternal.WithError(err)
	}
	return now, nil
}

// Delete 删除会话，返回该用户剩余的有效会话数
func (s *Store) Delete(ctx context.Context, connID, userID string) (int, error) {
	if err := s.store.Delete(ctx, sessionKey(connID)); err != nil {
		return 0, errors.ErrInternal.WithError(err)
	}
	if err := s.store.SRem(ctx, userKey(userID), connID); err != nil {
		return 0, errors.ErrInternal.WithError(err)
	}
	live, err := s.UserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.DebugContext(ctx, "session deleted",
		zap.String("conn_id", connID), zap.String("user_id", userID), zap.Int("remaining", len(live)))
	return len(live), nil
}

// UserSessions 返回用户仍然有效的连接 ID，顺带清理已过期的条目
func (s *Store) UserSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.store.SMembers(ctx, userKey(userID))
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	live := ids[:0]
	var stale []string
	for _, id := range ids {
		ok, err := s.store.Exists(ctx, sessionKey(id))
		if err != nil {
			return nil, errors.ErrInternal.WithError(err)
		}
		if ok {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		_ = s.store.SRem(ctx, userKey(userID), stale...)
	}
	return live, nil
}

// DeleteUser 删除用户的全部会话（登出），返回被删除的连接 ID
func (s *Store) DeleteUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.store.SMembers(ctx, userKey(userID))
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	for _, id := range ids {
		if err := s.store.Delete(ctx, sessionKey(id)); err != nil {
			return nil, errors.ErrInternal.WithError(err)
		}
	}
	if err := s.store.Delete(ctx, userKey(userID)); err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	s.log.InfoContext(ctx, "user sessions deleted", zap.String("user_id", userID), zap.Int("count", len(ids)))
	return ids, nil
}

func encode(s *Session) map[string]string {
	return map[string]string{
		"user_id":       s.UserID,
		"username":      s.Username,
		"roles":         strings.Join(s.Roles, ","),
		"remote_addr":   s.RemoteAddr,
		"issued_at":     formatTime(s.IssuedAt),
		"last_activity": formatTime(s.LastActivity),
	}
}

func decode(connID string, f map[string]string) *Session {
	s := &Session{
		ConnID:       connID,
		UserID:       f["user_id"],
		Username:     f["username"],
		RemoteAddr:   f["remote_addr"],
		IssuedAt:     parseTime(f["issued_at"]),
		LastActivity: parseTime(f["last_activity"]),
	}
	if r := f["roles"]; r != "" {
		s.Roles = strings.Split(r, ",")
	}
	return s
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
