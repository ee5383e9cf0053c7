// Package ratelimit 基于共享存储的固定窗口限流
//
// 每个 (动作, 身份) 对应一个计数键，首次计数时设置窗口过期时间。
// 检查与计数在存储中一步完成，超出预算时计数不再增加，
// 返回的重试时间等于计数键的剩余 TTL。
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/logger"
	"github.com/tokmz/huddle/pkg/store"
)

// Limiter 限流器
type Limiter struct {
	store store.Store
	cfg   Config
	log   logger.Logger
}

// New 创建限流器
func New(s store.Store, cfg Config, log logger.Logger) *Limiter {
	if log == nil {
		log = logger.Nop()
	}
	return &Limiter{store: s, cfg: cfg.withDefaults(), log: log.Named("ratelimit")}
}

// Key 返回计数键
func (l *Limiter) Key(action Action, identity string) string {
	return l.cfg.KeyPrefix + ":" + string(action) + ":" + identity
}

// Budget 返回动作的预算
func (l *Limiter) Budget(action Action) Budget {
	return l.cfg.budget(action)
}

// Allow 计入一次动作，超出预算返回 rate_limited 错误
func (l *Limiter) Allow(ctx context.Context, action Action, identity string) error {
	b := l.cfg.budget(action)
	w, err := l.store.IncrWindow(ctx, l.Key(action, identity), b.Limit, b.Window)
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}
	if w.Allowed {
		return nil
	}

	retry := w.TTL
	if retry <= 0 {
		// 键恰好在两次调用之间过期
		retry = time.Millisecond
	}
	l.log.DebugContext(ctx, "rate limited",
		zap.String("action", string(action)),
		zap.String("identity", identity),
		zap.Duration("retry_after", retry))
	return errors.ErrRateLimited.WithRetryAfter(retry)
}

// Remaining 返回当前窗口剩余次数
func (l *Limiter) Remaining(ctx context.Context, action Action, identity string) (int64, error) {
	b := l.cfg.budget(action)
	v, err := l.store.Get(ctx, l.Key(action, identity))
	if errors.Is(err, store.ErrNotFound) {
		return b.Limit, nil
	}
	if err != nil {
		return 0, errors.ErrInternal.WithError(err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.ErrInternal.WithError(err)
	}
	if n >= b.Limit {
		return 0, nil
	}
	return b.Limit - n, nil
}
