package store

import (
	"context"
	"time"
)

// Store 共享状态存储接口
// 所有复合操作（窗口计数、容量占位、释放、条件删除）都是原子的，
// 多个实例连接同一个存储时仍然成立
type Store interface {
	// 字符串
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// TTL 管理
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// 计数
	Incr(ctx context.Context, key string) (int64, error)
	IncrWindow(ctx context.Context, key string, limit int64, window time.Duration) (Window, error)

	// 哈希
	HSet(ctx context.Context, key string, fields map[string]string) error
	HCreate(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HSetIf(ctx context.Context, key string, cond Cond, fields map[string]string) (bool, error)
	HDeleteIf(ctx context.Context, key string, cond Cond) (bool, error)

	// 集合
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// 容量受限的成员关系
	Claim(ctx context.Context, c Claim) (ClaimResult, error)
	Release(ctx context.Context, r Release) (ReleaseResult, error)
	RemoveIfEmpty(ctx context.Context, setKey string, keys ...string) (bool, error)

	// 工具方法
	Ping(ctx context.Context) error
	Close() error
}

// Window 固定窗口计数结果
type Window struct {
	Allowed bool          // 本次是否计入
	Count   int64         // 当前窗口计数
	TTL     time.Duration // 窗口剩余时间
}

// Claim 占位请求
// Guard 不存在时拒绝；成员已存在时只更新持有者
type Claim struct {
	Guard   string // 必须存在的键
	Set     string // 成员集合
	Holders string // 成员 -> 持有者
	Member  string
	Holder  string
	Limit   int64

	// LimitField 非空时上限取自 Guard 哈希的该字段，字段缺失时使用 Limit
	LimitField string
}

// ClaimResult 占位结果
type ClaimResult struct {
	Missing    bool   // Guard 不存在
	Admitted   bool   // 已占位
	Count      int64  // 操作后的成员数
	Superseded string // 被替换的旧持有者
}

// Cond 哈希条件写入的前提，哈希必须存在
// Field 非空时字段当前值必须等于 Value；Set 非空时集合大小不能超过 MaxCard
type Cond struct {
	Field   string
	Value   string
	Set     string
	MaxCard int64
}

// Release 释放请求，Holder 为空时无条件释放
type Release struct {
	Set     string
	Holders string
	Member  string
	Holder  string
}

// ReleaseResult 释放结果
type ReleaseResult struct {
	Removed bool
	Count   int64
}
