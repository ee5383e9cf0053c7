package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore Redis 存储实现
type redisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// newRedisStore 创建 Redis 存储实例
func newRedisStore(cfg *Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("%w: redis config is required", ErrInvalidConfig)
	}

	var client redis.UniversalClient

	switch cfg.Redis.Mode {
	case RedisStandalone, "":
		// 单机模式
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

	case RedisCluster:
		// 集群模式，多键脚本依赖 {tag} 落在同一个槽
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Redis.Addrs,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

	case RedisSentinel:
		// 哨兵模式
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.Redis.MasterName,
			SentinelAddrs: cfg.Redis.Addrs,
			Username:      cfg.Redis.Username,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			MaxRetries:    cfg.Redis.MaxRetries,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
		})

	default:
		return nil, fmt.Errorf("%w: unsupported redis mode: %s", ErrInvalidConfig, cfg.Redis.Mode)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	return NewRedis(client, cfg.KeyPrefix), nil
}

// NewRedis 使用已有客户端创建存储
func NewRedis(client redis.UniversalClient, keyPrefix string) Store {
	return &redisStore{client: client, keyPrefix: keyPrefix}
}

// buildKey 构建完整的键名
func (r *redisStore) buildKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *redisStore) buildKeys(keys []string) []string {
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = r.buildKey(key)
	}
	return full
}

func opErr(err error) error {
	return fmt.Errorf("%w: %w", ErrOperation, err)
}

// Get 获取字符串值
func (r *redisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.buildKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", opErr(err)
	}
	return val, nil
}

// Set 设置字符串值，ttl <= 0 表示不过期
func (r *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.buildKey(key), value, ttl).Err(); err != nil {
		return opErr(err)
	}
	return nil
}

// Delete 删除键
// 集群模式下逐个删除，避免跨槽错误
func (r *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, ok := r.client.(*redis.ClusterClient); ok {
		for _, key := range keys {
			if err := r.client.Del(ctx, r.buildKey(key)).Err(); err != nil {
				return opErr(err)
			}
		}
		return nil
	}
	if err := r.client.Del(ctx, r.buildKeys(keys)...).Err(); err != nil {
		return opErr(err)
	}
	return nil
}

// Exists 检查键是否存在
func (r *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	if err != nil {
		return false, opErr(err)
	}
	return count > 0, nil
}

// TTL 获取键的剩余生存时间，-1 表示永不过期
func (r *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, r.buildKey(key)).Result()
	if err != nil {
		return 0, opErr(err)
	}
	switch ttl {
	case -2:
		return 0, ErrNotFound
	case -1:
		return -1, nil
	}
	return ttl, nil
}

// Expire 设置键的过期时间
func (r *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.client.PExpire(ctx, r.buildKey(key), ttl).Result()
	if err != nil {
		return opErr(err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Incr 自增
func (r *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Incr(ctx, r.buildKey(key)).Result()
	if err != nil {
		return 0, opErr(err)
	}
	return val, nil
}

// IncrWindow 固定窗口计数，超限时不自增
func (r *redisStore) IncrWindow(ctx context.Context, key string, limit int64, window time.Duration) (Window, error) {
	res, err := windowScript.Run(ctx, r.client, []string{r.buildKey(key)}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, opErr(err)
	}
	if len(res) != 3 {
		return Window{}, opErr(fmt.Errorf("unexpected window reply %v", res))
	}
	return Window{
		Allowed: res[0] == 1,
		Count:   res[1],
		TTL:     time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// HSet 设置哈希字段
func (r *redisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.client.HSet(ctx, r.buildKey(key), flatten(fields)...).Err(); err != nil {
		return opErr(err)
	}
	return nil
}

// HCreate 哈希不存在时创建，返回是否创建
func (r *redisStore) HCreate(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	args := append([]any{ttl.Milliseconds()}, flatten(fields)...)
	n, err := hcreateScript.Run(ctx, r.client, []string{r.buildKey(key)}, args...).Int64()
	if err != nil {
		return false, opErr(err)
	}
	return n == 1, nil
}

// condArgs 条件脚本的键和参数
func (r *redisStore) condArgs(key string, cond Cond) ([]string, []any) {
	keys := []string{r.buildKey(key)}
	if cond.Set != "" {
		keys = append(keys, r.buildKey(cond.Set))
	}
	return keys, []any{cond.Field, cond.Value, cond.MaxCard}
}

// HSetIf 满足条件时写入字段，返回是否写入
func (r *redisStore) HSetIf(ctx context.Context, key string, cond Cond, fields map[string]string) (bool, error) {
	keys, args := r.condArgs(key, cond)
	n, err := hsetIfScript.Run(ctx, r.client, keys, append(args, flatten(fields)...)...).Int64()
	if err != nil {
		return false, opErr(err)
	}
	return n == 1, nil
}

// HDeleteIf 满足条件时删除哈希，返回是否删除
func (r *redisStore) HDeleteIf(ctx context.Context, key string, cond Cond) (bool, error) {
	keys, args := r.condArgs(key, cond)
	n, err := hdelIfScript.Run(ctx, r.client, keys, args...).Int64()
	if err != nil {
		return false, opErr(err)
	}
	return n == 1, nil
}

// HGetAll 获取全部字段，键不存在时返回空 map
func (r *redisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	val, err := r.client.HGetAll(ctx, r.buildKey(key)).Result()
	if err != nil {
		return nil, opErr(err)
	}
	return val, nil
}

// HDel 删除哈希字段
func (r *redisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, r.buildKey(key), fields...).Err(); err != nil {
		return opErr(err)
	}
	return nil
}

// SAdd 添加集合成员
func (r *redisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := r.client.SAdd(ctx, r.buildKey(key), toAny(members)...).Err(); err != nil {
		return opErr(err)
	}
	return nil
}

// SRem 移除集合成员
func (r *redisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := r.client.SRem(ctx, r.buildKey(key), toAny(members)...).Err(); err != nil {
		return opErr(err)
	}
	return nil
}

// SMembers 获取集合成员
func (r *redisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	val, err := r.client.SMembers(ctx, r.buildKey(key)).Result()
	if err != nil {
		return nil, opErr(err)
	}
	return val, nil
}

// SCard 获取集合大小
func (r *redisStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.SCard(ctx, r.buildKey(key)).Result()
	if err != nil {
		return 0, opErr(err)
	}
	return n, nil
}

// SIsMember 检查集合成员
func (r *redisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.buildKey(key), member).Result()
	if err != nil {
		return false, opErr(err)
	}
	return ok, nil
}

// Claim 原子占位
func (r *redisStore) Claim(ctx context.Context, c Claim) (ClaimResult, error) {
	keys := []string{r.buildKey(c.Guard), r.buildKey(c.Set), r.buildKey(c.Holders)}
	res, err := claimScript.Run(ctx, r.client, keys, c.Member, c.Holder, c.Limit, c.LimitField).Slice()
	if err != nil {
		return ClaimResult{}, opErr(err)
	}
	if len(res) != 3 {
		return ClaimResult{}, opErr(fmt.Errorf("unexpected claim reply %v", res))
	}
	status, _ := res[0].(int64)
	count, _ := res[1].(int64)
	prev, _ := res[2].(string)
	return ClaimResult{
		Missing:    status == -1,
		Admitted:   status == 1,
		Count:      count,
		Superseded: prev,
	}, nil
}

// Release 原子释放
func (r *redisStore) Release(ctx context.Context, rel Release) (ReleaseResult, error) {
	keys := []string{r.buildKey(rel.Set), r.buildKey(rel.Holders)}
	res, err := releaseScript.Run(ctx, r.client, keys, rel.Member, rel.Holder).Int64Slice()
	if err != nil {
		return ReleaseResult{}, opErr(err)
	}
	if len(res) != 2 {
		return ReleaseResult{}, opErr(fmt.Errorf("unexpected release reply %v", res))
	}
	return ReleaseResult{Removed: res[0] == 1, Count: res[1]}, nil
}

// RemoveIfEmpty 集合为空时删除给定键
func (r *redisStore) RemoveIfEmpty(ctx context.Context, setKey string, keys ...string) (bool, error) {
	all := append([]string{r.buildKey(setKey)}, r.buildKeys(keys)...)
	n, err := removeIfEmptyScript.Run(ctx, r.client, all).Int64()
	if err != nil {
		return false, opErr(err)
	}
	return n == 1, nil
}

// Ping 检查连接
func (r *redisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return nil
}

// Close 关闭连接
func (r *redisStore) Close() error {
	if err := r.client.Close(); err != nil {
		return opErr(err)
	}
	return nil
}

// String 返回存储类型
func (r *redisStore) String() string {
	return fmt.Sprintf("RedisStore(prefix=%s)", r.keyPrefix)
}

func flatten(fields map[string]string) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
