package store

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	gocache "github.com/patrickmn/go-cache"
)

// memoryShard 单个分片，复合操作持有分片锁
type memoryShard struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// memoryStore 内存存储实现
// 键按 {tag} 分片（与 Redis 集群一致），同一 tag 的键落在同一分片
type memoryStore struct {
	shards    []*memoryShard
	keyPrefix string
}

// newMemoryStore 创建内存存储实例
func newMemoryStore(cfg *Config) (Store, error) {
	if cfg.Memory == nil {
		cfg.Memory = DefaultMemoryConfig()
	}
	n := cfg.Memory.Shards
	if n <= 0 {
		n = DefaultMemoryConfig().Shards
	}

	m := &memoryStore{
		shards:    make([]*memoryShard, n),
		keyPrefix: cfg.KeyPrefix,
	}
	for i := range m.shards {
		m.shards[i] = &memoryShard{
			items: gocache.New(gocache.NoExpiration, cfg.Memory.CleanupInterval),
		}
	}
	return m, nil
}

// buildKey 构建完整的键名
func (m *memoryStore) buildKey(key string) string {
	if m.keyPrefix == "" {
		return key
	}
	return m.keyPrefix + key
}

// hashTag 提取 {tag}，没有则返回整个键
func hashTag(key string) string {
	if i := strings.IndexByte(key, '{'); i >= 0 {
		if j := strings.IndexByte(key[i+1:], '}'); j > 0 {
			return key[i+1 : i+1+j]
		}
	}
	return key
}

func (m *memoryStore) shardIndex(key string) int {
	return int(xxhash.Sum64String(hashTag(key)) % uint64(len(m.shards)))
}

// lock 锁定单个键所在分片
func (m *memoryStore) lock(key string) (*gocache.Cache, func()) {
	s := m.shards[m.shardIndex(key)]
	s.mu.Lock()
	return s.items, s.mu.Unlock
}

// lockAll 按分片序号升序加锁，避免死锁
func (m *memoryStore) lockAll(keys ...string) func() {
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		idx = append(idx, m.shardIndex(k))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)
	for _, i := range idx {
		m.shards[i].mu.Lock()
	}
	return func() {
		for i := len(idx) - 1; i >= 0; i-- {
			m.shards[idx[i]].mu.Unlock()
		}
	}
}

func (m *memoryStore) items(key string) *gocache.Cache {
	return m.shards[m.shardIndex(key)].items
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

// remaining 计算剩余时间，-1 表示永不过期
func remaining(c *gocache.Cache, key string) (time.Duration, bool) {
	_, exp, ok := c.GetWithExpiration(key)
	if !ok {
		return 0, false
	}
	if exp.IsZero() {
		return -1, true
	}
	d := time.Until(exp)
	if d <= 0 {
		return 0, false
	}
	return d, true
}

func (m *memoryStore) hash(c *gocache.Cache, key string) (map[string]string, error) {
	v, ok := c.Get(key)
	if !ok {
		return nil, nil
	}
	h, ok := v.(map[string]string)
	if !ok {
		return nil, fmt.Errorf("%w: %s holds the wrong kind of value", ErrOperation, key)
	}
	return h, nil
}

func (m *memoryStore) set(c *gocache.Cache, key string) (map[string]struct{}, error) {
	v, ok := c.Get(key)
	if !ok {
		return nil, nil
	}
	s, ok := v.(map[string]struct{})
	if !ok {
		return nil, fmt.Errorf("%w: %s holds the wrong kind of value", ErrOperation, key)
	}
	return s, nil
}

// Get 获取字符串值
func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	v, ok := c.Get(fullKey)
	if !ok {
		return "", ErrNotFound
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	default:
		return "", fmt.Errorf("%w: %s holds the wrong kind of value", ErrOperation, key)
	}
}

// Set 设置字符串值
func (m *memoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	c.Set(fullKey, value, expiration(ttl))
	return nil
}

// Delete 删除键
func (m *memoryStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		fullKey := m.buildKey(key)
		c, unlock := m.lock(fullKey)
		c.Delete(fullKey)
		unlock()
	}
	return nil
}

// Exists 检查键是否存在
func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	fullKey := m.buildKey(key)
	_, found := m.items(fullKey).Get(fullKey)
	return found, nil
}

// TTL 获取键的剩余生存时间
func (m *memoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	fullKey := m.buildKey(key)
	d, ok := remaining(m.items(fullKey), fullKey)
	if !ok {
		return 0, ErrNotFound
	}
	return d, nil
}

// Expire 设置键的过期时间
func (m *memoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	v, ok := c.Get(fullKey)
	if !ok {
		return ErrNotFound
	}
	c.Set(fullKey, v, expiration(ttl))
	return nil
}

// incrLocked 自增并保留原有过期时间，调用方持有分片锁
func incrLocked(c *gocache.Cache, key string) (int64, error) {
	v, exp, ok := c.GetWithExpiration(key)
	if !ok {
		c.Set(key, int64(1), gocache.NoExpiration)
		return 1, nil
	}

	var cur int64
	switch val := v.(type) {
	case int64:
		cur = val
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: value is not an integer", ErrOperation)
		}
		cur = n
	default:
		return 0, fmt.Errorf("%w: value is not an integer", ErrOperation)
	}

	cur++
	ttl := gocache.NoExpiration
	if !exp.IsZero() {
		ttl = time.Until(exp)
		if ttl <= 0 {
			c.Set(key, int64(1), gocache.NoExpiration)
			return 1, nil
		}
	}
	c.Set(key, cur, ttl)
	return cur, nil
}

// Incr 自增
func (m *memoryStore) Incr(_ context.Context, key string) (int64, error) {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	return incrLocked(c, fullKey)
}

// IncrWindow 固定窗口计数，超限时不自增
func (m *memoryStore) IncrWindow(_ context.Context, key string, limit int64, window time.Duration) (Window, error) {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	var cur int64
	ttl, ok := remaining(c, fullKey)
	if ok {
		v, _ := c.Get(fullKey)
		cur, _ = v.(int64)
	}
	if ok && ttl < 0 {
		c.Set(fullKey, cur, window)
		ttl = window
	}

	if cur >= limit {
		return Window{Allowed: false, Count: cur, TTL: ttl}, nil
	}

	if !ok {
		c.Set(fullKey, int64(1), window)
		return Window{Allowed: true, Count: 1, TTL: window}, nil
	}
	cur++
	c.Set(fullKey, cur, ttl)
	return Window{Allowed: true, Count: cur, TTL: ttl}, nil
}

// HSet 设置哈希字段
func (m *memoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	h, err := m.hash(c, fullKey)
	if err != nil {
		return err
	}
	if h == nil {
		h = make(map[string]string, len(fields))
		c.Set(fullKey, h, gocache.NoExpiration)
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

// HCreate 哈希不存在时创建
func (m *memoryStore) HCreate(_ context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	if _, found := c.Get(fullKey); found {
		return false, nil
	}
	h := make(map[string]string, len(fields))
	for k, v := range fields {
		h[k] = v
	}
	c.Set(fullKey, h, expiration(ttl))
	return true, nil
}

// HGetAll 获取全部字段的副本
func (m *memoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	h, err := m.hash(c, fullKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

// HDel 删除哈希字段，删空后删除键
func (m *memoryStore) HDel(_ context.Context, key string, fields ...string) error {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	h, err := m.hash(c, fullKey)
	if err != nil || h == nil {
		return err
	}
	for _, f := range fields {
		delete(h, f)
	}
	if len(h) == 0 {
		c.Delete(fullKey)
	}
	return nil
}

// check 调用方已持有 key 和 cond.Set 所在分片的锁
func (m *memoryStore) check(key string, cond Cond) (map[string]string, bool, error) {
	h, err := m.hash(m.items(key), key)
	if err != nil || h == nil {
		return nil, false, err
	}
	if cond.Field != "" {
		if v, ok := h[cond.Field]; !ok || v != cond.Value {
			return h, false, nil
		}
	}
	if cond.Set != "" {
		setKey := m.buildKey(cond.Set)
		s, err := m.set(m.items(setKey), setKey)
		if err != nil {
			return nil, false, err
		}
		if int64(len(s)) > cond.MaxCard {
			return h, false, nil
		}
	}
	return h, true, nil
}

func (m *memoryStore) lockCond(key string, cond Cond) func() {
	if cond.Set == "" {
		return m.lockAll(key)
	}
	return m.lockAll(key, m.buildKey(cond.Set))
}

// HSetIf 满足条件时写入字段
func (m *memoryStore) HSetIf(_ context.Context, key string, cond Cond, fields map[string]string) (bool, error) {
	fullKey := m.buildKey(key)
	unlock := m.lockCond(fullKey, cond)
	defer unlock()

	h, ok, err := m.check(fullKey, cond)
	if err != nil || !ok {
		return false, err
	}
	for k, v := range fields {
		h[k] = v
	}
	return true, nil
}

// HDeleteIf 满足条件时删除哈希
func (m *memoryStore) HDeleteIf(_ context.Context, key string, cond Cond) (bool, error) {
	fullKey := m.buildKey(key)
	unlock := m.lockCond(fullKey, cond)
	defer unlock()

	_, ok, err := m.check(fullKey, cond)
	if err != nil || !ok {
		return false, err
	}
	m.items(fullKey).Delete(fullKey)
	return true, nil
}

// SAdd 添加集合成员
func (m *memoryStore) SAdd(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	s, err := m.set(c, fullKey)
	if err != nil {
		return err
	}
	if s == nil {
		s = make(map[string]struct{}, len(members))
		c.Set(fullKey, s, gocache.NoExpiration)
	}
	for _, member := range members {
		s[member] = struct{}{}
	}
	return nil
}

// SRem 移除集合成员，删空后删除键
func (m *memoryStore) SRem(_ context.Context, key string, members ...string) error {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	s, err := m.set(c, fullKey)
	if err != nil || s == nil {
		return err
	}
	for _, member := range members {
		delete(s, member)
	}
	if len(s) == 0 {
		c.Delete(fullKey)
	}
	return nil
}

// SMembers 获取集合成员
func (m *memoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	s, err := m.set(c, fullKey)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(s))
	for member := range s {
		out = append(out, member)
	}
	return out, nil
}

// SCard 获取集合大小
func (m *memoryStore) SCard(_ context.Context, key string) (int64, error) {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	s, err := m.set(c, fullKey)
	if err != nil {
		return 0, err
	}
	return int64(len(s)), nil
}

// SIsMember 检查集合成员
func (m *memoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	fullKey := m.buildKey(key)
	c, unlock := m.lock(fullKey)
	defer unlock()

	s, err := m.set(c, fullKey)
	if err != nil {
		return false, err
	}
	_, ok := s[member]
	return ok, nil
}

// Claim 原子占位
func (m *memoryStore) Claim(_ context.Context, cl Claim) (ClaimResult, error) {
	guard, setKey, holdersKey := m.buildKey(cl.Guard), m.buildKey(cl.Set), m.buildKey(cl.Holders)
	unlock := m.lockAll(guard, setKey, holdersKey)
	defer unlock()

	g, found := m.items(guard).Get(guard)
	if !found {
		return ClaimResult{Missing: true}, nil
	}
	limit := cl.Limit
	if h, ok := g.(map[string]string); ok && cl.LimitField != "" {
		if v, err := strconv.ParseInt(h[cl.LimitField], 10, 64); err == nil {
			limit = v
		}
	}

	sc, hc := m.items(setKey), m.items(holdersKey)
	members, err := m.set(sc, setKey)
	if err != nil {
		return ClaimResult{}, err
	}
	holders, err := m.hash(hc, holdersKey)
	if err != nil {
		return ClaimResult{}, err
	}

	if _, isMember := members[cl.Member]; isMember {
		prev := holders[cl.Member]
		if holders == nil {
			holders = make(map[string]string, 1)
			hc.Set(holdersKey, holders, gocache.NoExpiration)
		}
		holders[cl.Member] = cl.Holder
		if prev == cl.Holder {
			prev = ""
		}
		return ClaimResult{Admitted: true, Count: int64(len(members)), Superseded: prev}, nil
	}

	n := int64(len(members))
	if n >= limit {
		return ClaimResult{Count: n}, nil
	}

	if members == nil {
		members = make(map[string]struct{})
		sc.Set(setKey, members, gocache.NoExpiration)
	}
	if holders == nil {
		holders = make(map[string]string)
		hc.Set(holdersKey, holders, gocache.NoExpiration)
	}
	members[cl.Member] = struct{}{}
	holders[cl.Member] = cl.Holder
	return ClaimResult{Admitted: true, Count: n + 1}, nil
}

// Release 原子释放
func (m *memoryStore) Release(_ context.Context, rel Release) (ReleaseResult, error) {
	setKey, holdersKey := m.buildKey(rel.Set), m.buildKey(rel.Holders)
	unlock := m.lockAll(setKey, holdersKey)
	defer unlock()

	sc, hc := m.items(setKey), m.items(holdersKey)
	members, err := m.set(sc, setKey)
	if err != nil {
		return ReleaseResult{}, err
	}
	holders, err := m.hash(hc, holdersKey)
	if err != nil {
		return ReleaseResult{}, err
	}

	if rel.Holder != "" && holders[rel.Member] != rel.Holder {
		return ReleaseResult{Count: int64(len(members))}, nil
	}

	_, removed := members[rel.Member]
	delete(members, rel.Member)
	delete(holders, rel.Member)
	if members != nil && len(members) == 0 {
		sc.Delete(setKey)
	}
	if holders != nil && len(holders) == 0 {
		hc.Delete(holdersKey)
	}
	return ReleaseResult{Removed: removed, Count: int64(len(members))}, nil
}

// RemoveIfEmpty 集合为空时删除给定键
func (m *memoryStore) RemoveIfEmpty(_ context.Context, setKey string, keys ...string) (bool, error) {
	full := make([]string, 0, len(keys)+1)
	full = append(full, m.buildKey(setKey))
	for _, k := range keys {
		full = append(full, m.buildKey(k))
	}
	unlock := m.lockAll(full...)
	defer unlock()

	s, err := m.set(m.items(full[0]), full[0])
	if err != nil {
		return false, err
	}
	if len(s) > 0 {
		return false, nil
	}
	for _, k := range full[1:] {
		m.items(k).Delete(k)
	}
	return true, nil
}

// Ping 检查连接
func (m *memoryStore) Ping(_ context.Context) error {
	return nil
}

// Close 清空数据
func (m *memoryStore) Close() error {
	for _, s := range m.shards {
		s.items.Flush()
	}
	return nil
}

// String 返回存储类型
func (m *memoryStore) String() string {
	return fmt.Sprintf("MemoryStore(prefix=%s, shards=%d)", m.keyPrefix, len(m.shards))
}
