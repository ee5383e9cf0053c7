package store

import (
	"fmt"
	"time"
)

// DriverType 驱动类型
type DriverType string

const (
	DriverRedis  DriverType = "redis"
	DriverMemory DriverType = "memory"
)

// RedisMode Redis 模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// Config 存储配置
type Config struct {
	// 驱动类型
	Driver DriverType `mapstructure:"driver"`

	// Redis 配置
	Redis *RedisConfig `mapstructure:"redis"`

	// Memory 配置
	Memory *MemoryConfig `mapstructure:"memory"`

	// 键前缀（多个应用共用一个 Redis 时避免冲突）
	KeyPrefix string `mapstructure:"key_prefix"`

	// Tracing 是否为每次操作创建 Span
	Tracing bool `mapstructure:"tracing"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`           // 地址（单机）
	Addrs        []string      `mapstructure:"addrs"`          // 地址列表（集群/哨兵）
	Mode         RedisMode     `mapstructure:"mode"`           // standalone, cluster, sentinel
	Username     string        `mapstructure:"username"`       // 用户名（Redis 6.0+）
	Password     string        `mapstructure:"password"`       // 密码
	DB           int           `mapstructure:"db"`             // 数据库编号
	PoolSize     int           `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int           `mapstructure:"min_idle_conns"` // 最小空闲连接
	MaxRetries   int           `mapstructure:"max_retries"`    // 最大重试次数
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`   // 连接超时
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`   // 读超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"`  // 写超时

	// 哨兵模式配置
	MasterName string `mapstructure:"master_name"` // 主节点名称
}

// MemoryConfig 内存存储配置
type MemoryConfig struct {
	Shards          int           `mapstructure:"shards"`           // 分片数，每个分片独立加锁
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"` // 过期键清理间隔
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Driver: DriverMemory,
		Memory: DefaultMemoryConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Mode:         RedisStandalone,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// DefaultMemoryConfig 返回默认 Memory 配置
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		Shards:          64,
		CleanupInterval: time.Minute,
	}
}

// Option 配置选项
type Option func(*Config)

// WithRedis 设置 Redis 配置
func WithRedis(cfg *RedisConfig) Option {
	return func(c *Config) {
		c.Driver = DriverRedis
		c.Redis = cfg
	}
}

// WithMemory 设置 Memory 配置
func WithMemory(cfg *MemoryConfig) Option {
	return func(c *Config) {
		c.Driver = DriverMemory
		c.Memory = cfg
	}
}

// WithKeyPrefix 设置键前缀
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithTracing 开启链路追踪
func WithTracing() Option {
	return func(c *Config) {
		c.Tracing = true
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverRedis:
		if c.Redis == nil {
			return fmt.Errorf("%w: redis config is required", ErrInvalidConfig)
		}
		switch c.Redis.Mode {
		case RedisStandalone, "":
			if c.Redis.Addr == "" {
				return fmt.Errorf("%w: redis addr is required for standalone mode", ErrInvalidConfig)
			}
		case RedisCluster:
			if len(c.Redis.Addrs) == 0 {
				return fmt.Errorf("%w: redis cluster requires addrs", ErrInvalidConfig)
			}
		case RedisSentinel:
			if len(c.Redis.Addrs) == 0 {
				return fmt.Errorf("%w: redis sentinel requires at least 1 sentinel node", ErrInvalidConfig)
			}
			if c.Redis.MasterName == "" {
				return fmt.Errorf("%w: redis sentinel requires master name", ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: invalid redis mode %q", ErrInvalidConfig, c.Redis.Mode)
		}
	case DriverMemory:
		if c.Memory == nil {
			return fmt.Errorf("%w: memory config is required", ErrInvalidConfig)
		}
		if c.Memory.Shards <= 0 {
			return fmt.Errorf("%w: memory shards must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: invalid driver type %q", ErrInvalidConfig, c.Driver)
	}
	return nil
}
