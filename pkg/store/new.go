package store

import "fmt"

// New 创建存储实例
func New(cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverRedis:
		s, err = newRedisStore(cfg)
	case DriverMemory:
		s, err = newMemoryStore(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver type", ErrInvalidConfig)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Tracing {
		s = NewTracing(s)
	}
	return s, nil
}

// NewWithOptions 使用 Options 模式创建存储实例
func NewWithOptions(opts ...Option) (Store, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}

// NewMemory 创建默认内存存储，单机部署和测试使用
func NewMemory() Store {
	s, _ := newMemoryStore(DefaultConfig())
	return s
}
