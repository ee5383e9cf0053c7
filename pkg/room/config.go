package room

import "time"

// Config 房间配置
type Config struct {
	// DefaultMaxMembers 未指定时的成员上限（默认 100）
	DefaultMaxMembers int `mapstructure:"default_max_members"`

	// MaxMembersLimit 可配置的成员上限最大值（默认 1000）
	MaxMembersLimit int `mapstructure:"max_members_limit"`

	// EmptyGrace 空房间保留时长，超过后自动删除（默认 5 分钟）
	EmptyGrace time.Duration `mapstructure:"empty_grace"`

	// CleanupInterval 空房间扫描周期（默认 1 分钟）
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// Defaults 首次加入时自动创建的公开房间
	Defaults []string `mapstructure:"defaults"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DefaultMaxMembers: 100,
		MaxMembersLimit:   1000,
		EmptyGrace:        5 * time.Minute,
		CleanupInterval:   time.Minute,
		Defaults:          []string{"lobby", "button_counter_room"},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultMaxMembers <= 0 {
		c.DefaultMaxMembers = d.DefaultMaxMembers
	}
	if c.MaxMembersLimit <= 0 {
		c.MaxMembersLimit = d.MaxMembersLimit
	}
	if c.DefaultMaxMembers > c.MaxMembersLimit {
		c.DefaultMaxMembers = c.MaxMembersLimit
	}
	if c.EmptyGrace <= 0 {
		c.EmptyGrace = d.EmptyGrace
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	return c
}
