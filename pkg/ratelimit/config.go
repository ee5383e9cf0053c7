package ratelimit

import "time"

// Action 受限动作类别
type Action string

const (
	ActionConnect Action = "connect" // 建立连接
	ActionMessage Action = "message" // 一般消息
	ActionJoin    Action = "join"    // 加入房间
)

// Budget 单个动作的窗口预算
type Budget struct {
	// Limit 窗口内允许的次数
	Limit int64 `mapstructure:"limit"`

	// Window 窗口长度
	Window time.Duration `mapstructure:"window"`
}

// Config 限流配置
type Config struct {
	Connect Budget `mapstructure:"connect"`
	Message Budget `mapstructure:"message"`
	Join    Budget `mapstructure:"join"`

	// KeyPrefix 计数键前缀（默认 "ratelimit"）
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Connect:   Budget{Limit: 10, Window: time.Minute},
		Message:   Budget{Limit: 30, Window: 10 * time.Second},
		Join:      Budget{Limit: 20, Window: time.Minute},
		KeyPrefix: "ratelimit",
	}
}

// budget 返回动作的预算，未知动作按一般消息处理
func (c Config) budget(a Action) Budget {
	switch a {
	case ActionConnect:
		return c.Connect
	case ActionJoin:
		return c.Join
	default:
		return c.Message
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Connect.Limit <= 0 || c.Connect.Window <= 0 {
		c.Connect = d.Connect
	}
	if c.Message.Limit <= 0 || c.Message.Window <= 0 {
		c.Message = d.Message
	}
	if c.Join.Limit <= 0 || c.Join.Window <= 0 {
		c.Join = d.Join
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	return c
}
