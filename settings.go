package huddle

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/huddle/middleware"
	"github.com/tokmz/huddle/pkg/auth"
	"github.com/tokmz/huddle/pkg/config"
	"github.com/tokmz/huddle/pkg/logger"
	"github.com/tokmz/huddle/pkg/orm"
	"github.com/tokmz/huddle/pkg/presence"
	"github.com/tokmz/huddle/pkg/ratelimit"
	"github.com/tokmz/huddle/pkg/room"
	"github.com/tokmz/huddle/pkg/session"
	"github.com/tokmz/huddle/pkg/store"
	"github.com/tokmz/huddle/pkg/tracing"
	"github.com/tokmz/huddle/pkg/validator"
	"github.com/tokmz/huddle/pkg/ws"
)

// EnvPrefix 环境变量前缀，例如 HUDDLE_SERVER_ADDR
const EnvPrefix = "HUDDLE"

// ServerSettings HTTP 服务配置
type ServerSettings struct {
	// Addr 监听地址，默认 ":8080"
	Addr string `mapstructure:"addr"`

	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`

	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`

	// ShutdownTimeout 优雅关机超时，默认 10 秒
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TrustedProxies 信任的代理 IP，决定 ClientIP 的取值
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// RateLimit HTTP 接口是否按客户端 IP 限流
	RateLimit bool `mapstructure:"rate_limit"`
}

// LogSettings 日志配置
type LogSettings struct {
	Level   string `mapstructure:"level"`   // debug, info, warn, error
	Format  string `mapstructure:"format"`  // json, console
	Console bool   `mapstructure:"console"` // 输出到标准输出

	// File 日志文件，配置 MaxSize/MaxAge/MaxBackups 任一项时按大小轮转
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxAge     int    `mapstructure:"max_age"`  // 天
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`

	Caller     bool                   `mapstructure:"caller"`
	Stacktrace bool                   `mapstructure:"stacktrace"`
	Sampling   *logger.SamplingConfig `mapstructure:"sampling"` // nil 不采样
}

// options 转换为 logger 选项
func (s LogSettings) options() ([]logger.Option, error) {
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	opts := []logger.Option{
		logger.WithLevel(level),
		logger.WithFormat(logger.Format(s.Format)),
		logger.WithCaller(s.Caller),
		logger.WithStacktrace(s.Stacktrace),
	}
	if s.Console {
		opts = append(opts, logger.WithConsoleOutput())
	}
	switch {
	case s.File == "":
	case s.MaxSize > 0 || s.MaxAge > 0 || s.MaxBackups > 0:
		opts = append(opts, logger.WithRotateOutput(&logger.RotateConfig{
			Filename:   s.File,
			MaxSize:    s.MaxSize,
			MaxAge:     s.MaxAge,
			MaxBackups: s.MaxBackups,
			Compress:   s.Compress,
		}))
	default:
		opts = append(opts, logger.WithFileOutput(s.File))
	}
	if s.Sampling != nil {
		opts = append(opts, logger.WithSampling(s.Sampling))
	}
	return opts, nil
}

// Build 按配置创建日志实例
func (s LogSettings) Build() (logger.Logger, error) {
	opts, err := s.options()
	if err != nil {
		return nil, err
	}
	return logger.NewWithOptions(opts...)
}

// DatabaseSettings 数据库配置，启用后私有房间的邀请名单存入数据库
type DatabaseSettings struct {
	Enabled    bool `mapstructure:"enabled"`
	orm.Config `mapstructure:",squash"`
}

// Settings 应用配置
type Settings struct {
	Server    ServerSettings        `mapstructure:"server"`
	Log       LogSettings           `mapstructure:"log"`
	WS        ws.Config             `mapstructure:"ws"`
	Store     store.Config          `mapstructure:"store"`
	Auth      auth.Config           `mapstructure:"auth"`
	RateLimit ratelimit.Config      `mapstructure:"rate_limit"`
	Room      room.Config           `mapstructure:"room"`
	Presence  presence.Config       `mapstructure:"presence"`
	Session   session.Config        `mapstructure:"session"`
	Validator validator.Config      `mapstructure:"validator"`
	Tracing   tracing.Config        `mapstructure:"tracing"`
	CORS      middleware.CORSConfig `mapstructure:"cors"`
	Database  DatabaseSettings      `mapstructure:"database"`
}

// DefaultSettings 返回默认配置
func DefaultSettings() *Settings {
	return &Settings{
		Server: ServerSettings{
			Addr:            ":8080",
			Mode:            gin.ReleaseMode,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       true,
		},
		Log: LogSettings{
			Level:      "info",
			Format:     string(logger.JSONFormat),
			Console:    true,
			Caller:     true,
			Stacktrace: true,
		},
		WS:        *ws.DefaultConfig(),
		Store:     *store.DefaultConfig(),
		Auth:      auth.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Room:      room.DefaultConfig(),
		Presence:  presence.DefaultConfig(),
		Session:   session.DefaultConfig(),
		Validator: validator.DefaultConfig(),
		Tracing:   *tracing.DefaultConfig(),
		CORS:      *middleware.DefaultCORSConfig(),
		Database:  DatabaseSettings{Config: orm.DefaultConfig()},
	}
}

// Validate 校验配置
func (s *Settings) Validate() error {
	if s.Server.Addr == "" {
		return fmt.Errorf("server: addr is required")
	}
	switch s.Server.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return fmt.Errorf("server: unknown mode %q", s.Server.Mode)
	}
	if s.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server: shutdown_timeout must be positive")
	}
	if _, err := logger.ParseLevel(s.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if !logger.Format(s.Log.Format).IsValid() {
		return fmt.Errorf("log: unknown format %q", s.Log.Format)
	}
	if s.Auth.Secret == "" {
		return fmt.Errorf("auth: secret is required")
	}
	if err := s.WS.Validate(); err != nil {
		return fmt.Errorf("ws: %w", err)
	}
	if err := s.Store.Validate(); err != nil {
		return err
	}
	if err := s.Tracing.Validate(); err != nil {
		return err
	}
	if s.Database.Enabled {
		if err := s.Database.Config.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadSettings 读取配置：默认值，然后是配置文件，最后是 HUDDLE_ 前缀的环境变量
// path 为空时在当前目录和 ./configs 下查找 huddle.{yaml,json,toml}，找不到只用默认值
func LoadSettings(path string, opts ...config.Option) (*Settings, *config.Config, error) {
	base := []config.Option{config.WithEnvPrefix(EnvPrefix)}
	if path != "" {
		base = append(base, config.WithConfigFile(path))
	} else {
		base = append(base,
			config.WithConfigName("huddle"),
			config.WithConfigPaths(".", "./configs"),
			config.WithOptional(),
		)
	}

	cfg := config.New(append(base, opts...)...)
	if err := cfg.Load(); err != nil {
		return nil, nil, err
	}

	s := DefaultSettings()
	if err := cfg.Unmarshal(s); err != nil {
		cfg.Close()
		return nil, nil, err
	}
	if err := s.Validate(); err != nil {
		cfg.Close()
		return nil, nil, err
	}
	return s, cfg, nil
}
