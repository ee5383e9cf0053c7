package ws

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokmz/huddle/pkg/errors"
)

// Config 连接管理配置
type Config struct {
	// 连接配置
	MaxConnections   int           `mapstructure:"max_connections"`   // 本实例最大连接数
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`  // 读缓冲区大小
	WriteBufferSize  int           `mapstructure:"write_buffer_size"` // 写缓冲区大小
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"` // 握手超时时间
	MaxMessageSize   int64         `mapstructure:"max_message_size"`  // 单帧最大字节数，超出直接断开

	// 心跳配置
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"` // ping 间隔
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`  // 收不到 pong 的断开时长
	WriteWait         time.Duration `mapstructure:"write_wait"`         // 单次写超时

	// 生命周期
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`    // 无入站事件的断开时长
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout"` // 断开清理的超时时间

	// 消息配置
	MessageQueueSize      int   `mapstructure:"message_queue_size"`       // 普通发送队列
	HighPriorityQueueSize int   `mapstructure:"high_priority_queue_size"` // 高优先级队列（错误、系统消息）
	MaxInvalidMessages    int32 `mapstructure:"max_invalid_messages"`     // 连续无效帧上限
	EventWorkers          int   `mapstructure:"event_workers"`            // 生命周期事件处理协程数

	// 来源检查，包含 "*" 时允许全部
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
	EnableCompression bool     `mapstructure:"enable_compression"`

	// 房间
	MandatoryRoom       bool     `mapstructure:"mandatory_room"`        // 握手时的房间提示被拒绝则拒绝连接
	AutoJoinRooms       []string `mapstructure:"auto_join_rooms"`       // 认证后自动加入
	CounterRoom         string   `mapstructure:"counter_room"`          // 共享计数器所在房间
	AllowGlobalMessages bool     `mapstructure:"allow_global_messages"` // 未指定房间的消息发给所有本地连接

	// 监控
	Metrics Metrics `mapstructure:"-"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:        10000,
		ReadBufferSize:        1024,
		WriteBufferSize:       1024,
		HandshakeTimeout:      10 * time.Second,
		MaxMessageSize:        64 << 10, // 64KB
		HeartbeatInterval:     30 * time.Second,
		HeartbeatTimeout:      90 * time.Second,
		WriteWait:             10 * time.Second,
		IdleTimeout:           10 * time.Minute,
		CleanupTimeout:        5 * time.Second,
		MessageQueueSize:      256,
		HighPriorityQueueSize: 64,
		MaxInvalidMessages:    10,
		EventWorkers:          4,
		CounterRoom:           "button_counter_room",
		AutoJoinRooms:         []string{"button_counter_room"},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MaxConnections must be positive, got %d", c.MaxConnections)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("ReadBufferSize must be positive, got %d", c.ReadBufferSize)
	}
	if c.WriteBufferSize <= 0 {
		return fmt.Errorf("WriteBufferSize must be positive, got %d", c.WriteBufferSize)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("HandshakeTimeout must be positive, got %v", c.HandshakeTimeout)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MaxMessageSize must be positive, got %d", c.MaxMessageSize)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HeartbeatInterval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.WriteWait <= 0 {
		return fmt.Errorf("WriteWait must be positive, got %v", c.WriteWait)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("IdleTimeout must be positive, got %v", c.IdleTimeout)
	}
	if c.CleanupTimeout <= 0 {
		return fmt.Errorf("CleanupTimeout must be positive, got %v", c.CleanupTimeout)
	}
	if c.MessageQueueSize <= 0 {
		return fmt.Errorf("MessageQueueSize must be positive, got %d", c.MessageQueueSize)
	}
	if c.HighPriorityQueueSize <= 0 {
		return fmt.Errorf("HighPriorityQueueSize must be positive, got %d", c.HighPriorityQueueSize)
	}
	if c.MaxInvalidMessages <= 0 {
		return fmt.Errorf("MaxInvalidMessages must be positive, got %d", c.MaxInvalidMessages)
	}
	if c.EventWorkers <= 0 {
		return fmt.Errorf("EventWorkers must be positive, got %d", c.EventWorkers)
	}
	if c.CounterRoom == "" {
		return fmt.Errorf("CounterRoom is required")
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithConfig 整体替换配置，通常来自配置文件
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithMaxConnections 设置最大连接数
func WithMaxConnections(n int) Option {
	return func(c *Config) {
		c.MaxConnections = n
	}
}

// WithHeartbeat 设置心跳间隔和超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithIdleTimeout 设置空闲断开时长
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.IdleTimeout = d
	}
}

// WithAllowedOrigins 设置 Origin 白名单
// 示例：WithAllowedOrigins("https://example.com", "https://app.example.com")
func WithAllowedOrigins(origins ...string) Option {
	return func(c *Config) {
		c.AllowedOrigins = origins
	}
}

// WithMandatoryRoom 房间提示被拒绝时拒绝整个连接
func WithMandatoryRoom(on bool) Option {
	return func(c *Config) {
		c.MandatoryRoom = on
	}
}

// WithAutoJoinRooms 设置认证后自动加入的房间
func WithAutoJoinRooms(rooms ...string) Option {
	return func(c *Config) {
		c.AutoJoinRooms = rooms
	}
}

// WithGlobalMessages 允许不指定房间的消息
func WithGlobalMessages(on bool) Option {
	return func(c *Config) {
		c.AllowGlobalMessages = on
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// sameOrigin 未配置白名单时的来源检查
// 非浏览器客户端不发送 Origin，放行
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// whitelist 白名单检查器
func whitelist(allowed []string) func(*http.Request) bool {
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 白名单模式下拒绝空 Origin
			return false
		}
		_, ok := set[origin]
		return ok
	}
}

// Upgrader WebSocket 升级器
type Upgrader struct {
	upgrader websocket.Upgrader
}

// NewUpgrader 创建升级器
func NewUpgrader(cfg *Config) *Upgrader {
	check := sameOrigin
	if len(cfg.AllowedOrigins) > 0 {
		check = whitelist(cfg.AllowedOrigins)
	}

	return &Upgrader{
		upgrader: websocket.Upgrader{
			HandshakeTimeout:  cfg.HandshakeTimeout,
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
			CheckOrigin:       check,
			EnableCompression: cfg.EnableCompression,
			Error:             upgradeError,
		},
	}
}

// Upgrade 升级 HTTP 连接为 WebSocket
// header 用于回显携带令牌的子协议
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, header http.Header) (*websocket.Conn, error) {
	return u.upgrader.Upgrade(w, r, header)
}

// upgradeError 握手失败时按事件格式返回错误
func upgradeError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	err := errors.ErrInvalidInput.WithMessage(reason.Error())
	if status == http.StatusForbidden {
		err = errors.ErrOriginDenied
	}
	body, _ := encode(EventError, "", errorPayload(err))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Sec-Websocket-Version", "13")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
