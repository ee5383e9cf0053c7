package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/huddle/pkg/auth"
	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/logger"
	"github.com/tokmz/huddle/pkg/presence"
	"github.com/tokmz/huddle/pkg/ratelimit"
	"github.com/tokmz/huddle/pkg/room"
	"github.com/tokmz/huddle/pkg/session"
	"github.com/tokmz/huddle/pkg/store"
	"github.com/tokmz/huddle/pkg/validator"
)

// Deps 连接管理依赖的组件
// Store 和 Verifier 必填，其余为空时基于 Store 使用默认配置创建
type Deps struct {
	Store     store.Store
	Verifier  auth.Verifier
	Validator *validator.Validator
	Limiter   *ratelimit.Limiter
	Sessions  *session.Store
	Presence  *presence.Tracker
	Rooms     *room.Registry
	Logger    logger.Logger
}

// Manager 连接管理器
type Manager struct {
	// 核心组件
	pool    *ConnectionPool
	hub     *Hub
	bus     *Bus
	metrics Metrics

	store    store.Store
	verifier auth.Verifier
	validate *validator.Validator
	limiter  *ratelimit.Limiter
	sessions *session.Store
	presence *presence.Tracker
	rooms    *room.Registry
	log      logger.Logger

	// 配置
	config   *Config
	upgrader *Upgrader

	// 生命周期
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing atomic.Bool
	now     func() time.Time
}

// NewManager 创建管理器
func NewManager(deps Deps, opts ...Option) (*Manager, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("ws: store is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("ws: verifier is required")
	}

	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.Default()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(deps.Store, ratelimit.Config{}, log)
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewStore(deps.Store, session.DefaultConfig(), session.WithLogger(log))
	}
	if deps.Presence == nil {
		deps.Presence = presence.New(deps.Store, presence.DefaultConfig(), presence.WithLogger(log))
	}
	if deps.Rooms == nil {
		deps.Rooms = room.New(deps.Store, deps.Validator, room.DefaultConfig(), room.WithLogger(log))
	}
	if config.Metrics == nil {
		config.Metrics = NoopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		pool:     NewConnectionPool(config.MaxConnections),
		hub:      NewHub(),
		bus:      NewBus(config.EventWorkers),
		metrics:  config.Metrics,
		store:    deps.Store,
		verifier: deps.Verifier,
		validate: deps.Validator,
		limiter:  deps.Limiter,
		sessions: deps.Sessions,
		presence: deps.Presence,
		rooms:    deps.Rooms,
		log:      log.Named("ws"),
		config:   config,
		upgrader: NewUpgrader(config),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}

	m.subscribeMetrics()
	return m, nil
}

// Run 运行后台任务：在线状态扫描、空房间清理、空闲连接检查
// ctx 取消或 Shutdown 后返回
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.presence.Run(ctx, func(changes []presence.Change) {
			for _, ch := range changes {
				m.announce(ctx, ch)
			}
		})
	})
	g.Go(func() error {
		return m.rooms.Run(ctx)
	})
	g.Go(func() error {
		return m.sweepIdle(ctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-m.ctx.Done():
		}
		return context.Canceled
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sweepIdle 关闭超过 IdleTimeout 没有入站事件的连接
func (m *Manager) sweepIdle(ctx context.Context) error {
	interval := min(m.config.IdleTimeout/4, time.Minute)
	interval = max(interval, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := m.now()
			m.pool.Range(func(c *Client) bool {
				if c.State() == StateAuthenticated && c.Idle(now) >= m.config.IdleTimeout {
					c.log.Info("closing idle connection", zap.Duration("idle", c.Idle(now)))
					c.CloseWith(websocket.CloseGoingAway, ErrIdleTimeout)
				}
				return true
			})
		}
	}
}

// Shutdown 关闭所有连接并等待断开清理完成
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closing.Store(true)

	m.pool.Range(func(c *Client) bool {
		c.CloseWith(websocket.CloseGoingAway, nil)
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	m.cancel()
	m.bus.Close()
	return err
}

// Logout 删除用户的全部会话并关闭本实例上的连接，返回关闭的连接数
// 其他实例上的连接在下一次入站事件时因会话不存在而关闭
func (m *Manager) Logout(ctx context.Context, userID string) (int, error) {
	ids, err := m.sessions.DeleteUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, id := range ids {
		if c, ok := m.pool.Get(id); ok {
			c.CloseWith(websocket.ClosePolicyViolation, errors.ErrTokenRevoked)
			closed++
		}
	}
	return closed, nil
}

// ServeHTTP 实现 http.Handler
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = m.HandleUpgrade(w, r)
}

// Subscribe 订阅生命周期信号
func (m *Manager) Subscribe(t SignalType, handler SignalHandler) {
	m.bus.Subscribe(t, handler)
}

// Client 获取本地连接
func (m *Manager) Client(connID string) (*Client, bool) {
	return m.pool.Get(connID)
}

// Connections 本实例连接数
func (m *Manager) Connections() int {
	return m.pool.Count()
}

// Config 生效的配置
func (m *Manager) Config() Config {
	return *m.config
}

// Rooms 房间注册表
func (m *Manager) Rooms() *room.Registry {
	return m.rooms
}

// Stats 运行统计
type Stats struct {
	Connections    int       `json:"connections"`
	LocalRooms     int       `json:"local_rooms"`
	Rooms          int       `json:"rooms"`
	DroppedSignals int64     `json:"dropped_signals"`
	Metrics        *Snapshot `json:"metrics,omitempty"`
}

// Stats 读取运行统计
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	ids, err := m.rooms.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		Connections:    m.pool.Count(),
		LocalRooms:     m.hub.Count(),
		Rooms:          len(ids),
		DroppedSignals: m.bus.Dropped(),
	}
	if c, ok := m.metrics.(*Counters); ok {
		snap := c.Snapshot()
		s.Metrics = &snap
	}
	return s, nil
}

// release 断开清理：离开全部房间、删除会话、必要时标记离线
// 使用独立的超时 context，连接 context 已取消时仍会完成
func (m *Manager) release(c *Client) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), m.config.CleanupTimeout)
	defer cancel()

	c.setState(StateClosed)
	m.pool.Remove(c.ID)
	if !c.hasSession {
		return
	}

	rooms := c.Rooms()
	for _, id := range rooms {
		_, _ = m.depart(ctx, c, id)
	}

	remaining, err := m.sessions.Delete(ctx, c.ID, c.UserID)
	if err != nil {
		c.log.Error("session cleanup failed", zap.Error(err))
	} else if remaining == 0 {
		if _, err := m.presence.Remove(ctx, c.UserID); err != nil {
			c.log.Error("presence cleanup failed", zap.Error(err))
		}
		for _, id := range rooms {
			m.broadcast(ctx, id, EventPresenceUpdate,
				PresencePayload{UserID: c.UserID, Status: presence.Offline, RoomID: id}, nil)
		}
	}

	if c.admitted {
		m.bus.Publish(Signal{Type: SignalDisconnected, ConnID: c.ID, UserID: c.UserID})
		c.log.Info("client disconnected",
			zap.Strings("rooms", rooms), zap.Duration("duration", m.now().Sub(c.ConnectedAt)))
	}
}

// announce 把在线状态变化广播到用户所在的房间
func (m *Manager) announce(ctx context.Context, ch presence.Change) {
	for _, id := range ch.Rooms {
		m.broadcast(ctx, id, EventPresenceUpdate,
			PresencePayload{UserID: ch.UserID, Status: ch.Status, RoomID: id}, nil)
	}
}

// outbound 序列化出站消息，超过 JSON 大小上限时丢弃
func (m *Manager) outbound(ctx context.Context, event, requestID string, data any) ([]byte, error) {
	msg, err := encode(event, requestID, data)
	if err != nil {
		m.log.ErrorContext(ctx, "encode outbound message failed", zap.String("event", event), zap.Error(err))
		return nil, errors.ErrInternal.WithError(err)
	}
	if err := m.validate.JSONSize("payload", msg); err != nil {
		m.log.WarnContext(ctx, "outbound message dropped",
			zap.String("event", event), zap.Int("size", len(msg)))
		return nil, err
	}
	return msg, nil
}

// broadcast 向房间内的本地连接广播
func (m *Manager) broadcast(ctx context.Context, roomID, event string, data any, exclude *Client) {
	msg, err := m.outbound(ctx, event, "", data)
	if err != nil {
		return
	}
	failed, err := m.hub.Broadcast(roomID, msg, exclude)
	for i := 0; i < failed; i++ {
		m.metrics.IncrementDroppedMessages()
	}
	if err != nil {
		m.log.WarnContext(ctx, "broadcast incomplete", zap.String("room_id", roomID), zap.Error(err))
	}
}

// emit 向单个连接发送事件
func (m *Manager) emit(ctx context.Context, c *Client, event, requestID string, data any) {
	msg, err := m.outbound(ctx, event, requestID, data)
	if err != nil {
		// 请求的响应过大时至少告知请求方
		if event == EventResponse {
			m.fail(ctx, c, requestID, nil, err)
		}
		return
	}
	if err := c.SendBytes(msg); err != nil {
		m.metrics.IncrementDroppedMessages()
	}
}

// fail 把错误转换为出站事件
// 加入房间被拒绝时发送 room_access_denied，internal 错误记录日志后以通用形式返回
func (m *Manager) fail(ctx context.Context, c *Client, requestID string, ev Event, err error) {
	e := errors.From(err)
	if j, ok := ev.(*JoinRoom); ok && errors.Is(err, errors.ErrAccessDenied) {
		m.emit(ctx, c, EventRoomAccessDenied, requestID, AccessDeniedPayload{RoomID: j.RoomID, Reason: e.Reason})
		return
	}

	if e.Kind.ClientFacing() {
		c.log.Debug("request rejected", zap.String("reason", e.Reason), zap.String("field", e.Field))
	} else {
		c.log.ErrorContext(ctx, "request failed", zap.Error(err))
	}

	msg, encErr := encode(EventError, requestID, errorPayload(err))
	if encErr != nil {
		return
	}
	if c.SendBytesHigh(msg) != nil {
		m.metrics.IncrementDroppedMessages()
	}
}

// subscribeMetrics 通过信号更新监控
func (m *Manager) subscribeMetrics() {
	m.bus.Subscribe(SignalConnected, func(Signal) {
		m.metrics.IncrementConnections()
	})
	m.bus.Subscribe(SignalDisconnected, func(Signal) {
		m.metrics.DecrementConnections()
	})
	m.bus.Subscribe(SignalRejected, func(s Signal) {
		m.metrics.IncrementRejections(s.Reason)
	})
	m.bus.Subscribe(SignalDispatched, func(s Signal) {
		m.metrics.IncrementMessageCount(s.Event)
		if s.Reason != "" {
			m.metrics.IncrementMessageErrors(s.Event, s.Reason)
		}
	})
}
