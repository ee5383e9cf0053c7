package ws

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/huddle/pkg/auth"
	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/logger"
)

// State 连接状态
//
//	Connecting -> Authenticating -> Authenticated -> Closed
//	                            \-> Rejected -> Closed
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client 单个 WebSocket 连接
// 读协程按顺序处理入站事件，写协程排空发送队列
type Client struct {
	ID      string
	conn    *websocket.Conn
	manager *Manager

	// 发送队列
	send     chan []byte
	sendHigh chan []byte // 高优先级队列（错误、系统消息）

	// 身份，认证成功后只读
	UserID      string
	Username    string
	Roles       []string
	RemoteAddr  string
	Origin      string
	ConnectedAt time.Time

	state        atomic.Int32
	rooms        sync.Map     // roomID -> struct{}
	lastActivity atomic.Int64 // 最近一次入站事件，UnixNano

	// 生命周期
	ctx        context.Context
	cancel     context.CancelFunc
	closed     atomic.Bool
	closeOnce  sync.Once
	closeFrame []byte // 关闭帧
	final      []byte // 关闭前发出的最后一条消息
	writeDone  chan struct{}
	hasSession bool // 会话已创建，断开时需要清理
	admitted   bool // 已完成握手

	invalidMsgCount atomic.Int32
	log             logger.Logger
}

// newClient 创建连接
func newClient(conn *websocket.Conn, m *Manager, remoteAddr, origin string) *Client {
	id := newConnID()
	ctx, cancel := context.WithCancel(logger.WithConnID(m.ctx, id))

	c := &Client{
		ID:          id,
		conn:        conn,
		manager:     m,
		send:        make(chan []byte, m.config.MessageQueueSize),
		sendHigh:    make(chan []byte, m.config.HighPriorityQueueSize),
		RemoteAddr:  remoteAddr,
		Origin:      origin,
		ConnectedAt: m.now(),
		ctx:         ctx,
		cancel:      cancel,
		writeDone:   make(chan struct{}),
		log:         m.log.With(zap.String("conn_id", id)),
	}
	c.setState(StateConnecting)
	c.markActive(c.ConnectedAt)
	return c
}

// identify 记录认证后的身份
func (c *Client) identify(claims *auth.Claims) {
	c.UserID = claims.UserID
	c.Username = claims.Username
	c.Roles = claims.Roles
	c.ctx = logger.WithUserID(c.ctx, claims.UserID)
	c.log = c.log.With(zap.String("user_id", claims.UserID))
}

// State 当前状态
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Client) markActive(t time.Time) {
	c.lastActivity.Store(t.UnixNano())
}

// Idle 距最近一次入站事件的时长
func (c *Client) Idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActivity.Load()))
}

// Run 运行读写协程，两者都退出后执行断开清理
func (c *Client) Run() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.readPump()
	}()
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	wg.Wait()
	c.manager.release(c)
}

// readPump 读取并按顺序处理消息
func (c *Client) readPump() {
	defer c.Close()

	cfg := c.manager.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}

		if c.manager.process(c, mt, data) {
			c.invalidMsgCount.Store(0)
			continue
		}
		if c.invalidMsgCount.Add(1) >= cfg.MaxInvalidMessages {
			c.CloseWith(websocket.ClosePolicyViolation, ErrInvalidMessages)
			return
		}
	}
}

// writePump 写入消息并定时发送 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(c.manager.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.flushClose()
			return

		case message := <-c.sendHigh:
			if err := c.write(message); err != nil {
				return
			}

		case message := <-c.send:
			if err := c.write(message); err != nil {
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.manager.config.WriteWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// write 写入单条消息
func (c *Client) write(message []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// flushClose 发出待发的错误消息和关闭帧，忽略写入失败
func (c *Client) flushClose() {
	deadline := time.Now().Add(c.manager.config.WriteWait)
	_ = c.conn.SetWriteDeadline(deadline)

	// 已排队的高优先级消息先于关闭帧发出
	for drained := false; !drained; {
		select {
		case message := <-c.sendHigh:
			if c.conn.WriteMessage(websocket.TextMessage, message) != nil {
				return
			}
		default:
			drained = true
		}
	}
	if c.final != nil {
		_ = c.conn.WriteMessage(websocket.TextMessage, c.final)
	}
	frame := c.closeFrame
	if frame == nil {
		frame = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, frame, deadline)
}

// SendBytes 发送消息（非阻塞）
func (c *Client) SendBytes(msg []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// SendBytesHigh 发送高优先级消息（非阻塞）
func (c *Client) SendBytesHigh(msg []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.sendHigh <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// Close 正常关闭
func (c *Client) Close() {
	c.CloseWith(websocket.CloseNormalClosure, nil)
}

// CloseWith 发出 error 事件后以指定关闭码关闭，err 为 nil 时直接关闭
func (c *Client) CloseWith(code int, err error) {
	c.closeOnce.Do(func() {
		reason := ""
		if err != nil {
			p := errorPayload(err)
			reason = p.Reason
			c.final, _ = encode(EventError, "", p)
		}
		c.closeFrame = websocket.FormatCloseMessage(code, reason)
		c.closed.Store(true)
		c.cancel()
	})
}

// reject 握手阶段拒绝连接，读写协程尚未启动，直接写入
func (c *Client) reject(err error) {
	c.setState(StateRejected)
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
	})

	p := errorPayload(err)
	deadline := time.Now().Add(c.manager.config.WriteWait)
	if msg, e := encode(EventError, "", p); e == nil {
		_ = c.conn.SetWriteDeadline(deadline)
		_ = c.conn.WriteMessage(websocket.TextMessage, msg)
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, p.Reason), deadline)
	_ = c.conn.Close()
	c.setState(StateClosed)
}

// IsClosed 是否已关闭
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// InRoom 本连接是否持有房间成员身份
func (c *Client) InRoom(roomID string) bool {
	_, ok := c.rooms.Load(roomID)
	return ok
}

// Rooms 本连接所在的房间，按 ID 排序
func (c *Client) Rooms() []string {
	rooms := make([]string, 0, 8)
	c.rooms.Range(func(key, _ any) bool {
		if id, ok := key.(string); ok {
			rooms = append(rooms, id)
		}
		return true
	})
	slices.Sort(rooms)
	return rooms
}

// reasonOf 错误的原因码
func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	return errors.From(err).Reason
}
