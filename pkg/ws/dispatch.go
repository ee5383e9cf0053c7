package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/session"
	"github.com/tokmz/huddle/pkg/tracing"
)

// process 处理一帧入站消息，帧本身无法解析时返回 false
//
// 处理顺序对所有事件一致：
//  1. 未认证 -> unauthenticated
//  2. 校验 -> invalid_input
//  3. 限流 -> rate_limited，不做任何修改
//  4. 交给房间、在线状态或应用处理，刷新会话活动时间
//  5. 广播状态变化
func (m *Manager) process(c *Client, mt int, data []byte) bool {
	start := time.Now()

	if c.State() != StateAuthenticated {
		m.fail(c.ctx, c, "", nil, errors.ErrUnauthenticated)
		return true
	}

	const field = "frame"
	if mt == websocket.BinaryMessage {
		if err := m.validate.Binary(field, data); err != nil {
			m.invalid(c, err)
			return false
		}
	}
	if err := m.validate.JSON(field, data); err != nil {
		m.invalid(c, err)
		return false
	}

	frame := gjson.ParseBytes(data)
	if !frame.IsObject() {
		m.invalid(c, errors.ErrMalformedJSON.WithField(field).WithMessage("frame must be a JSON object"))
		return false
	}
	requestID := frame.Get("request_id").String()
	if requestID != "" {
		if err := m.validate.Text("request_id", requestID); err != nil {
			m.invalid(c, err)
			return false
		}
	}
	ev, err := Decode(frame.Get("event").String(), []byte(frame.Get("data").Raw))
	if err != nil {
		m.metrics.IncrementInvalidMessages()
		m.fail(c.ctx, c, requestID, nil, err)
		return false
	}

	ctx, span := tracing.StartSpan(c.ctx, "ws."+string(ev.Kind()),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ws.conn_id", c.ID),
			attribute.String("enduser.id", c.UserID),
		))
	defer span.End()

	err = m.dispatch(ctx, c, requestID, ev)
	if err != nil {
		tracing.RecordError(span, err)
		m.fail(ctx, c, requestID, ev, err)
	}

	m.bus.Publish(Signal{
		Type:   SignalDispatched,
		ConnID: c.ID,
		UserID: c.UserID,
		Event:  ev.Kind(),
		Reason: reasonOf(err),
	})
	m.metrics.RecordDispatchLatency(ev.Kind(), time.Since(start))
	return true
}

// invalid 帧级错误
func (m *Manager) invalid(c *Client, err error) {
	m.metrics.IncrementInvalidMessages()
	m.fail(c.ctx, c, "", nil, err)
}

// dispatch 校验、限流并处理事件
func (m *Manager) dispatch(ctx context.Context, c *Client, requestID string, ev Event) error {
	if err := ev.check(m.validate); err != nil {
		return err
	}
	if err := m.limiter.Allow(ctx, rateClass(ev), c.UserID); err != nil {
		return err
	}

	reply, err := m.handle(ctx, c, ev)
	if terr := m.touch(ctx, c); terr != nil {
		return terr
	}
	if err != nil {
		return err
	}
	if reply != nil {
		m.emit(ctx, c, EventResponse, requestID, reply)
	}
	return nil
}

// touch 记录活动：刷新会话，在线状态提升时广播
func (m *Manager) touch(ctx context.Context, c *Client) error {
	c.markActive(m.now())

	if _, err := m.sessions.Touch(ctx, c.ID, c.UserID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			// 会话已过期，连接随之失效
			c.CloseWith(websocket.ClosePolicyViolation, err)
			return nil
		}
		return err
	}

	change, err := m.presence.Touch(ctx, c.UserID)
	if err != nil {
		return err
	}
	if change != nil {
		m.announce(ctx, *change)
	}
	return nil
}

// handle 按事件类型分派
func (m *Manager) handle(ctx context.Context, c *Client, ev Event) (any, error) {
	switch ev := ev.(type) {
	case *SendMessage:
		return nil, m.sendMessage(ctx, c, ev)
	case *JoinRoom:
		return m.joinRoom(ctx, c, ev.RoomID)
	case *LeaveRoom:
		return m.leaveRoom(ctx, c, ev.RoomID)
	case *GetCounter:
		return m.counter(ctx)
	case *PressButton:
		return m.pressButton(ctx, c)
	case *GetUsers:
		return m.users(ctx, c, ev.RoomID)
	case *GetPresence:
		return m.presenceOf(ctx, c, ev)
	case *CreateRoom:
		return m.createRoom(ctx, c, ev)
	case *UpdatePermissions:
		return m.updatePermissions(ctx, c, ev)
	case *GetPermissions:
		return m.rooms.GetPermissions(ctx, ev.RoomID, c.UserID)
	case *DeleteRoom:
		return m.deleteRoom(ctx, c, ev.RoomID)
	case *Ping:
		return PongReply{Time: m.now().UnixMilli()}, nil
	default:
		return nil, errors.ErrUnsupported.WithField("event")
	}
}
