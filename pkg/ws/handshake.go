package ws

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/ratelimit"
	"github.com/tokmz/huddle/pkg/session"
	"github.com/tokmz/huddle/pkg/tracing"
)

// HandleUpgrade 升级连接并完成认证
// 认证失败时发送一条 error 事件后关闭连接
func (m *Manager) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	if m.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return ErrConnectionClosed
	}
	if m.pool.Full() {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		m.bus.Publish(Signal{Type: SignalRejected, Reason: ErrTooManyConnections.Reason})
		return ErrTooManyConnections
	}

	token, protocol := requestToken(r)
	var header http.Header
	if protocol != "" {
		header = http.Header{"Sec-Websocket-Protocol": []string{protocol}}
	}

	conn, err := m.upgrader.Upgrade(w, r, header)
	if err != nil {
		// 升级器已写入响应
		m.log.Debug("upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return err
	}

	c := newClient(conn, m, clientIP(r), r.Header.Get("Origin"))
	c.setState(StateAuthenticating)
	if err := m.authenticate(c, token, r.URL.Query().Get("room")); err != nil {
		m.refuse(c, err)
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c.Run()
	}()
	return nil
}

// authenticate 握手阶段：限流、校验令牌、创建会话、加入房间
func (m *Manager) authenticate(c *Client, token, hint string) error {
	ctx, span := tracing.StartSpan(c.ctx, "ws.handshake",
		trace.WithAttributes(attribute.String("ws.conn_id", c.ID), attribute.String("net.peer.ip", c.RemoteAddr)))
	defer span.End()

	if err := m.limiter.Allow(ctx, ratelimit.ActionConnect, c.RemoteAddr); err != nil {
		return err
	}
	if token == "" {
		return errors.ErrTokenMissing
	}
	claims, err := m.verifier.Verify(ctx, token)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	if err := m.validate.Username(claims.Username); err != nil {
		return err
	}

	// 强制房间模式下，房间提示不可进入则整个连接被拒绝
	if m.config.MandatoryRoom && hint != "" && !m.rooms.IsDefault(hint) {
		ok, err := m.rooms.CheckAccess(ctx, hint, claims.UserID, claims.Roles)
		if err != nil {
			return err
		}
		if !ok {
			return errors.ErrAccessDenied
		}
	}

	c.identify(claims)
	span.SetAttributes(attribute.String("enduser.id", c.UserID))
	ctx = c.ctx

	if err := m.pool.Add(c); err != nil {
		return err
	}
	err = m.sessions.Create(ctx, &session.Session{
		ConnID:     c.ID,
		UserID:     c.UserID,
		Username:   c.Username,
		Roles:      c.Roles,
		RemoteAddr: c.RemoteAddr,
		IssuedAt:   c.ConnectedAt,
	})
	if err != nil {
		m.pool.Remove(c.ID)
		return err
	}
	c.hasSession = true
	c.setState(StateAuthenticated)

	change, err := m.presence.Touch(ctx, c.UserID)
	if err != nil {
		c.log.Warn("presence update failed", zap.Error(err))
	}

	m.emit(ctx, c, EventConnected, "", ConnectedPayload{
		ConnID:   c.ID,
		UserID:   c.UserID,
		Username: c.Username,
		Roles:    c.Roles,
	})

	for _, id := range m.config.AutoJoinRooms {
		if _, err := m.joinRoom(ctx, c, id); err != nil {
			c.log.Warn("auto join failed", zap.String("room_id", id), zap.Error(err))
		}
	}
	if hint != "" && !c.InRoom(hint) {
		if _, err := m.joinRoom(ctx, c, hint); err != nil {
			if m.config.MandatoryRoom {
				return err
			}
			m.fail(ctx, c, "", &JoinRoom{RoomID: hint}, err)
		}
	}
	if change != nil {
		m.announce(ctx, *change)
	}

	c.admitted = true
	m.bus.Publish(Signal{Type: SignalConnected, ConnID: c.ID, UserID: c.UserID})
	c.log.Info("client connected",
		zap.String("remote_addr", c.RemoteAddr), zap.Strings("rooms", c.Rooms()))
	return nil
}

// refuse 拒绝连接，已创建的会话和成员关系先行清理
func (m *Manager) refuse(c *Client, err error) {
	if c.hasSession {
		m.release(c)
	}
	c.reject(err)

	reason := reasonOf(err)
	m.bus.Publish(Signal{Type: SignalRejected, ConnID: c.ID, UserID: c.UserID, Reason: reason})
	if errors.KindOf(err).ClientFacing() {
		m.log.Info("connection rejected", zap.String("remote_addr", c.RemoteAddr), zap.String("reason", reason))
	} else {
		m.log.Error("connection rejected", zap.String("remote_addr", c.RemoteAddr), zap.Error(err))
	}
}
