package ws

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/presence"
	"github.com/tokmz/huddle/pkg/room"
	"github.com/tokmz/huddle/pkg/store"
)

// sendMessage 聊天消息，文本去除标记后广播
func (m *Manager) sendMessage(ctx context.Context, c *Client, ev *SendMessage) error {
	text := m.validate.Sanitize(ev.Message)
	if strings.TrimSpace(text) == "" {
		return errors.ErrEmpty.WithField("message")
	}
	payload := ChatPayload{
		RoomID:   ev.RoomID,
		UserID:   c.UserID,
		Username: c.Username,
		Message:  text,
		SentAt:   m.now().UnixMilli(),
	}

	if ev.RoomID == "" {
		if !m.config.AllowGlobalMessages {
			return errors.ErrEmpty.WithField("room_id")
		}
		msg, err := m.outbound(ctx, EventMessage, "", payload)
		if err != nil {
			return err
		}
		m.pool.Range(func(other *Client) bool {
			if other.State() == StateAuthenticated && other.SendBytes(msg) != nil {
				m.metrics.IncrementDroppedMessages()
			}
			return true
		})
		return nil
	}

	if !c.InRoom(ev.RoomID) {
		return errors.ErrNotMember
	}
	m.broadcast(ctx, ev.RoomID, EventMessage, payload, nil)
	return nil
}

// joinRoom 加入房间并广播 user_joined
// 同一用户从新连接加入时，旧连接收到 room_superseded
func (m *Manager) joinRoom(ctx context.Context, c *Client, roomID string) (*JoinReply, error) {
	res, err := m.rooms.Join(ctx, roomID, c.UserID, c.ID, c.Roles)
	if err != nil {
		return nil, err
	}

	fresh := !c.InRoom(roomID)
	m.hub.Add(roomID, c)
	if err := m.presence.Enter(ctx, c.UserID, roomID); err != nil {
		c.log.Warn("presence enter failed", zap.String("room_id", roomID), zap.Error(err))
	}

	if res.Superseded != "" && res.Superseded != c.ID {
		if old, ok := m.pool.Get(res.Superseded); ok {
			m.hub.Remove(roomID, old)
			m.emit(ctx, old, EventRoomSuperseded, "", SupersededPayload{RoomID: roomID})
		}
	}

	if fresh {
		m.broadcast(ctx, roomID, EventUserJoined, MemberPayload{
			RoomID:   roomID,
			UserID:   c.UserID,
			Username: c.Username,
			Count:    res.Count,
		}, nil)
		m.bus.Publish(Signal{Type: SignalJoined, ConnID: c.ID, UserID: c.UserID, RoomID: roomID})
	}

	return &JoinReply{RoomID: roomID, Permission: res.Room.Permission, Count: res.Count}, nil
}

// leaveRoom 离开房间
func (m *Manager) leaveRoom(ctx context.Context, c *Client, roomID string) (*LeaveReply, error) {
	if !c.InRoom(roomID) {
		return nil, errors.ErrNotMember
	}
	res, err := m.depart(ctx, c, roomID)
	if err != nil {
		return nil, err
	}
	return &LeaveReply{RoomID: roomID, Count: res.Count}, nil
}

// depart 释放成员关系，仍由本连接持有时广播 user_left
func (m *Manager) depart(ctx context.Context, c *Client, roomID string) (*room.LeaveResult, error) {
	m.hub.Remove(roomID, c)

	res, err := m.rooms.Leave(ctx, roomID, c.UserID, c.ID)
	if err != nil {
		c.log.Error("leave room failed", zap.String("room_id", roomID), zap.Error(err))
		return nil, err
	}
	if !res.Removed {
		return res, nil
	}

	if err := m.presence.Leave(ctx, c.UserID, roomID); err != nil {
		c.log.Warn("presence leave failed", zap.String("room_id", roomID), zap.Error(err))
	}
	m.broadcast(ctx, roomID, EventUserLeft, MemberPayload{
		RoomID:   roomID,
		UserID:   c.UserID,
		Username: c.Username,
		Count:    res.Count,
	}, c)
	m.bus.Publish(Signal{Type: SignalLeft, ConnID: c.ID, UserID: c.UserID, RoomID: roomID})
	return res, nil
}

// counter 读取共享计数器
func (m *Manager) counter(ctx context.Context) (*CounterPayload, error) {
	roomID := m.config.CounterRoom
	v, err := m.store.Get(ctx, counterKey(roomID))
	if errors.Is(err, store.ErrNotFound) {
		return &CounterPayload{RoomID: roomID}, nil
	}
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	return &CounterPayload{RoomID: roomID, Value: n}, nil
}

// pressButton 计数器加一并广播给计数器房间
// 不在房间内的请求方通过响应拿到新值
func (m *Manager) pressButton(ctx context.Context, c *Client) (any, error) {
	roomID := m.config.CounterRoom
	n, err := m.store.Incr(ctx, counterKey(roomID))
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}

	payload := &CounterPayload{RoomID: roomID, Value: n}
	m.broadcast(ctx, roomID, EventCounterUpdate, payload, nil)
	if c.InRoom(roomID) {
		return nil, nil
	}
	return payload, nil
}

// users 房间成员及在线状态，仅成员可查询
func (m *Manager) users(ctx context.Context, c *Client, roomID string) (*UsersReply, error) {
	if !c.InRoom(roomID) {
		return nil, errors.ErrNotMember
	}
	ids, err := m.rooms.Members(ctx, roomID)
	if err != nil {
		return nil, err
	}

	names := m.usernames(roomID)
	reply := &UsersReply{RoomID: roomID, Users: make([]UserEntry, 0, len(ids))}
	for _, uid := range ids {
		status, err := m.presence.RoomStatus(ctx, roomID, uid)
		if err != nil {
			return nil, err
		}
		reply.Users = append(reply.Users, UserEntry{UserID: uid, Username: names[uid], Status: status})
	}
	return reply, nil
}

// presenceOf 查询用户状态，指定房间时需要请求方也在房间内
func (m *Manager) presenceOf(ctx context.Context, c *Client, ev *GetPresence) (*PresencePayload, error) {
	var (
		status presence.Status
		err    error
	)
	if ev.RoomID != "" {
		if !c.InRoom(ev.RoomID) {
			return nil, errors.ErrNotMember
		}
		status, err = m.presence.RoomStatus(ctx, ev.RoomID, ev.UserID)
	} else {
		status, err = m.presence.Status(ctx, ev.UserID)
	}
	if err != nil {
		return nil, err
	}
	return &PresencePayload{UserID: ev.UserID, Status: status, RoomID: ev.RoomID}, nil
}

// createRoom 创建房间，请求方成为房主
func (m *Manager) createRoom(ctx context.Context, c *Client, ev *CreateRoom) (*room.Room, error) {
	p, err := room.ParsePermission(ev.Permission)
	if err != nil {
		return nil, err
	}
	return m.rooms.CreateRoom(ctx, room.Room{
		ID:           ev.RoomID,
		Permission:   p,
		Owner:        c.UserID,
		AllowedRoles: ev.AllowedRoles,
		MaxMembers:   ev.MaxMembers,
	})
}

// updatePermissions 修改房间权限
func (m *Manager) updatePermissions(ctx context.Context, c *Client, ev *UpdatePermissions) (*room.Room, error) {
	u := room.Update{AllowedRoles: ev.AllowedRoles, MaxMembers: ev.MaxMembers}
	if ev.Permission != nil {
		p, err := room.ParsePermission(*ev.Permission)
		if err != nil {
			return nil, err
		}
		u.Permission = &p
	}
	return m.rooms.UpdatePermissions(ctx, ev.RoomID, c.UserID, u)
}

// deleteRoom 删除房间，每个被驱逐的成员都广播一次 user_left
func (m *Manager) deleteRoom(ctx context.Context, c *Client, roomID string) (*DeleteReply, error) {
	evicted, err := m.rooms.DeleteRoom(ctx, roomID, c.UserID)
	if err != nil {
		return nil, err
	}

	names := m.usernames(roomID)
	for i, member := range evicted {
		if err := m.presence.Leave(ctx, member.UserID, roomID); err != nil {
			c.log.Warn("presence leave failed", zap.String("room_id", roomID), zap.Error(err))
		}
		m.broadcast(ctx, roomID, EventUserLeft, MemberPayload{
			RoomID:   roomID,
			UserID:   member.UserID,
			Username: names[member.UserID],
			Count:    int64(len(evicted) - i - 1),
		}, nil)
	}
	m.hub.Drop(roomID)
	m.bus.Publish(Signal{Type: SignalRoomDeleted, ConnID: c.ID, UserID: c.UserID, RoomID: roomID})

	return &DeleteReply{RoomID: roomID, Evicted: len(evicted)}, nil
}

// usernames 房间内本地连接的用户名
func (m *Manager) usernames(roomID string) map[string]string {
	clients := m.hub.Clients(roomID)
	names := make(map[string]string, len(clients))
	for _, c := range clients {
		names[c.UserID] = c.Username
	}
	return names
}
