package ws

import (
	"encoding/json"
	"time"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/presence"
	"github.com/tokmz/huddle/pkg/room"
)

// 出站事件名
const (
	EventConnected        = "connected"
	EventResponse         = "response"
	EventError            = "error"
	EventMessage          = "message"
	EventCounterUpdate    = "counter_update"
	EventUserJoined       = "user_joined"
	EventUserLeft         = "user_left"
	EventPresenceUpdate   = "presence_update"
	EventRoomAccessDenied = "room_access_denied"
	EventRoomSuperseded   = "room_superseded"
)

// Envelope 线上消息格式，入站和出站共用
//
//	{"event":"join_room","request_id":"r1","data":{"room_id":"lobby"}}
type Envelope struct {
	// Event 事件名称
	Event string `json:"event"`

	// RequestID 请求 ID，响应原样带回
	RequestID string `json:"request_id,omitempty"`

	// Data 事件数据
	Data json.RawMessage `json:"data,omitempty"`

	// Timestamp 毫秒时间戳（仅出站）
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ErrorPayload error 事件数据
type ErrorPayload struct {
	Kind         errors.Kind `json:"kind"`
	Reason       string      `json:"reason"`
	Message      string      `json:"message"`
	Field        string      `json:"field,omitempty"`
	RetryAfterMs int64       `json:"retry_after_ms,omitempty"`
}

// ConnectedPayload 认证成功后的首条消息
type ConnectedPayload struct {
	ConnID   string   `json:"conn_id"`
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles,omitempty"`
}

// MemberPayload user_joined / user_left
type MemberPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Count    int64  `json:"count"`
}

// PresencePayload presence_update
type PresencePayload struct {
	UserID string          `json:"user_id"`
	Status presence.Status `json:"status"`
	RoomID string          `json:"room_id,omitempty"`
}

// AccessDeniedPayload room_access_denied
type AccessDeniedPayload struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

// SupersededPayload room_superseded
type SupersededPayload struct {
	RoomID string `json:"room_id"`
}

// ChatPayload message
type ChatPayload struct {
	RoomID   string `json:"room_id,omitempty"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
	SentAt   int64  `json:"sent_at"`
}

// CounterPayload counter_update 和 get_counter 的响应
type CounterPayload struct {
	RoomID string `json:"room_id"`
	Value  int64  `json:"value"`
}

// JoinReply join_room 的响应
type JoinReply struct {
	RoomID     string          `json:"room_id"`
	Permission room.Permission `json:"permission"`
	Count      int64           `json:"count"`
}

// LeaveReply leave_room 的响应
type LeaveReply struct {
	RoomID string `json:"room_id"`
	Count  int64  `json:"count"`
}

// UserEntry get_users 响应中的一项
type UserEntry struct {
	UserID   string          `json:"user_id"`
	Username string          `json:"username,omitempty"`
	Status   presence.Status `json:"status"`
}

// UsersReply get_users 的响应
type UsersReply struct {
	RoomID string      `json:"room_id"`
	Users  []UserEntry `json:"users"`
}

// PongReply ping 的响应
type PongReply struct {
	Time int64 `json:"time"`
}

// DeleteReply delete_room 的响应
type DeleteReply struct {
	RoomID  string `json:"room_id"`
	Evicted int    `json:"evicted"`
}

// encode 序列化出站消息
func encode(event, requestID string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Event:     event,
		RequestID: requestID,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	})
}

// errorPayload 生成可以发给客户端的错误
// internal 错误只暴露通用信息
func errorPayload(err error) ErrorPayload {
	e := errors.From(err)
	if !e.Kind.ClientFacing() {
		e = errors.ErrInternal
	}
	return ErrorPayload{
		Kind:         e.Kind,
		Reason:       e.Reason,
		Message:      e.Message,
		Field:        e.Field,
		RetryAfterMs: e.RetryAfter.Milliseconds(),
	}
}
