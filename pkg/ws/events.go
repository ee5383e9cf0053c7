package ws

import (
	"bytes"
	"encoding/json"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/ratelimit"
	"github.com/tokmz/huddle/pkg/room"
	"github.com/tokmz/huddle/pkg/validator"
)

// EventKind 入站事件名
type EventKind string

const (
	KindSendMessage       EventKind = "send_message"
	KindJoinRoom          EventKind = "join_room"
	KindLeaveRoom         EventKind = "leave_room"
	KindGetCounter        EventKind = "get_counter"
	KindPressButton       EventKind = "press_button"
	KindGetUsers          EventKind = "get_users"
	KindGetPresence       EventKind = "get_presence"
	KindCreateRoom        EventKind = "create_room"
	KindUpdatePermissions EventKind = "update_permissions"
	KindGetPermissions    EventKind = "get_permissions"
	KindDeleteRoom        EventKind = "delete_room"
	KindPing              EventKind = "ping"
)

// Event 入站事件，集合是封闭的，只能由 Decode 产生
type Event interface {
	Kind() EventKind
	// check 校验事件形状，失败返回带字段名的 invalid_input
	check(v *validator.Validator) error
}

// SendMessage 聊天消息，RoomID 为空时发给所有本地连接
type SendMessage struct {
	RoomID  string `json:"room_id,omitempty"`
	Message string `json:"message"`
}

// JoinRoom 加入房间
type JoinRoom struct {
	RoomID string `json:"room_id"`
}

// LeaveRoom 离开房间
type LeaveRoom struct {
	RoomID string `json:"room_id"`
}

// GetCounter 读取共享计数器
type GetCounter struct{}

// PressButton 共享计数器加一
type PressButton struct{}

// GetUsers 房间成员及其在线状态
type GetUsers struct {
	RoomID string `json:"room_id"`
}

// GetPresence 用户在线状态，指定 RoomID 时返回房间内状态
type GetPresence struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id,omitempty"`
}

// CreateRoom 创建房间，请求者成为房主
type CreateRoom struct {
	RoomID       string   `json:"room_id"`
	Permission   string   `json:"permission"`
	AllowedRoles []string `json:"allowed_roles,omitempty"`
	MaxMembers   int      `json:"max_members,omitempty"`
}

// UpdatePermissions 修改房间权限，缺省字段保持不变
type UpdatePermissions struct {
	RoomID       string   `json:"room_id"`
	Permission   *string  `json:"permission,omitempty"`
	AllowedRoles []string `json:"allowed_roles,omitempty"`
	MaxMembers   *int     `json:"max_members,omitempty"`
}

// GetPermissions 读取房间权限
type GetPermissions struct {
	RoomID string `json:"room_id"`
}

// DeleteRoom 删除房间
type DeleteRoom struct {
	RoomID string `json:"room_id"`
}

// Ping 应用层心跳
type Ping struct{}

func (*SendMessage) Kind() EventKind       { return KindSendMessage }
func (*JoinRoom) Kind() EventKind          { return KindJoinRoom }
func (*LeaveRoom) Kind() EventKind         { return KindLeaveRoom }
func (*GetCounter) Kind() EventKind        { return KindGetCounter }
func (*PressButton) Kind() EventKind       { return KindPressButton }
func (*GetUsers) Kind() EventKind          { return KindGetUsers }
func (*GetPresence) Kind() EventKind       { return KindGetPresence }
func (*CreateRoom) Kind() EventKind        { return KindCreateRoom }
func (*UpdatePermissions) Kind() EventKind { return KindUpdatePermissions }
func (*GetPermissions) Kind() EventKind    { return KindGetPermissions }
func (*DeleteRoom) Kind() EventKind        { return KindDeleteRoom }
func (*Ping) Kind() EventKind              { return KindPing }

func (e *SendMessage) check(v *validator.Validator) error {
	if e.RoomID != "" {
		if err := v.RoomID(e.RoomID); err != nil {
			return err
		}
	}
	return v.Text("message", e.Message)
}

func (e *JoinRoom) check(v *validator.Validator) error  { return v.RoomID(e.RoomID) }
func (e *LeaveRoom) check(v *validator.Validator) error { return v.RoomID(e.RoomID) }
func (*GetCounter) check(*validator.Validator) error    { return nil }
func (*PressButton) check(*validator.Validator) error   { return nil }
func (e *GetUsers) check(v *validator.Validator) error  { return v.RoomID(e.RoomID) }

func (e *GetPresence) check(v *validator.Validator) error {
	if err := v.Text("user_id", e.UserID); err != nil {
		return err
	}
	if e.RoomID != "" {
		return v.RoomID(e.RoomID)
	}
	return nil
}

func (e *CreateRoom) check(v *validator.Validator) error {
	if err := v.RoomID(e.RoomID); err != nil {
		return err
	}
	if _, err := room.ParsePermission(e.Permission); err != nil {
		return err
	}
	return v.Roles("allowed_roles", e.AllowedRoles)
}

func (e *UpdatePermissions) check(v *validator.Validator) error {
	if err := v.RoomID(e.RoomID); err != nil {
		return err
	}
	if e.Permission != nil {
		if _, err := room.ParsePermission(*e.Permission); err != nil {
			return err
		}
	}
	return v.Roles("allowed_roles", e.AllowedRoles)
}

func (e *GetPermissions) check(v *validator.Validator) error { return v.RoomID(e.RoomID) }
func (e *DeleteRoom) check(v *validator.Validator) error     { return v.RoomID(e.RoomID) }
func (*Ping) check(*validator.Validator) error               { return nil }

// Decode 按事件名解码数据，未知事件返回 unsupported_event
func Decode(name string, data []byte) (Event, error) {
	var ev Event
	switch EventKind(name) {
	case KindSendMessage:
		ev = &SendMessage{}
	case KindJoinRoom:
		ev = &JoinRoom{}
	case KindLeaveRoom:
		ev = &LeaveRoom{}
	case KindGetCounter:
		ev = &GetCounter{}
	case KindPressButton:
		ev = &PressButton{}
	case KindGetUsers:
		ev = &GetUsers{}
	case KindGetPresence:
		ev = &GetPresence{}
	case KindCreateRoom:
		ev = &CreateRoom{}
	case KindUpdatePermissions:
		ev = &UpdatePermissions{}
	case KindGetPermissions:
		ev = &GetPermissions{}
	case KindDeleteRoom:
		ev = &DeleteRoom{}
	case KindPing:
		ev = &Ping{}
	case "":
		return nil, errors.ErrEmpty.WithField("event")
	default:
		return nil, errors.ErrUnsupported.WithField("event")
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ev, nil
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, errors.ErrMalformedJSON.WithField("data").WithError(err)
	}
	return ev, nil
}

// rateClass 事件对应的限流动作
func rateClass(ev Event) ratelimit.Action {
	if ev.Kind() == KindJoinRoom {
		return ratelimit.ActionJoin
	}
	return ratelimit.ActionMessage
}
