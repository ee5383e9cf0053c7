package ws

import "github.com/tokmz/huddle/pkg/errors"

/*
	连接层错误码 7xxx
*/

var (
	// ErrTooManyConnections 连接数已满
	ErrTooManyConnections = errors.New(7001, errors.KindRateLimited, "too_many_connections", "server is at capacity")
	// ErrClientIDExists 连接 ID 冲突
	ErrClientIDExists = errors.New(7002, errors.KindInternal, "client_id_exists", "client id already exists")
	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = errors.New(7003, errors.KindInternal, "connection_closed", "connection closed")
	// ErrChannelFull 发送队列已满
	ErrChannelFull = errors.New(7004, errors.KindInternal, "send_queue_full", "send channel full")
	// ErrIdleTimeout 长时间无活动
	ErrIdleTimeout = errors.New(7005, errors.KindUnauthenticated, "idle_timeout", "connection closed after inactivity")
	// ErrInvalidMessages 连续无效帧过多
	ErrInvalidMessages = errors.New(7006, errors.KindInvalidInput, "too_many_invalid_messages", "too many invalid messages")
	// ErrBroadcastTimeout 广播超时
	ErrBroadcastTimeout = errors.New(7007, errors.KindInternal, "broadcast_timeout", "broadcast timeout")
)
