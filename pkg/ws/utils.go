package ws

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tokmz/huddle/pkg/auth"
)

// newConnID 生成连接 ID
func newConnID() string {
	return uuid.NewString()
}

// counterKey 共享计数器的存储键
func counterKey(roomID string) string {
	return "counter:{" + roomID + "}"
}

// requestToken 依次从 query token、Authorization 头、Sec-WebSocket-Protocol 中取令牌
// 令牌来自子协议时同时返回需要回显的子协议名
func requestToken(r *http.Request) (token, protocol string) {
	if t := r.URL.Query().Get("token"); t != "" {
		return t, ""
	}
	if t := auth.BearerToken(r.Header.Get("Authorization")); t != "" {
		return t, ""
	}
	return auth.ProtocolToken(websocket.Subprotocols(r))
}

type clientIPKey struct{}

// WithClientIP 记录经过代理解析后的客户端地址
func WithClientIP(r *http.Request, ip string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), clientIPKey{}, ip))
}

// clientIP 连接的远端地址，用作握手阶段的限流标识
func clientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
