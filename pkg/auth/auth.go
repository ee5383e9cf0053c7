// Package auth 令牌校验
//
// 连接层只依赖 Verifier：输入原始令牌，输出规范化的身份声明，
// 或 expired / malformed / signature_invalid / revoked 之一。
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/tokmz/huddle/pkg/errors"
)

// Claims 规范化的身份声明
type Claims struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Verifier 令牌校验器
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// VerifierFunc 函数适配器
type VerifierFunc func(ctx context.Context, token string) (*Claims, error)

// Verify 实现 Verifier
func (f VerifierFunc) Verify(ctx context.Context, token string) (*Claims, error) {
	return f(ctx, token)
}

// BearerToken 从 Authorization 头中取出令牌
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// ProtocolToken 从 Sec-WebSocket-Protocol 中取出 "bearer.<token>" 形式的令牌，
// 同时返回携带令牌的子协议名，握手响应需要回显它
func ProtocolToken(protocols []string) (token, protocol string) {
	for _, p := range protocols {
		p = strings.TrimSpace(p)
		if t, ok := strings.CutPrefix(p, "bearer."); ok && t != "" {
			return t, p
		}
	}
	return "", ""
}

// Reason 返回认证错误的原因码，非认证错误返回空字符串
func Reason(err error) string {
	e := errors.From(err)
	if e == nil || e.Kind != errors.KindUnauthenticated {
		return ""
	}
	return e.Reason
}
