// Package middleware gin 中间件：访问日志、异常恢复、跨域、限流、链路追踪
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/tokmz/huddle/pkg/errors"
)

// abort 以 error 事件的格式结束请求
func abort(c *gin.Context, status int, err error) {
	e := errors.From(err)
	if !e.Kind.ClientFacing() {
		e = errors.ErrInternal
	}
	body := gin.H{"kind": e.Kind, "reason": e.Reason, "message": e.Message}
	if e.RetryAfter > 0 {
		body["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	c.AbortWithStatusJSON(status, gin.H{"event": "error", "data": body})
}

// skipper 按路径跳过
func skipper(paths []string) func(*gin.Context) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(c *gin.Context) bool {
		_, ok := set[c.Request.URL.Path]
		return ok
	}
}
