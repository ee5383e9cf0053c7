package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/logger"
	"github.com/tokmz/huddle/pkg/ratelimit"
)

// RateLimitConfig HTTP 限流配置
type RateLimitConfig struct {
	// Action 计数键使用的类别（默认 "http"，沿用一般消息的预算）
	Action ratelimit.Action

	// KeyFunc 限流标识（默认客户端 IP）
	KeyFunc func(*gin.Context) string

	// ExcludePaths 不限流的路径
	ExcludePaths []string

	// Logger 日志
	Logger logger.Logger
}

// RateLimit 基于共享存储的固定窗口限流，多实例共用同一预算
// 存储不可用时放行请求
func RateLimit(limiter *ratelimit.Limiter, cfgs ...*RateLimitConfig) gin.HandlerFunc {
	cfg := &RateLimitConfig{}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	if cfg.Action == "" {
		cfg.Action = "http"
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("http")
	skip := skipper(cfg.ExcludePaths)

	return func(c *gin.Context) {
		if skip(c) {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		err := limiter.Allow(c.Request.Context(), cfg.Action, key)
		switch {
		case err == nil:
			if left, err := limiter.Remaining(c.Request.Context(), cfg.Action, key); err == nil {
				c.Header("X-RateLimit-Remaining", strconv.FormatInt(left, 10))
			}
			c.Next()
		case errors.KindOf(err) == errors.KindRateLimited:
			retry := errors.From(err).RetryAfter
			log.Warn("rate limit exceeded", zap.String("key", key), zap.String("path", c.Request.URL.Path))
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds()+0.999)))
			abort(c, http.StatusTooManyRequests, err)
		default:
			log.Error("rate limiter unavailable", zap.Error(err))
			c.Next()
		}
	}
}
