package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSConfig 跨域配置，作用于 /stats 等 HTTP 接口
type CORSConfig struct {
	// AllowOrigins 允许的源（默认 ["*"]），支持 "https://*.example.com"
	AllowOrigins []string `mapstructure:"allow_origins"`

	// AllowMethods 允许的方法
	AllowMethods []string `mapstructure:"allow_methods"`

	// AllowHeaders 允许的请求头
	AllowHeaders []string `mapstructure:"allow_headers"`

	// AllowCredentials 是否允许携带凭证，不能与 ["*"] 同时使用
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge 预检缓存时间（默认 12 小时）
	MaxAge time.Duration `mapstructure:"max_age"`
}

// DefaultCORSConfig 返回默认配置
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
}

// CORS 跨域中间件
func CORS(cfg *CORSConfig) gin.HandlerFunc {
	d := DefaultCORSConfig()
	if cfg == nil {
		cfg = d
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = d.AllowOrigins
	}
	if len(cfg.AllowMethods) == 0 {
		cfg.AllowMethods = d.AllowMethods
	}
	if len(cfg.AllowHeaders) == 0 {
		cfg.AllowHeaders = d.AllowHeaders
	}

	allowAll := len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*"
	if cfg.AllowCredentials && allowAll {
		panic("middleware: CORS AllowCredentials cannot be used with AllowOrigins [\"*\"]")
	}
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	exact := make(map[string]struct{})
	var wildcards []string
	for _, origin := range cfg.AllowOrigins {
		if strings.Contains(origin, "*") {
			wildcards = append(wildcards, origin)
		} else {
			exact[origin] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || (!allowAll && !matchOrigin(origin, exact, wildcards)) {
			c.Next()
			return
		}

		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func matchOrigin(origin string, exact map[string]struct{}, wildcards []string) bool {
	if _, ok := exact[origin]; ok {
		return true
	}
	for _, pattern := range wildcards {
		prefix, suffix, _ := strings.Cut(pattern, "*")
		if len(origin) > len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}
