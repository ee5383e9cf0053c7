package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/tokmz/huddle/pkg/auth"
	"github.com/tokmz/huddle/pkg/errors"
)

const claimsKey = "huddle.claims"

// Auth 校验 Authorization 头中的 Bearer 令牌，身份声明存入上下文
func Auth(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			Error(c, errors.ErrTokenMissing)
			return
		}
		claims, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			Error(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Claims 取出 Auth 写入的身份声明
func Claims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// Error 按错误类别的状态码结束请求
func Error(c *gin.Context, err error) {
	abort(c, errors.KindOf(err).HTTPStatus(), err)
}
