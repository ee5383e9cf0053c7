package huddle

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/huddle/middleware"
	"github.com/tokmz/huddle/pkg/auth"
	"github.com/tokmz/huddle/pkg/ws"
)

const (
	pathWS      = "/ws"
	pathHealthz = "/healthz"
	pathReadyz  = "/readyz"
)

// newRouter 注册中间件和路由
func (e *Engine) newRouter() *gin.Engine {
	s := e.settings
	gin.SetMode(s.Server.Mode)
	silenceGin()

	r := gin.New()
	if s.Server.TrustedProxies != nil {
		if err := r.SetTrustedProxies(s.Server.TrustedProxies); err != nil {
			e.log.Warn("invalid trusted proxies", zap.Error(err))
			_ = r.SetTrustedProxies(nil)
		}
	}

	healthPaths := []string{pathHealthz, pathReadyz}
	cors := s.CORS
	r.Use(
		middleware.Recovery(e.log),
		middleware.Tracing(&middleware.TracingConfig{ExcludePaths: healthPaths}),
		middleware.Logger(e.log, &middleware.LoggerConfig{ExcludePaths: healthPaths}),
		middleware.CORS(&cors),
	)
	if s.Server.RateLimit {
		// 升级路由在握手时按 connect 预算单独限流
		r.Use(middleware.RateLimit(e.limiter, &middleware.RateLimitConfig{
			ExcludePaths: append(healthPaths, pathWS),
			Logger:       e.log,
		}))
	}

	r.GET(pathWS, e.upgrade)
	r.GET(pathHealthz, e.healthz)
	r.GET(pathReadyz, e.readyz)
	r.GET("/stats", e.stats)
	r.POST("/auth/revoke", middleware.Auth(e.verifier), e.revoke)

	if e.invites != nil {
		g := r.Group("/rooms/:room_id/invites", middleware.Auth(e.verifier), e.roomOwner)
		g.GET("", e.listInvites)
		g.PUT("/:user_id", e.addInvite)
		g.DELETE("/:user_id", e.removeInvite)
	}
	return r
}

// upgrade 升级为 WebSocket，认证失败的结果由连接管理器写回
func (e *Engine) upgrade(c *gin.Context) {
	_ = e.manager.HandleUpgrade(c.Writer, ws.WithClientIP(c.Request, c.ClientIP()))
}

func (e *Engine) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readyz 共享存储可用时就绪
func (e *Engine) readyz(c *gin.Context) {
	if err := e.store.Ping(c.Request.Context()); err != nil {
		e.log.Warn("store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (e *Engine) stats(c *gin.Context) {
	st, err := e.manager.Stats(c.Request.Context())
	if err != nil {
		middleware.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// revoke 登出：吊销当前令牌并结束该用户的全部会话，之后的握手返回 revoked
func (e *Engine) revoke(c *gin.Context) {
	ctx := c.Request.Context()
	token := auth.BearerToken(c.GetHeader("Authorization"))
	if err := e.verifier.Revoke(ctx, token); err != nil {
		middleware.Error(c, err)
		return
	}
	claims, _ := middleware.Claims(c)
	if _, err := e.manager.Logout(ctx, claims.UserID); err != nil {
		middleware.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// roomOwner 仅房主可管理邀请名单
func (e *Engine) roomOwner(c *gin.Context) {
	roomID := c.Param("room_id")
	if err := e.validate.RoomID(roomID); err != nil {
		middleware.Error(c, err)
		return
	}
	claims, _ := middleware.Claims(c)
	if _, err := e.manager.Rooms().GetPermissions(c.Request.Context(), roomID, claims.UserID); err != nil {
		middleware.Error(c, err)
		return
	}
	c.Next()
}

func (e *Engine) listInvites(c *gin.Context) {
	ids, err := e.invites.List(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		middleware.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": c.Param("room_id"), "users": ids})
}

func (e *Engine) addInvite(c *gin.Context) {
	userID := c.Param("user_id")
	if err := e.validate.Text("user_id", userID); err != nil {
		middleware.Error(c, err)
		return
	}
	claims, _ := middleware.Claims(c)
	if err := e.invites.Add(c.Request.Context(), c.Param("room_id"), userID, claims.UserID); err != nil {
		middleware.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (e *Engine) removeInvite(c *gin.Context) {
	if err := e.invites.Remove(c.Request.Context(), c.Param("room_id"), c.Param("user_id")); err != nil {
		middleware.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
