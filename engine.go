// Package huddle 实时连接与房间引擎的 HTTP 入口
//
// Engine 组装存储、认证、限流、会话、在线状态、房间注册表和连接管理器，
// 在 gin 上暴露 /ws 升级路由和健康检查，并负责优雅关机。
package huddle

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tokmz/huddle/pkg/auth"
	"github.com/tokmz/huddle/pkg/invite"
	"github.com/tokmz/huddle/pkg/logger"
	"github.com/tokmz/huddle/pkg/orm"
	"github.com/tokmz/huddle/pkg/presence"
	"github.com/tokmz/huddle/pkg/ratelimit"
	"github.com/tokmz/huddle/pkg/room"
	"github.com/tokmz/huddle/pkg/session"
	"github.com/tokmz/huddle/pkg/store"
	"github.com/tokmz/huddle/pkg/tracing"
	"github.com/tokmz/huddle/pkg/validator"
	"github.com/tokmz/huddle/pkg/ws"
)

// Engine 应用引擎
type Engine struct {
	settings *Settings
	log      logger.Logger

	router *gin.Engine
	server *http.Server

	store    store.Store
	db       *gorm.DB
	invites  *invite.Repository
	validate *validator.Validator
	verifier *auth.JWTVerifier
	limiter  *ratelimit.Limiter
	manager  *ws.Manager
	metrics  *ws.Counters

	// 后台任务
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closeErrs []error
}

// New 按配置创建引擎，任何组件初始化失败都会释放已创建的资源
func New(ctx context.Context, s *Settings, log logger.Logger) (e *Engine, err error) {
	if s == nil {
		s = DefaultSettings()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	e = &Engine{settings: s, log: log, metrics: &ws.Counters{}}
	defer func() {
		if err != nil {
			e.close(context.WithoutCancel(ctx))
		}
	}()

	tc := s.Tracing
	if _, err := tracing.Setup(ctx, &tc); err != nil {
		return nil, err
	}

	sc := s.Store
	if e.store, err = store.New(&sc); err != nil {
		return nil, err
	}
	if err := e.store.Ping(ctx); err != nil {
		return nil, err
	}

	if e.validate, err = validator.New(s.Validator); err != nil {
		return nil, err
	}
	e.verifier, err = auth.NewJWTVerifier(s.Auth, auth.WithRevocation(e.store), auth.WithLogger(log))
	if err != nil {
		return nil, err
	}
	e.limiter = ratelimit.New(e.store, s.RateLimit, log)

	roomOpts := []room.Option{room.WithLogger(log)}
	if s.Database.Enabled {
		if e.db, err = orm.Open(s.Database.Config, log); err != nil {
			return nil, err
		}
		e.invites = invite.NewRepository(e.db, log)
		if s.Database.AutoMigrate {
			if err := e.invites.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		roomOpts = append(roomOpts, room.WithInvites(e.invites))
	}

	e.manager, err = ws.NewManager(ws.Deps{
		Store:     e.store,
		Verifier:  e.verifier,
		Validator: e.validate,
		Limiter:   e.limiter,
		Sessions:  session.NewStore(e.store, s.Session, session.WithLogger(log)),
		Presence:  presence.New(e.store, s.Presence, presence.WithLogger(log)),
		Rooms:     room.New(e.store, e.validate, s.Room, roomOpts...),
		Logger:    log,
	}, ws.WithConfig(s.WS), ws.WithMetrics(e.metrics))
	if err != nil {
		return nil, err
	}
	if e.invites != nil {
		e.manager.Subscribe(ws.SignalRoomDeleted, e.dropInvites)
	}

	e.router = e.newRouter()
	return e, nil
}

// dropInvites 房间删除后清理邀请名单
func (e *Engine) dropInvites(sig ws.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), e.settings.WS.CleanupTimeout)
	defer cancel()
	if err := e.invites.RemoveRoom(ctx, sig.RoomID); err != nil {
		e.log.Warn("remove invites failed", zap.String("room_id", sig.RoomID), zap.Error(err))
	}
}

// Handler 返回 HTTP 处理器，测试时配合 httptest 使用
func (e *Engine) Handler() http.Handler {
	return e.router
}

// Router 返回 gin 引擎，用于挂载自定义路由
func (e *Engine) Router() *gin.Engine {
	return e.router
}

// Manager 返回连接管理器
func (e *Engine) Manager() *ws.Manager {
	return e.manager
}

// Verifier 返回令牌校验器
func (e *Engine) Verifier() *auth.JWTVerifier {
	return e.verifier
}

// Start 启动后台任务：在线状态扫描、空房间清理、空闲连接检查
func (e *Engine) Start(ctx context.Context) {
	if e.done != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		if err := e.manager.Run(ctx); err != nil {
			e.log.Error("background tasks stopped", zap.Error(err))
		}
	}()
}

// Run 启动 HTTP 服务，收到 SIGINT/SIGTERM 或 ctx 取消后优雅关机
func (e *Engine) Run(ctx context.Context) error {
	e.server = &http.Server{
		Addr:           e.settings.Server.Addr,
		Handler:        e.router,
		ReadTimeout:    e.settings.Server.ReadTimeout,
		WriteTimeout:   e.settings.Server.WriteTimeout,
		IdleTimeout:    e.settings.Server.IdleTimeout,
		MaxHeaderBytes: e.settings.Server.MaxHeaderBytes,
	}
	e.Start(ctx)
	e.printBanner(os.Stdout, e.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errChan:
		e.close(context.WithoutCancel(ctx))
		return err
	case sig := <-quit:
		e.log.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		e.log.Info("shutting down", zap.Error(ctx.Err()))
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.settings.Server.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(sctx)
}

// Shutdown 优雅关机：停止接受请求，关闭全部连接并等待清理，最后释放存储和导出剩余 Span
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	if e.server != nil {
		if err := e.server.Shutdown(ctx); err != nil {
			e.log.Error("http server forced to close", zap.Error(err))
			errs = append(errs, err)
		}
	}
	errs = append(errs, e.close(ctx)...)

	e.log.Info("server exited")
	_ = e.log.Sync()
	return errors.Join(errs...)
}

// close 按依赖的逆序释放资源，只执行一次
func (e *Engine) close(ctx context.Context) []error {
	e.closeOnce.Do(func() {
		if e.manager != nil {
			if err := e.manager.Shutdown(ctx); err != nil {
				e.closeErrs = append(e.closeErrs, err)
			}
		}
		if e.cancel != nil {
			e.cancel()
			<-e.done
		}
		if e.db != nil {
			if err := orm.Close(e.db); err != nil {
				e.closeErrs = append(e.closeErrs, err)
			}
		}
		if e.store != nil {
			if err := e.store.Close(); err != nil {
				e.closeErrs = append(e.closeErrs, err)
			}
		}
		if err := tracing.Shutdown(ctx); err != nil {
			e.closeErrs = append(e.closeErrs, err)
		}
	})
	return e.closeErrs
}
