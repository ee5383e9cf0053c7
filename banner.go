package huddle

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 版本号
const Version = "0.1.0"

const banner = `
  _               _     _ _
 | |__  _   _  __| | __| | | ___    real-time connection & room engine
 | '_ \| | | |/ _' |/ _' | |/ _ \   ws:      %s
 | | | | |_| | (_| | (_| | |  __/   store:   %s
 |_| |_|\__,_|\__,_|\__,_|_|\___|   version: %s
`

// printBanner 打印启动信息和路由表
func (e *Engine) printBanner(out io.Writer, addr string) {
	fPrint(out, banner, wsURL(addr), e.settings.Store.Driver, Version)
	fPrint(out, "\n")

	if routes := e.router.Routes(); len(routes) > 0 {
		printRoutes(out, routes)
		fPrint(out, "\n")
	}

	if mode := e.settings.Server.Mode; mode == gin.DebugMode {
		fPrint(out, "[huddle] Running in %q mode. Switch to \"release\" mode in production.\n", mode)
	}
	fPrint(out, "[huddle] Go version: %s | OS: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fPrint(out, "[huddle] Listening on %s\n", addr)
}

// wsURL 监听地址对应的升级地址
func wsURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, ":"):
		return "ws://127.0.0.1" + addr + pathWS
	case strings.Contains(addr, ":"):
		return "ws://" + addr + pathWS
	default:
		return "ws://127.0.0.1:" + addr + pathWS
	}
}

// printRoutes 对齐打印路由表
func printRoutes(out io.Writer, routes gin.RoutesInfo) {
	width := 0
	for _, r := range routes {
		width = max(width, len(r.Path))
	}
	for _, r := range routes {
		fPrint(out, "[huddle] %-7s %-*s --> %s\n", r.Method, width, r.Path, r.Handler)
	}
}

// silenceGin 关闭 gin 自带的输出，访问日志由 middleware.Logger 记录
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
