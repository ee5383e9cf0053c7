// Command huddle 启动实时连接与房间服务
//
//	huddle -config ./configs/huddle.yaml
//
// 所有配置项都可以用 HUDDLE_ 前缀的环境变量覆盖，例如 HUDDLE_AUTH_SECRET。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tokmz/huddle"
	"github.com/tokmz/huddle/pkg/config"
	"github.com/tokmz/huddle/pkg/logger"
)

func main() {
	path := flag.String("config", "", "config file path (default: ./huddle.yaml or ./configs/huddle.yaml)")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("huddle", huddle.Version)
		return
	}
	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, "huddle:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	s, cfg, err := huddle.LoadSettings(path)
	if err != nil {
		return err
	}
	defer cfg.Close()

	log, err := s.Log.Build()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if used := cfg.ConfigFileUsed(); used != "" {
		log.Info("config loaded", zap.String("file", used))
		watchLogLevel(cfg, log)
	}

	ctx := context.Background()
	e, err := huddle.New(ctx, s, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	return e.Run(ctx)
}

// watchLogLevel 配置文件变更时热更新日志级别，其余配置需要重启生效
func watchLogLevel(cfg *config.Config, log logger.Logger) {
	cfg.OnChange(func(c *config.Config) {
		level, err := logger.ParseLevel(c.GetString("log.level"))
		if err != nil {
			log.Warn("ignoring log level change", zap.Error(err))
			return
		}
		if level != log.Level() {
			log.SetLevel(level)
			log.Info("log level changed", zap.String("level", level.String()))
		}
	})
	if err := cfg.StartWatch(); err != nil {
		log.Warn("config watch disabled", zap.Error(err))
	}
}
