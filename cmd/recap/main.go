package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gowvp/recap/internal/app"
	"github.com/gowvp/recap/internal/conf"
)

// buildVersion 构建时通过 ldflags 注入
var buildVersion = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "conf", filepath.Join("configs", "config.toml"), "配置文件路径")
	flag.Parse()

	bc, err := conf.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	bc.BuildVersion = buildVersion

	slog.SetDefault(setupLogger(bc.Debug))

	shutdown, err := app.Run(bc)
	if err != nil {
		slog.Error("启动失败", "err", err)
		os.Exit(1)
	}
	slog.Info("服务已启动", "version", buildVersion, "port", bc.Server.HTTP.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("收到退出信号，开始优雅关闭")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdown(ctx)
}

// setupLogger 调试模式输出文本日志，生产输出 JSON
func setupLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := slog.HandlerOptions{Level: level}
	if debug {
		return slog.New(slog.NewTextHandler(os.Stdout, &opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &opts))
}
