package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gowvp/recap/internal/conf"
)

// Run 组装依赖并启动 http 服务，返回优雅退出函数
func Run(bc *conf.Bootstrap) (func(ctx context.Context), error) {
	handler, cleanup, err := wireApp(bc)
	if err != nil {
		return nil, fmt.Errorf("wire app: %w", err)
	}

	srv := http.Server{
		Addr:              fmt.Sprintf(":%d", bc.Server.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server exited", "err", err)
		}
	}()

	return func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("http server shutdown", "err", err)
		}
		cleanup()
	}, nil
}
