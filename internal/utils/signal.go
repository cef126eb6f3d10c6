package utils

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SetupCloseHandler 第一次收到 SIGINT/SIGTERM 时取消返回的 context，第二次直接退出
func SetupCloseHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-c:
			slog.Info("[Signal] 收到退出信号，开始关闭", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			signal.Stop(c)
			return
		}

		sig := <-c
		slog.Warn("[Signal] 再次收到退出信号，强制退出", "signal", sig.String())
		os.Exit(1)
	}()

	return ctx, cancel
}
