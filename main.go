package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sourcegraph/conc"

	"fpm-gateway/internal/config"
	"fpm-gateway/internal/constants"
	"fpm-gateway/internal/initapp"
	"fpm-gateway/internal/logger"
	"fpm-gateway/internal/metrics"
	"fpm-gateway/internal/server"
	"fpm-gateway/internal/utils"
)

const defaultConfigPath = "data/config.json"

// options 命令行参数
type options struct {
	Config   string   `short:"c" long:"config" description:"config file (.json or .yaml), defaults to $GATEWAY_CONFIG or data/config.json"`
	EnvFile  []string `long:"env-file" description:"env file to load before reading config" default:".env"`
	Check    bool     `long:"check" description:"validate config and exit"`
	LogLevel string   `long:"log-level" description:"debug, info, warn or error; overrides config"`
}

func main() {
	opt := &options{}
	parser := flags.NewParser(opt, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger.Init(opt.LogLevel)

	if err := run(opt); err != nil {
		slog.Error("[Main] 启动失败", "error", err)
		os.Exit(1)
	}
}

func run(opt *options) error {
	if err := config.LoadEnv(opt.EnvFile...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	configPath := opt.Config
	if configPath == "" {
		configPath = os.Getenv("GATEWAY_CONFIG")
	}
	if configPath == "" {
		configPath = defaultConfigPath
	}

	configManager, err := config.Init(configPath)
	if err != nil {
		return err
	}
	cfg := configManager.GetConfig()

	if opt.LogLevel == "" {
		logger.SetLevel(cfg.Log.Level)
	}
	constants.UpdateFromConfig(cfg)

	if opt.Check {
		slog.Info("[Main] 配置检查通过", "config", configPath, "hosts", len(cfg.Hosts))
		return nil
	}

	ctx, cancel := utils.SetupCloseHandler(context.Background())
	defer cancel()

	agent, sink, err := metrics.Init(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// agent 为 nil 时不能转成非 nil 的接口值
	var rec metrics.Recorder
	if agent != nil {
		rec = agent
	}
	app, err := initapp.Build(cfg, rec)
	if err != nil {
		return err
	}

	store, watchCerts, err := initapp.Certificates(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load certificates: %w", err)
	}

	srv, err := server.New(app.Handler, server.Options{
		HTTP:         cfg.Listen.HTTP,
		HTTPS:        cfg.Listen.HTTPS,
		H2C:          cfg.Listen.H2C,
		TLS:          initapp.TLSConfig(store),
		AdminListen:  cfg.Admin.Listen,
		AdminHandler: app.Admin,
	})
	if err != nil {
		return err
	}

	var wg conc.WaitGroup
	if agent != nil {
		wg.Go(func() { agent.Run(ctx) })
	}
	if watchCerts != nil {
		wg.Go(func() { watchCerts(ctx) })
	}

	start := time.Now()
	slog.Info("[Main] 服务已启动", "listen", srv.Addrs())
	serveErr := srv.Serve(ctx)
	if serveErr != nil {
		// 监听失败时也要让后台任务退出
		cancel()
	}

	// Run 在 ctx 取消后会做最后一次刷新
	wg.Wait()
	if c, ok := sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("[Main] 关闭指标存储失败", "error", err)
		}
	}

	slog.Info("[Main] 服务已停止", "uptime", time.Since(start).Round(time.Second).String())
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}
