package initapp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"fpm-gateway/internal/certstore"
	"fpm-gateway/internal/compression"
	"fpm-gateway/internal/config"
	"fpm-gateway/internal/constants"
	"fpm-gateway/internal/fastcgi"
	"fpm-gateway/internal/handler"
	"fpm-gateway/internal/metrics"
	"fpm-gateway/internal/middleware"
	"fpm-gateway/internal/models"
	"fpm-gateway/internal/router"
	"fpm-gateway/internal/service"
)

// App 由配置组装出的处理器树
type App struct {
	Handler http.Handler // 主端口的完整中间件链
	Admin   http.Handler // 管理端口，未配置时为 nil
	Router  *router.DomainRouter
	Pools   map[string]*fastcgi.Pool // 端点 -> 连接池，相同端点的站点共享
}

// Build 按配置创建所有站点处理器并挂到域名路由上，rec 为 nil 时不统计指标
func Build(cfg *config.Config, rec metrics.Recorder) (*App, error) {
	slog.Info("[Init] 开始组装站点...")

	app := &App{
		Router: router.NewDomainRouter(handler.NewStaticHandler(cfg.DefaultRoot)),
		Pools:  make(map[string]*fastcgi.Pool),
	}

	fs := service.OSFileSystem{}
	resolver := service.NewResolverService(fs)
	sites := make(map[string]http.Handler)

	names := cfg.HostNames()
	// 先创建实体站点，别名在第二轮指向同一个处理器
	for _, name := range names {
		hc := cfg.Hosts[name]
		var h http.Handler
		switch {
		case hc.DocumentRoot != "":
			vh := models.NewVirtualHost(name, hc, slices.Contains(cfg.TLS.Hosts, name))
			pool, err := app.pool(vh.Endpoint, cfg.FastCGI)
			if err != nil {
				return nil, fmt.Errorf("host %s: %w", name, err)
			}
			gateway := service.NewGatewayService(vh, pool)
			h = handler.NewSiteHandler(vh, resolver, gateway, service.NewRewriteStrategy(vh.Rewrite, fs))
			slog.Info("[Init] 脚本站点", "host", name, "root", vh.DocumentRoot, "fastcgi", vh.Endpoint, "rewrite", vh.Rewrite.Strategy)
		case hc.StaticRoot != "":
			h = handler.NewStaticHandler(hc.StaticRoot)
			slog.Info("[Init] 静态站点", "host", name, "root", hc.StaticRoot)
		case hc.RedirectTo != "":
			h = handler.NewRedirectHandler(hc.RedirectTo)
			slog.Info("[Init] 跳转站点", "host", name, "to", hc.RedirectTo)
		default:
			continue
		}
		sites[name] = h
	}

	for _, name := range names {
		hc := cfg.Hosts[name]
		if hc.Alias == "" {
			continue
		}
		target, ok := sites[hc.Alias]
		if !ok {
			return nil, fmt.Errorf("host %s: alias target %s is not configured", name, hc.Alias)
		}
		sites[name] = target
		slog.Info("[Init] 别名站点", "host", name, "alias", hc.Alias)
	}

	for _, name := range names {
		if err := app.Router.Handle(name, sites[name]); err != nil {
			return nil, err
		}
	}

	app.Handler = middleware.Chain(app.Router, mainMiddlewares(cfg, rec)...)

	if cfg.Admin.Listen != "" {
		h, ok := app.Router.Lookup(cfg.Admin.Host)
		if !ok {
			return nil, fmt.Errorf("admin host %s has no handler", cfg.Admin.Host)
		}
		app.Admin = middleware.Chain(h, adminMiddlewares(cfg)...)
	}

	slog.Info("[Init] 站点组装完成", "hosts", len(names), "pools", len(app.Pools))
	return app, nil
}

func (a *App) pool(endpoint string, cfg config.FastCGIConfig) (*fastcgi.Pool, error) {
	if p, ok := a.Pools[endpoint]; ok {
		return p, nil
	}
	p, err := fastcgi.NewPool(endpoint, fastcgi.Options{
		DialTimeout: constants.DialTimeout,
		Timeout:     constants.ExchangeTimeout,
		MaxConns:    constants.MaxConns,
		Retry:       retryConfig(cfg.Retry),
	})
	if err != nil {
		return nil, err
	}
	a.Pools[endpoint] = p
	return p, nil
}

func retryConfig(rc config.RetryConfig) fastcgi.RetryConfig {
	out := fastcgi.DefaultRetryConfig
	if rc.MaxRetries > 0 {
		out.MaxRetries = rc.MaxRetries
	}
	if rc.InitialDelay > 0 {
		out.InitialDelay = rc.InitialDelay.Duration()
	}
	if rc.MaxDelay > 0 {
		out.MaxDelay = rc.MaxDelay.Duration()
	}
	return out
}

func compressionEnabled(cfg *config.Config) bool {
	return cfg.Compression.Gzip.Enabled || cfg.Compression.Brotli.Enabled
}

// mainMiddlewares 第一个在最外层；指标要在 ServerTiming 之外才能看到 total
func mainMiddlewares(cfg *config.Config, rec metrics.Recorder) []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{middleware.AccessLog}
	if rec != nil {
		mws = append(mws, middleware.ServerTimingMetrics(rec, cfg.Metrics.Domains))
	}
	mws = append(mws, middleware.ServerTiming)
	if len(cfg.SecureRedirect) > 0 {
		mws = append(mws, middleware.SecureRedirect(cfg.SecureRedirect))
	}
	if compressionEnabled(cfg) {
		mws = append(mws, middleware.CompressionMiddleware(compression.NewManager(cfg.Compression)))
	}
	return mws
}

func adminMiddlewares(cfg *config.Config) []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{middleware.AccessLog, middleware.ServerTiming}
	if compressionEnabled(cfg) {
		mws = append(mws, middleware.CompressionMiddleware(compression.NewManager(cfg.Compression)))
	}
	return mws
}

// Certificates 加载 TLS 主机的证书。返回的 watch 在后台运行直到 ctx 取消，
// 未配置 TLS 主机时 store 为 nil
func Certificates(ctx context.Context, cfg *config.Config) (store *certstore.Store, watch func(context.Context), err error) {
	if len(cfg.TLS.Hosts) == 0 {
		return nil, nil, nil
	}

	store = certstore.NewStore()
	tc := cfg.TLS

	if tc.S3.Bucket != "" {
		src, err := certstore.NewS3Source(ctx, tc.S3, tc.CertFile, tc.KeyFile)
		if err != nil {
			return nil, nil, err
		}
		if err := store.LoadAll(ctx, src, tc.Hosts); err != nil {
			return nil, nil, err
		}
		if tc.Watch {
			watch = func(ctx context.Context) {
				src.Poll(ctx, store, tc.Hosts, constants.CertPollInterval)
			}
		}
		return store, watch, nil
	}

	src := &certstore.FileSource{Dir: tc.CertDir, CertFile: tc.CertFile, KeyFile: tc.KeyFile}
	if err := store.LoadAll(ctx, src, tc.Hosts); err != nil {
		return nil, nil, err
	}
	if tc.Watch {
		watch = func(ctx context.Context) {
			if err := src.Watch(ctx, store, tc.Hosts, constants.CertReloadDebounce); err != nil {
				slog.Error("[CertStore] 无法监听证书目录", "error", err)
			}
		}
	}
	return store, watch, nil
}

// TLSConfig store 为 nil 时返回 nil
func TLSConfig(store *certstore.Store) *tls.Config {
	if store == nil {
		return nil
	}
	return store.TLSConfig()
}
