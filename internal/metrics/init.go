package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"fpm-gateway/internal/config"
	"fpm-gateway/internal/constants"
)

// NewSink 按配置创建指标接收方
func NewSink(ctx context.Context, cfg config.MetricsConfig) (Sink, error) {
	switch cfg.Sink {
	case config.SinkCloudWatch, "":
		return NewCloudWatchSink(ctx, constants.MetricsRegion)
	case config.SinkSQLite:
		return OpenSQLiteSink(cfg.SQLitePath, constants.MetricsRetention)
	default:
		return nil, fmt.Errorf("unknown metrics sink %q", cfg.Sink)
	}
}

// Init 创建聚合器，未启用时返回 nil
func Init(ctx context.Context, cfg *config.Config) (*Agent, Sink, error) {
	if !cfg.Metrics.Enabled {
		slog.Info("[Metrics] 指标未启用")
		return nil, nil, nil
	}

	sink, err := NewSink(ctx, cfg.Metrics)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("[Metrics] 初始化完成", "sink", cfg.Metrics.Sink, "namespace", constants.MetricsNamespace, "domains", len(cfg.Metrics.Domains))
	return NewAgent(sink, constants.MetricsNamespace), sink, nil
}
