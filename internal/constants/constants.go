package constants

import (
	"fpm-gateway/internal/config"
	"time"
)

var (
	// CGI 协议相关
	ScriptSuffix     = ".php"      // 交给解释器执行的文件后缀
	IndexScript      = "index.php" // 目录索引脚本
	NotFoundScript   = "404.php"   // fixed-404-script 默认脚本
	FrontController  = "index.php" // front-controller 默认脚本
	ServerSoftware   = "fpm-gateway"
	GatewayInterface = "CGI/1.1"
	DefaultProtocol  = "HTTP/1.1"
	RedirectStatus   = "200"

	// 解释器连接相关
	DialTimeout     = 5 * time.Second  // 建立连接超时
	ExchangeTimeout = 60 * time.Second // 解释器连接读写空闲超时
	MaxConns        = 64               // 每个解释器端点的最大并发连接数
	StderrLimit     = 64 * KB          // 诊断输出最多保留的字节数

	// 指标相关
	MetricFlushInterval = 60 * time.Second // 按整分钟对齐刷新
	MaxValuesPerRecord  = 150              // 每条记录最多的样本数
	MaxRecordsPerSend   = 1000             // 每次发送最多的记录数
	MetricsNamespace    = "DTS"
	MetricsRegion       = "ap-east-1"
	MetricsRetention    = 90 * 24 * time.Hour // 本地 SQLite 指标保留时间

	// 响应相关
	StreamBufferSize = 32 * KB // 响应体流式转发缓冲区
	HeaderLineLimit  = 1 * MB  // 单个响应头行的最大长度

	// 监听相关，不设置 WriteTimeout，响应体是流式的
	ReadHeaderTimeout = 10 * time.Second
	IdleTimeout       = 120 * time.Second
	ShutdownTimeout   = 15 * time.Second

	// 证书相关
	CertReloadDebounce = 2 * time.Second // 文件变化平息后再重新加载
	CertPollInterval   = 10 * time.Minute

	// 单位常量
	KB = 1024
	MB = 1024 * KB
)

// UpdateFromConfig 从配置文件更新常量
func UpdateFromConfig(cfg *config.Config) {
	if cfg.FastCGI.DialTimeout > 0 {
		DialTimeout = cfg.FastCGI.DialTimeout.Duration()
	}
	if cfg.FastCGI.Timeout > 0 {
		ExchangeTimeout = cfg.FastCGI.Timeout.Duration()
	}
	if cfg.FastCGI.MaxConns > 0 {
		MaxConns = cfg.FastCGI.MaxConns
	}

	if cfg.Metrics.Namespace != "" {
		MetricsNamespace = cfg.Metrics.Namespace
	}
	if cfg.Metrics.Region != "" {
		MetricsRegion = cfg.Metrics.Region
	}
	if cfg.Metrics.MaxValuesPerRecord > 0 {
		MaxValuesPerRecord = cfg.Metrics.MaxValuesPerRecord
	}
	if cfg.Metrics.Retention > 0 {
		MetricsRetention = cfg.Metrics.Retention.Duration()
	}
}
