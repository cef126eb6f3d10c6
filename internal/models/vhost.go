package models

import (
	"fpm-gateway/internal/config"
	"fpm-gateway/internal/constants"
	"path/filepath"
)

// VirtualHost 站点配置，启动时创建后只读，别名主机共享同一个指针
type VirtualHost struct {
	Name         string // 配置中的主机名
	DocumentRoot string // 绝对路径，已清理
	Endpoint     string // FastCGI 端点，例如 tcp://127.0.0.1:9000
	IndexScript  string
	Rewrite      config.RewriteConfig
	TLS          bool
}

// NewVirtualHost 由主机配置创建站点
func NewVirtualHost(name string, hc config.HostConfig, tls bool) *VirtualHost {
	index := hc.IndexScript
	if index == "" {
		index = constants.IndexScript
	}

	rewrite := hc.Rewrite
	if rewrite.Script == "" {
		switch rewrite.Strategy {
		case config.RewriteFixed404Script:
			rewrite.Script = constants.NotFoundScript
		case config.RewriteFrontController:
			rewrite.Script = constants.FrontController
		}
	}

	return &VirtualHost{
		Name:         name,
		DocumentRoot: filepath.Clean(hc.DocumentRoot),
		Endpoint:     hc.FastCGI,
		IndexScript:  index,
		Rewrite:      rewrite,
		TLS:          tls,
	}
}
