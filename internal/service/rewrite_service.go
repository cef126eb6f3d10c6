package service

import (
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"fpm-gateway/internal/cgi"
	"fpm-gateway/internal/config"
	"fpm-gateway/internal/constants"
	"fpm-gateway/internal/models"
)

// RewriteStrategy 未匹配到文件时的兜底处理。返回 false 表示放弃，由调用方返回 404
type RewriteStrategy interface {
	Rewrite(w http.ResponseWriter, r *http.Request, req *models.RequestDescriptor, inv Invoker, root string) bool
}

// NewRewriteStrategy 根据站点配置创建重写策略，未配置时返回 nil
func NewRewriteStrategy(cfg config.RewriteConfig, fs FileSystem) RewriteStrategy {
	switch cfg.Strategy {
	case config.RewriteFixed404Script:
		script := cfg.Script
		if script == "" {
			script = constants.NotFoundScript
		}
		return &Fixed404Script{Script: script, fs: fs}
	case config.RewriteFrontController:
		script := cfg.Script
		if script == "" {
			script = constants.FrontController
		}
		return &FrontController{Script: script}
	default:
		return nil
	}
}

// Fixed404Script 在请求路径所在目录查找固定脚本，执行后状态码强制为 404
type Fixed404Script struct {
	Script string
	fs     FileSystem
}

func (s *Fixed404Script) Rewrite(w http.ResponseWriter, r *http.Request, req *models.RequestDescriptor, inv Invoker, root string) bool {
	document, _, _ := cgi.SplitTarget(req.Target)
	_, scriptName, err := cgi.ResolveScript(root, document)
	if err != nil {
		return false
	}

	dir := scriptName
	if !strings.HasSuffix(document, "/") {
		dir = path.Dir(scriptName)
	}
	script := path.Join(dir, s.Script)

	if !s.fs.Access(filepath.Join(root, filepath.FromSlash(script))) {
		slog.Debug("[Rewrite] 未找到 404 脚本", "script", script)
		return false
	}

	inv.Invoke(w, r, req, InvokeOptions{
		Override:    &cgi.Override{Script: script},
		ForceStatus: http.StatusNotFound,
	})
	return true
}

// FrontController 无条件执行文档根下的单一入口脚本，原始路径作为 DOCUMENT_URI 传入
type FrontController struct {
	Script string
}

func (s *FrontController) Rewrite(w http.ResponseWriter, r *http.Request, req *models.RequestDescriptor, inv Invoker, _ string) bool {
	document, _, _ := cgi.SplitTarget(req.Target)
	inv.Invoke(w, r, req, InvokeOptions{
		Override: &cgi.Override{Script: "/" + s.Script, Document: document},
	})
	return true
}
