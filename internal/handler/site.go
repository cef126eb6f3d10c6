package handler

import (
	"log/slog"
	"net/http"

	"fpm-gateway/internal/models"
	"fpm-gateway/internal/service"
)

// SiteHandler 脚本站点：按解析结果执行脚本、输出静态文件、跳转目录或交给重写链
type SiteHandler struct {
	vhost    *models.VirtualHost
	resolver *service.ResolverService
	gateway  service.Invoker
	rewrite  service.RewriteStrategy
	static   *StaticHandler
}

// NewSiteHandler 创建脚本站点处理器，rewrite 可以为 nil
func NewSiteHandler(vh *models.VirtualHost, resolver *service.ResolverService, gateway service.Invoker, rewrite service.RewriteStrategy) *SiteHandler {
	return &SiteHandler{
		vhost:    vh,
		resolver: resolver,
		gateway:  gateway,
		rewrite:  rewrite,
		static:   &StaticHandler{root: vh.DocumentRoot},
	}
}

func (h *SiteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := models.NewRequestDescriptor(r)

	res, err := h.resolver.Resolve(req, h.vhost)
	if err != nil {
		slog.Error("[Site] 路径解析失败", "host", h.vhost.Name, "url", r.RequestURI, "error", err)
		service.WriteInternalError(w)
		return
	}

	switch res.Disposition {
	case service.DispositionDirectoryRedirect:
		http.Redirect(w, r, res.Location, http.StatusMovedPermanently)
		return

	case service.DispositionScript, service.DispositionIndex:
		h.gateway.Invoke(w, r, req, service.InvokeOptions{Override: res.Override})
		return

	case service.DispositionStatic:
		if h.static.ServeFile(w, r, h.vhost.DocumentRoot) {
			return
		}
	}

	if h.rewrite != nil && h.rewrite.Rewrite(w, r, req, h.gateway, h.vhost.DocumentRoot) {
		return
	}
	http.NotFound(w, r)
}
