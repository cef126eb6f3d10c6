package handler

import (
	"net/http"
)

// RedirectHandler 把所有请求 302 跳转到另一个主机名，保留协议、路径和查询串
type RedirectHandler struct {
	host string
}

// NewRedirectHandler 创建主机名跳转处理器
func NewRedirectHandler(host string) *RedirectHandler {
	return &RedirectHandler{host: host}
}

func (rh *RedirectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, rh.TargetURL(r), http.StatusFound)
}

// TargetURL 计算跳转目标，原请求的端口不保留
func (rh *RedirectHandler) TargetURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	u := *r.URL
	u.Scheme = scheme
	u.Host = rh.host
	return u.String()
}
