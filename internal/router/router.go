package router

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// DomainRouter 按主机名分发请求，未知主机交给默认处理器。启动后只读
type DomainRouter struct {
	routes   map[string]http.Handler
	fallback http.Handler
}

// NewDomainRouter 创建域名路由，fallback 处理所有未注册的主机名
func NewDomainRouter(fallback http.Handler) *DomainRouter {
	return &DomainRouter{
		routes:   make(map[string]http.Handler),
		fallback: fallback,
	}
}

// Handle 注册主机名，别名主机传入同一个 handler
func (dr *DomainRouter) Handle(host string, h http.Handler) error {
	name := NormalizeHost(host)
	if name == "" {
		return fmt.Errorf("invalid host %q", host)
	}
	if _, exists := dr.routes[name]; exists {
		return fmt.Errorf("host %q registered twice", name)
	}
	dr.routes[name] = h
	return nil
}

// Lookup 查找主机对应的处理器，host 可以带端口
func (dr *DomainRouter) Lookup(host string) (http.Handler, bool) {
	h, ok := dr.routes[NormalizeHost(host)]
	return h, ok
}

// Hosts 返回已注册的主机名，按字母排序
func (dr *DomainRouter) Hosts() []string {
	hosts := make([]string, 0, len(dr.routes))
	for h := range dr.routes {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func (dr *DomainRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := dr.Lookup(r.Host); ok {
		h.ServeHTTP(w, r)
		return
	}
	slog.Debug("[Router] 未知主机，使用默认站点", "host", r.Host)
	dr.fallback.ServeHTTP(w, r)
}

// NormalizeHost 去掉端口和末尾的点，转成小写 ASCII 形式
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return ""
	}

	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return strings.ToLower(host)
}
