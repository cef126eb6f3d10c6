package middleware

import (
	"net/http"

	"fpm-gateway/internal/router"
)

// SecureRedirect 明文 GET 请求访问列表中的主机时跳转到 https，不调用后续处理器
func SecureRedirect(hosts []string) func(http.Handler) http.Handler {
	secure := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		secure[router.NormalizeHost(h)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := router.NormalizeHost(r.Host)
			if r.TLS == nil && r.Method == http.MethodGet && secure[host] {
				http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
