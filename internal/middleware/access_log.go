package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/woodchen-ink/go-web-utils/iputil"

	"fpm-gateway/internal/utils"
)

// AccessLog 每个请求一行访问日志，并通过 X-Request-Id 返回请求编号
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		rw := wrapResponse(w)
		next.ServeHTTP(rw, r)

		slog.Info("[Access]",
			"id", id,
			"method", r.Method,
			"status", rw.Status(),
			"duration", time.Since(start),
			"ip", iputil.GetClientIP(r),
			"bytes", utils.FormatBytes(rw.bytes),
			"host", r.Host,
			"path", r.URL.Path,
		)
	})
}
