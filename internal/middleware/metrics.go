package middleware

import (
	"net/http"

	"fpm-gateway/internal/config"
	"fpm-gateway/internal/metrics"
	"fpm-gateway/internal/router"
)

// ServerTimingMetrics 请求结束后把响应的 Server-Timing 条目记录为指标，只统计配置中的域名
func ServerTimingMetrics(rec metrics.Recorder, domains []config.MetricDomain) func(http.Handler) http.Handler {
	aliases := make(map[string]string, len(domains))
	for _, d := range domains {
		aliases[router.NormalizeHost(d.Host)] = d.Name()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			alias, ok := aliases[router.NormalizeHost(r.Host)]
			if !ok {
				return
			}
			for _, v := range w.Header().Values("Server-Timing") {
				for _, e := range ParseServerTiming(v) {
					rec.AddMetric(metrics.ServerTimingIdentity(alias, e.Name), e.Duration)
				}
			}
		})
	}
}
