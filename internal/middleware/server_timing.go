package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ServerTiming 在响应头发出时追加 total;dur=<毫秒>
func ServerTiming(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		add := func(h http.Header) {
			h.Add("Server-Timing", FormatTiming("total", time.Since(start)))
		}

		rw := wrapResponse(w)
		rw.beforeHeader = append(rw.beforeHeader, add)
		next.ServeHTTP(rw, r)

		if !rw.wroteHeader {
			add(w.Header())
		}
	})
}

// FormatTiming 毫秒保留一位小数
func FormatTiming(name string, d time.Duration) string {
	return fmt.Sprintf("%s;dur=%.1f", name, float64(d.Microseconds())/1000)
}

// TimingEntry Server-Timing 中的一个带 dur 的条目
type TimingEntry struct {
	Name     string
	Duration float64
}

// ParseServerTiming 解析一个 Server-Timing 头的值，没有 dur 参数的条目被忽略
func ParseServerTiming(value string) []TimingEntry {
	var entries []TimingEntry
	for _, item := range strings.Split(value, ",") {
		sections := strings.Split(item, ";")
		name := strings.TrimSpace(sections[0])
		if name == "" {
			continue
		}
		for _, sec := range sections[1:] {
			sec = strings.TrimSpace(sec)
			if !strings.HasPrefix(sec, "dur=") {
				continue
			}
			d, err := strconv.ParseFloat(strings.Trim(sec[len("dur="):], `"`), 64)
			if err != nil {
				continue
			}
			entries = append(entries, TimingEntry{Name: name, Duration: d})
		}
	}
	return entries
}
