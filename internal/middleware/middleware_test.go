package middleware

import (
	"compress/gzip"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fpm-gateway/internal/compression"
	"fpm-gateway/internal/config"
)

type recordingRecorder struct {
	mu      sync.Mutex
	samples map[string][]float64
}

func (r *recordingRecorder) AddMetric(id string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.samples == nil {
		r.samples = make(map[string][]float64)
	}
	r.samples[id] = append(r.samples[id], v)
}

func TestSecureRedirect(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		io.WriteString(w, "site")
	})
	h := SecureRedirect([]string{"dts.example.com"})(next)

	tests := []struct {
		name     string
		method   string
		url      string
		tls      bool
		redirect string
	}{
		{"plain get", "GET", "/a/b.php?x=1", false, "https://dts.example.com/a/b.php?x=1"},
		{"plain post", "POST", "/form.php", false, ""},
		{"already secure", "GET", "/a", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			r := httptest.NewRequest(tt.method, tt.url, nil)
			r.Host = "DTS.example.com:80"
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if tt.redirect != "" {
				assert.Equal(t, http.StatusFound, rec.Code)
				assert.Equal(t, tt.redirect, rec.Header().Get("Location"))
				assert.False(t, called)
				return
			}
			assert.True(t, called)
			assert.Equal(t, "site", rec.Body.String())
		})
	}

	// 不在列表中的主机
	called = false
	r := httptest.NewRequest("GET", "/", nil)
	r.Host = "other.example.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.True(t, called)
}

func TestServerTiming(t *testing.T) {
	h := ServerTiming(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Server-Timing", "fpm;dur=1.0")
		time.Sleep(2 * time.Millisecond)
		w.WriteHeader(http.StatusTeapot)
		// 头已发出，之后的修改不应出现在响应中
		time.Sleep(5 * time.Millisecond)
		io.WriteString(w, "body")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	values := rec.Result().Header.Values("Server-Timing")
	require.Len(t, values, 2)
	assert.Equal(t, "fpm;dur=1.0", values[0])
	assert.Regexp(t, `^total;dur=\d+\.\d$`, values[1])

	entries := ParseServerTiming(values[1])
	require.Len(t, entries, 1)
	assert.GreaterOrEqual(t, entries[0].Duration, 2.0)
	assert.Less(t, entries[0].Duration, 1000.0)
}

func TestServerTimingWithoutWrite(t *testing.T) {
	h := ServerTiming(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Server-Timing"), "total;dur="))
}

func TestFormatTiming(t *testing.T) {
	assert.Equal(t, "total;dur=12.3", FormatTiming("total", 12345*time.Microsecond))
	assert.Equal(t, "fpm;dur=0.0", FormatTiming("fpm", 0))
}

func TestParseServerTiming(t *testing.T) {
	entries := ParseServerTiming(`db;dur=53, app;desc="render";dur=47.2,cache;desc=hit, total;dur=abc`)
	assert.Equal(t, []TimingEntry{{"db", 53}, {"app", 47.2}}, entries)
	assert.Empty(t, ParseServerTiming(""))
}

func TestServerTimingMetrics(t *testing.T) {
	rec := &recordingRecorder{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Server-Timing", "fpm;dur=4.5")
		io.WriteString(w, "ok")
	})
	h := Chain(inner,
		ServerTimingMetrics(rec, []config.MetricDomain{{Host: "dts.example.com", Alias: "dts"}, {Host: "thbr.example.com"}}),
		ServerTiming,
	)

	for _, host := range []string{"dts.example.com", "dts.example.com:443", "thbr.example.com", "ignored.example.com"} {
		r := httptest.NewRequest("GET", "/", nil)
		r.Host = host
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	assert.Len(t, rec.samples["ServerTiming|Domain|dts|Type|fpm"], 2)
	assert.Len(t, rec.samples["ServerTiming|Domain|dts|Type|total"], 2)
	assert.Equal(t, []float64{4.5}, rec.samples["ServerTiming|Domain|thbr.example.com|Type|fpm"])
	assert.Len(t, rec.samples, 4)
}

func TestCompressionMiddleware(t *testing.T) {
	manager := compression.NewManager(config.CompressionConfig{
		Gzip:   config.CompressorConfig{Enabled: true, Level: 6},
		Brotli: config.CompressorConfig{Enabled: true, Level: 4},
	})
	body := strings.Repeat("<p>hello</p>", 200)

	serve := func(contentType, encoding, acceptEncoding string, status int) *httptest.ResponseRecorder {
		h := CompressionMiddleware(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if contentType != "" {
				w.Header().Set("Content-Type", contentType)
			}
			if encoding != "" {
				w.Header().Set("Content-Encoding", encoding)
			}
			w.WriteHeader(status)
			io.WriteString(w, body)
			w.(http.Flusher).Flush()
		}))
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Accept-Encoding", acceptEncoding)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	rec := serve("text/html", "", "gzip", http.StatusOK)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, body, string(out))

	rec = serve("text/html; charset=utf-8", "", "gzip, br", http.StatusNotFound)
	assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
	out, err = io.ReadAll(brotli.NewReader(rec.Body))
	require.NoError(t, err)
	assert.Equal(t, body, string(out))

	// 不压缩的情况
	rec = serve("image/png", "", "gzip", http.StatusOK)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, body, rec.Body.String())

	rec = serve("text/html", "gzip", "br", http.StatusOK)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, body, rec.Body.String())

	rec = serve("text/html", "", "", http.StatusOK)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))

	rec = serve("text/html", "", "gzip", http.StatusInternalServerError)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, body, rec.Body.String())
}

func TestAccessLogKeepsStatus(t *testing.T) {
	h := AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, "queued")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/jobs.php", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, rec.Header().Get("X-Request-Id"), 36)
	assert.Equal(t, "queued", rec.Body.String())
}

func TestResponseWrapper(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponse(rec)
	var hooked int
	rw.beforeHeader = append(rw.beforeHeader, func(http.Header) { hooked++ })

	assert.Equal(t, http.StatusOK, rw.Status())
	rw.WriteHeader(http.StatusContinue)
	assert.Equal(t, 0, hooked)
	rw.Write([]byte("abc"))
	rw.WriteHeader(http.StatusBadRequest)
	rw.Write([]byte("de"))

	assert.Equal(t, 1, hooked)
	assert.Equal(t, http.StatusOK, rw.Status())
	assert.Equal(t, int64(5), rw.bytes)
	assert.Same(t, rec, rw.Unwrap())
}
