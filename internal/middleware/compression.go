package middleware

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"fpm-gateway/internal/compression"
)

// CompressionMiddleware 按 Accept-Encoding 编码响应体。
// 是否编码在响应头发出时决定，脚本自己设置了 Content-Encoding 时原样输出
func CompressionMiddleware(manager compression.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// HEAD 没有响应体；Range 响应的偏移是针对原始内容的
			if r.Method == http.MethodHead || r.Header.Get("Range") != "" {
				next.ServeHTTP(w, r)
				return
			}

			comp, enc := manager.SelectCompressor(r.Header.Get("Accept-Encoding"))
			if comp == nil {
				next.ServeHTTP(w, r)
				return
			}

			ew := &encodingWriter{ResponseWriter: w, comp: comp, enc: enc}
			next.ServeHTTP(ew, r)
			if err := ew.finish(); err != nil {
				slog.Debug("[Compression] 写出压缩尾部失败", "url", r.RequestURI, "error", err)
			}
		})
	}
}

// encodingWriter 响应头发出后，encoder 非 nil 表示响应体经过编码
type encodingWriter struct {
	http.ResponseWriter
	comp       compression.Compressor
	enc        compression.CompressionType
	headerSent bool
	encoder    io.WriteCloser
}

func (ew *encodingWriter) WriteHeader(code int) {
	if ew.headerSent {
		return
	}
	if code >= 100 && code < 200 {
		ew.ResponseWriter.WriteHeader(code)
		return
	}
	ew.headerSent = true

	h := ew.Header()
	h.Add("Vary", "Accept-Encoding")
	if encodable(h, code) {
		encoder, err := ew.comp.Compress(ew.ResponseWriter)
		if err != nil {
			slog.Warn("[Compression] 创建压缩器失败，按原样输出", "encoding", ew.enc, "error", err)
		} else {
			ew.encoder = encoder
			h.Set("Content-Encoding", string(ew.enc))
			h.Del("Content-Length")
			h.Del("Accept-Ranges")
		}
	}
	ew.ResponseWriter.WriteHeader(code)
}

func (ew *encodingWriter) Write(b []byte) (int, error) {
	if !ew.headerSent {
		ew.WriteHeader(http.StatusOK)
	}
	if ew.encoder == nil {
		return ew.ResponseWriter.Write(b)
	}
	return ew.encoder.Write(b)
}

// Flush 先把编码器内部缓冲写出，流式响应才能及时到达客户端
func (ew *encodingWriter) Flush() {
	if !ew.headerSent {
		ew.WriteHeader(http.StatusOK)
	}
	if f, ok := ew.encoder.(interface{ Flush() error }); ok {
		f.Flush()
	}
	if f, ok := ew.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (ew *encodingWriter) Unwrap() http.ResponseWriter {
	return ew.ResponseWriter
}

// finish 写出编码尾部，处理器没有写任何内容时不做任何事
func (ew *encodingWriter) finish() error {
	if ew.encoder == nil {
		return nil
	}
	err := ew.encoder.Close()
	ew.encoder = nil
	return err
}

// 404 也压缩，404.php 输出的是完整页面
var encodableStatus = map[int]bool{
	http.StatusOK:                   true,
	http.StatusCreated:              true,
	http.StatusAccepted:             true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusNotFound:             true,
}

var encodableTypes = map[string]bool{
	"application/javascript": true,
	"application/json":       true,
	"application/xml":        true,
	"application/xhtml+xml":  true,
	"application/x-yaml":     true,
	"image/svg+xml":          true,
}

func encodable(h http.Header, code int) bool {
	if !encodableStatus[code] || h.Get("Content-Encoding") != "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "text/") ||
		strings.HasSuffix(mt, "+json") ||
		encodableTypes[mt]
}
