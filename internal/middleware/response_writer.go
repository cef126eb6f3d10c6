package middleware

import (
	"bufio"
	"net"
	"net/http"
)

// responseWrapper 捕获状态码和写出的字节数，响应头发出前执行 beforeHeader 回调
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	bytes        int64
	wroteHeader  bool
	beforeHeader []func(http.Header)
}

func wrapResponse(w http.ResponseWriter) *responseWrapper {
	return &responseWrapper{ResponseWriter: w}
}

func (rw *responseWrapper) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	// 1xx 不是最终响应
	if code >= 100 && code < 200 {
		rw.ResponseWriter.WriteHeader(code)
		return
	}
	rw.wroteHeader = true
	rw.statusCode = code
	for _, fn := range rw.beforeHeader {
		fn(rw.Header())
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWrapper) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

func (rw *responseWrapper) Flush() {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Status 处理器未写任何内容时 net/http 会返回 200
func (rw *responseWrapper) Status() int {
	if rw.statusCode == 0 {
		return http.StatusOK
	}
	return rw.statusCode
}

// Chain 组合中间件，第一个在最外层
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
