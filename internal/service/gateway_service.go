package service

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"fpm-gateway/internal/cgi"
	"fpm-gateway/internal/constants"
	gwerrors "fpm-gateway/internal/errors"
	"fpm-gateway/internal/fastcgi"
	"fpm-gateway/internal/models"
)

// InvokeOptions 单次执行的附加选项
type InvokeOptions struct {
	Override    *cgi.Override
	ForceStatus int // 非 0 时在解释器成功返回后覆盖状态码
}

// Invoker 执行脚本并写出响应，任何失败都会转换成 500 响应
type Invoker interface {
	Invoke(w http.ResponseWriter, r *http.Request, req *models.RequestDescriptor, opts InvokeOptions) error
}

// GatewayService 绑定一个站点和一个解释器会话，跨请求共享
type GatewayService struct {
	vhost  *models.VirtualHost
	client fastcgi.Client
}

func NewGatewayService(vh *models.VirtualHost, client fastcgi.Client) *GatewayService {
	return &GatewayService{vhost: vh, client: client}
}

func (g *GatewayService) VirtualHost() *models.VirtualHost {
	return g.vhost
}

// invocation 一次执行的状态，用于失败时的日志
type invocation struct {
	start       time.Time
	headWritten bool
	status      int
	bytes       int64
	stderr      limitedBuffer
}

// Invoke 执行脚本。panic 会被恢复，响应头未发出时输出固定的 500 响应
func (g *GatewayService) Invoke(w http.ResponseWriter, r *http.Request, req *models.RequestDescriptor, opts InvokeOptions) (err error) {
	inv := &invocation{start: time.Now(), stderr: limitedBuffer{max: constants.StderrLimit}}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("[Gateway] 处理请求时发生 panic", "url", req.Target, "panic", p, "stack", string(debug.Stack()))
			err = gwerrors.New(gwerrors.ErrInterpreterExecution, fmt.Sprintf("panic: %v", p))
		}

		duration := time.Since(inv.start)
		if err != nil {
			slog.Error("[Gateway] 请求处理失败",
				"url", req.Target,
				"host", req.Host,
				"error", err,
				"stderr", inv.stderr.String(),
				"duration", duration)
			if !inv.headWritten {
				WriteInternalError(w)
			}
			return
		}

		if inv.stderr.Len() > 0 {
			slog.Warn("[Gateway] 解释器诊断输出", "url", req.Target, "stderr", inv.stderr.String())
		}
		slog.Debug("[Gateway] 请求完成", "url", req.Target, "status", inv.status, "bytes", inv.bytes, "duration", duration)
	}()

	return g.invoke(w, r, req, opts, inv)
}

func (g *GatewayService) invoke(w http.ResponseWriter, r *http.Request, req *models.RequestDescriptor, opts InvokeOptions, inv *invocation) error {
	params, err := cgi.BuildParams(req, g.vhost, opts.Override)
	if err != nil {
		return err
	}

	ex, err := g.client.Open(r.Context(), params)
	if err != nil {
		return err
	}
	defer ex.Close()

	// 请求体写入和诊断输出读取与响应读取并行进行
	var wg conc.WaitGroup
	var stdinErr error
	wg.Go(func() {
		stdin := ex.Stdin()
		if req.Body != nil {
			_, stdinErr = io.Copy(stdin, req.Body)
		}
		stdin.Close()
	})
	wg.Go(func() {
		io.Copy(&inv.stderr, ex.Stderr())
	})

	hr := cgi.NewHeaderReaderSize(ex.Stdout(), constants.StreamBufferSize, constants.HeaderLineLimit)
	headers, err := hr.All()
	if err != nil {
		ex.Close()
		wg.Wait()
		return gwerrors.Wrap(gwerrors.ErrInterpreterExecution, "read response headers", err)
	}

	inv.status = applyHeaders(w.Header(), headers)
	if opts.ForceStatus != 0 {
		inv.status = opts.ForceStatus
	}
	w.Header().Add("Server-Timing", fmt.Sprintf("fpm;dur=%.1f", float64(time.Since(inv.start).Microseconds())/1000))
	w.WriteHeader(inv.status)
	inv.headWritten = true

	var copyErr error
	inv.bytes, copyErr = streamBody(w, hr.Body())

	ex.Close()
	wg.Wait()

	if copyErr != nil {
		if r.Context().Err() != nil {
			// 客户端已断开，放弃本次交换
			slog.Debug("[Gateway] 客户端断开", "url", req.Target, "error", copyErr)
			return nil
		}
		return gwerrors.Wrap(gwerrors.ErrInterpreterExecution, "stream response body", copyErr)
	}
	if stdinErr != nil && r.Context().Err() == nil {
		slog.Debug("[Gateway] 请求体转发未完成", "url", req.Target, "error", stdinErr)
	}
	return nil
}

// applyHeaders 把解释器响应头应用到出站响应，返回状态码
func applyHeaders(h http.Header, headers []cgi.Header) int {
	status := 0
	hasContentType := false
	hasLocation := false

	for _, hdr := range headers {
		switch strings.ToLower(hdr.Name) {
		case "status":
			// 只取状态码，原因短语无法通过 ResponseWriter 输出
			code := hdr.Value
			if i := strings.IndexByte(code, ' '); i >= 0 {
				code = code[:i]
			}
			if n, err := strconv.Atoi(code); err == nil && n >= 100 && n <= 999 {
				status = n
			} else {
				slog.Warn("[Gateway] 无效的 Status 头", "value", hdr.Value)
			}
		case "content-type":
			h.Set("Content-Type", hdr.Value)
			hasContentType = true
		case "location":
			h.Add(hdr.Name, hdr.Value)
			hasLocation = true
		default:
			h.Add(hdr.Name, hdr.Value)
		}
	}

	if !hasContentType {
		// 阻止 net/http 根据内容嗅探 Content-Type
		h["Content-Type"] = nil
	}

	if status == 0 {
		if hasLocation {
			status = http.StatusFound
		} else {
			status = http.StatusOK
		}
	}
	return status
}

// streamBody 边读边写，支持 Flusher 时每块都刷新
func streamBody(w http.ResponseWriter, body io.Reader) (int64, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return io.Copy(w, body)
	}

	var written int64
	buf := make([]byte, constants.StreamBufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			written += int64(n)
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, werr
			}
			f.Flush()
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// WriteInternalError 输出固定的 500 响应
func WriteInternalError(w http.ResponseWriter) {
	h := w.Header()
	for k := range h {
		if k != "Server-Timing" && k != "X-Request-Id" {
			delete(h, k)
		}
	}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	io.WriteString(w, "Internal server error\n")
}

// limitedBuffer 最多保留 max 字节，超出部分丢弃
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) Len() int       { return b.buf.Len() }
func (b *limitedBuffer) String() string { return b.buf.String() }
