package fastcgi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	gwerrors "fpm-gateway/internal/errors"
)

// Exchange 一次请求/响应交换。Stdin 写完后必须关闭；Stdout 读到 EOF 表示响应结束。
// Stderr 需要与 Stdout 并行读取，否则诊断输出会阻塞响应
type Exchange interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Close() error
}

// Client 与某个解释器端点的会话，可并发调用 Open
type Client interface {
	Open(ctx context.Context, params map[string]string) (Exchange, error)
	Endpoint() Endpoint
}

type dialFunc func(ctx context.Context, network, address string, timeout time.Duration) (net.Conn, error)

func dialNet(ctx context.Context, network, address string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, network, address)
}

// Options Pool 参数
type Options struct {
	DialTimeout time.Duration
	Timeout     time.Duration // 连接读写的空闲超时，每次读写后重新计时
	MaxConns    int
	Retry       RetryConfig
}

// Pool 解释器客户端。每个交换占用一条连接且不复用，
// MaxConns 限制同时在途的交换数
type Pool struct {
	endpoint Endpoint
	opts     Options
	sem      *semaphore.Weighted
	dial     dialFunc
	ready    atomic.Bool
}

// NewPool 创建客户端，不会立即连接
func NewPool(endpoint string, opts Options) (*Pool, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ErrInvalidConfig, "invalid fastcgi endpoint", err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 1
	}
	return &Pool{
		endpoint: ep,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxConns)),
		dial:     dialNet,
	}, nil
}

func (p *Pool) Endpoint() Endpoint {
	return p.endpoint
}

// Open 建立一次交换。参数在 Open 时发送，Stdin 的内容按写入顺序流向解释器
func (p *Pool) Open(ctx context.Context, params map[string]string) (Exchange, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, gwerrors.Wrap(gwerrors.ErrInterpreterUnavailable, "no free interpreter connection", err)
	}
	release := func() { p.sem.Release(1) }

	nc, err := withRetry(ctx, p.opts.Retry, p.endpoint.String(), func() (net.Conn, error) {
		return p.dial(ctx, p.endpoint.Network, p.endpoint.Address, p.opts.DialTimeout)
	})
	if err != nil {
		release()
		if p.ready.CompareAndSwap(true, false) {
			slog.Warn("[FastCGI] 解释器不可用", "endpoint", p.endpoint.String(), "error", err)
		}
		return nil, gwerrors.Wrap(gwerrors.ErrInterpreterUnavailable, "dial "+p.endpoint.String(), err)
	}
	if p.ready.CompareAndSwap(false, true) {
		slog.Info("[FastCGI] 解释器已连接", "endpoint", p.endpoint.String())
	}

	ex, err := newExchange(idleConn{Conn: nc, timeout: p.opts.Timeout}, params, release)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ErrInterpreterUnavailable, "begin request", err)
	}
	context.AfterFunc(ctx, func() { ex.Close() })
	return ex, nil
}

// idleConn 每次读写前顺延截止时间，长时间流式输出不会被整体超时截断
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c idleConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

func (c idleConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}

var errResponseComplete = errors.New("fastcgi: response already complete")

type exchange struct {
	conn    net.Conn
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	release   func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// newExchange 发送 BEGIN_REQUEST 与参数，随后并行转发 stdin 和读取响应记录。
// 之后只有 sendStdin 写连接
func newExchange(c net.Conn, params map[string]string, release func()) (*exchange, error) {
	x := &exchange{
		conn:    c,
		release: release,
	}
	if err := writeBeginRequest(c, requestID, roleResponder, 0); err != nil {
		c.Close()
		release()
		return nil, err
	}
	if err := writePairs(c, requestID, params); err != nil {
		c.Close()
		release()
		return nil, err
	}

	x.stdinR, x.stdinW = io.Pipe()
	x.stdoutR, x.stdoutW = io.Pipe()
	x.stderrR, x.stderrW = io.Pipe()
	x.wg.Add(2)
	go x.sendStdin()
	go x.readResponse()
	return x, nil
}

func (x *exchange) sendStdin() {
	defer x.wg.Done()

	s := &streamWriter{w: x.conn, recType: typeStdin, id: requestID}
	_, err := io.CopyBuffer(s, x.stdinR, make([]byte, maxWrite))
	if errors.Is(err, errResponseComplete) {
		// 解释器未读完请求体就已结束响应
		return
	}
	if err == nil {
		err = s.Close()
	}
	if err != nil {
		x.stdinR.CloseWithError(fmt.Errorf("fastcgi stdin: %w", err))
	}
}

func (x *exchange) readResponse() {
	defer x.wg.Done()

	err := x.demux()
	x.stdoutW.CloseWithError(err)
	x.stderrW.CloseWithError(err)
	if err == nil {
		err = errResponseComplete
	}
	x.stdinR.CloseWithError(err)
}

// demux 按记录类型把输出分到 stdout 与 stderr，读到 END_REQUEST 返回 nil
func (x *exchange) demux() error {
	br := bufio.NewReaderSize(x.conn, maxContent+headerLen)
	rec := new(record)
	for {
		if err := rec.read(br); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("fastcgi exchange: %w", err)
		}
		if rec.h.ID != requestID {
			continue
		}

		switch rec.h.Type {
		case typeStdout:
			if _, err := x.stdoutW.Write(rec.content()); err != nil {
				return err
			}
		case typeStderr:
			if _, err := x.stderrW.Write(rec.content()); err != nil {
				return err
			}
		case typeEndRequest:
			body := rec.content()
			if len(body) < 8 {
				return errors.New("fastcgi exchange: short END_REQUEST record")
			}
			if body[4] != statusRequestComplete {
				return fmt.Errorf("fastcgi exchange: request rejected with protocol status %d", body[4])
			}
			return nil
		}
	}
}

func (x *exchange) Stdin() io.WriteCloser { return x.stdinW }
func (x *exchange) Stdout() io.Reader     { return x.stdoutR }
func (x *exchange) Stderr() io.Reader     { return x.stderrR }

// Close 释放连接，可重复调用
func (x *exchange) Close() error {
	x.closeOnce.Do(func() {
		x.conn.Close()
		x.stdinR.Close()
		x.stdoutR.Close()
		x.stderrR.Close()
		x.wg.Wait()
		x.release()
	})
	return nil
}
