// Package fcgitest 提供供测试使用的 FastCGI 响应端，按记录流与客户端交互
package fcgitest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
)

const (
	typeBeginRequest = 1
	typeEndRequest   = 3
	typeParams       = 4
	typeStdin        = 5
	typeStdout       = 6
	typeStderr       = 7
)

// Request 解释器视角的一次请求。Stdin 按到达顺序读出请求体
type Request struct {
	Params map[string]string
	Stdin  io.Reader
}

// ResponseWriter 每次写入都立即发出一条记录
type ResponseWriter struct {
	mu sync.Mutex
	c  net.Conn
	id uint16
}

func (w *ResponseWriter) Stdout() io.Writer {
	return streamFunc(func(p []byte) error { return w.write(typeStdout, p) })
}

func (w *ResponseWriter) Stderr() io.Writer {
	return streamFunc(func(p []byte) error { return w.write(typeStderr, p) })
}

func (w *ResponseWriter) write(t uint8, p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(p) > 0 {
		chunk := p
		if len(chunk) > 65535 {
			chunk = chunk[:65535]
		}
		if err := writeRecord(w.c, t, w.id, chunk); err != nil {
			return err
		}
		p = p[len(chunk):]
	}
	return nil
}

type streamFunc func(p []byte) error

func (f streamFunc) Write(p []byte) (int, error) {
	if err := f(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// HandlerFunc 处理一次请求，返回时响应结束
type HandlerFunc func(req *Request, w *ResponseWriter)

// Server 监听本地回环地址的响应端
type Server struct {
	ln      net.Listener
	handler HandlerFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	requests []map[string]string
}

// NewServer 启动响应端，测试结束时自动关闭
func NewServer(t testing.TB, h HandlerFunc) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fcgitest: listen: %v", err)
	}
	s := &Server{ln: ln, handler: h, conns: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Endpoint 形如 tcp://127.0.0.1:port
func (s *Server) Endpoint() string {
	return "tcp://" + s.ln.Addr().String()
}

// Requests 已收到的参数集合
func (s *Server) Requests() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.requests...)
}

func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(c)
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
			c.Close()
		}()
	}
}

// serveConn 参数收齐后立即调用 handler，请求体由读循环并行送入 Stdin
func (s *Server) serveConn(c net.Conn) {
	br := bufio.NewReader(c)
	var (
		id      uint16
		params  []byte
		stdinR  *io.PipeReader
		stdinW  *io.PipeWriter
		handled chan struct{}
	)

	for {
		t, rid, content, err := readRecord(br)
		if err != nil {
			if stdinW != nil {
				stdinW.CloseWithError(err)
			}
			break
		}

		switch t {
		case typeBeginRequest:
			id = rid
		case typeParams:
			if len(content) > 0 {
				params = append(params, content...)
				continue
			}
			pairs, err := decodePairs(params)
			if err != nil {
				return
			}
			s.mu.Lock()
			s.requests = append(s.requests, pairs)
			s.mu.Unlock()

			stdinR, stdinW = io.Pipe()
			handled = make(chan struct{})
			w := &ResponseWriter{c: c, id: id}
			in := stdinR
			go func() {
				defer close(handled)
				s.handler(&Request{Params: pairs, Stdin: in}, w)
				// 未读完的请求体直接丢弃
				in.CloseWithError(errors.New("fcgitest: handler returned"))
				w.mu.Lock()
				writeRecord(c, typeStdout, id, nil)
				writeRecord(c, typeEndRequest, id, []byte{0, 0, 0, 0, 0, 0, 0, 0})
				w.mu.Unlock()
			}()
		case typeStdin:
			if stdinW == nil {
				continue
			}
			if len(content) == 0 {
				stdinW.Close()
				continue
			}
			stdinW.Write(content)
		}
	}

	if handled != nil {
		<-handled
	}
}

func readRecord(br *bufio.Reader) (uint8, uint16, []byte, error) {
	var h [8]byte
	if _, err := io.ReadFull(br, h[:]); err != nil {
		return 0, 0, nil, err
	}
	n := int(binary.BigEndian.Uint16(h[4:6]))
	buf := make([]byte, n+int(h[6]))
	if _, err := io.ReadFull(br, buf); err != nil {
		return 0, 0, nil, err
	}
	return h[1], binary.BigEndian.Uint16(h[2:4]), buf[:n], nil
}

func writeRecord(w io.Writer, t uint8, id uint16, content []byte) error {
	b := make([]byte, 8, 8+len(content))
	b[0] = 1
	b[1] = t
	binary.BigEndian.PutUint16(b[2:], id)
	binary.BigEndian.PutUint16(b[4:], uint16(len(content)))
	b = append(b, content...)
	_, err := w.Write(b)
	return err
}

func decodePairs(b []byte) (map[string]string, error) {
	pairs := make(map[string]string)
	for len(b) > 0 {
		kl, n := readSize(b)
		if n == 0 {
			return nil, errors.New("fcgitest: truncated pair length")
		}
		b = b[n:]
		vl, n := readSize(b)
		if n == 0 {
			return nil, errors.New("fcgitest: truncated pair length")
		}
		b = b[n:]
		if len(b) < kl+vl {
			return nil, errors.New("fcgitest: truncated pair")
		}
		pairs[string(b[:kl])] = string(b[kl : kl+vl])
		b = b[kl+vl:]
	}
	return pairs, nil
}

func readSize(b []byte) (int, int) {
	if len(b) == 0 {
		return 0, 0
	}
	if b[0]>>7 == 0 {
		return int(b[0]), 1
	}
	if len(b) < 4 {
		return 0, 0
	}
	return int(binary.BigEndian.Uint32(b) &^ (1 << 31)), 4
}
