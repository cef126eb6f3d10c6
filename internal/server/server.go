package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"fpm-gateway/internal/constants"
)

// Options 监听地址集合，空列表表示不启用对应类型
type Options struct {
	HTTP  []string
	HTTPS []string
	H2C   bool        // 明文端口接受 HTTP/2 prior knowledge
	TLS   *tls.Config // HTTPS 非空时必须提供

	AdminListen  string
	AdminHandler http.Handler
}

type listener struct {
	name string
	srv  *http.Server
	ln   net.Listener
	tls  bool
}

// Server 管理所有监听端口的生命周期
type Server struct {
	listeners []*listener
}

func newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
		IdleTimeout:       constants.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}
}

// New 创建服务器并立即绑定所有端口，任何端口绑定失败都会释放已绑定的端口
func New(handler http.Handler, opts Options) (*Server, error) {
	if len(opts.HTTPS) > 0 && opts.TLS == nil {
		return nil, errors.New("https listeners require a TLS config")
	}

	s := &Server{}

	plain := handler
	if opts.H2C {
		plain = h2c.NewHandler(handler, &http2.Server{})
	}
	for _, addr := range opts.HTTP {
		if err := s.bind("http", addr, newHTTPServer(plain), false); err != nil {
			s.closeAll()
			return nil, err
		}
	}

	for _, addr := range opts.HTTPS {
		srv := newHTTPServer(handler)
		srv.TLSConfig = opts.TLS.Clone()
		if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
			s.closeAll()
			return nil, fmt.Errorf("configure http2: %w", err)
		}
		if err := s.bind("https", addr, srv, true); err != nil {
			s.closeAll()
			return nil, err
		}
	}

	if opts.AdminListen != "" && opts.AdminHandler != nil {
		if err := s.bind("admin", opts.AdminListen, newHTTPServer(opts.AdminHandler), false); err != nil {
			s.closeAll()
			return nil, err
		}
	}

	return s, nil
}

func (s *Server) bind(name, addr string, srv *http.Server, isTLS bool) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", name, addr, err)
	}
	srv.Addr = ln.Addr().String()
	s.listeners = append(s.listeners, &listener{name: name, srv: srv, ln: ln, tls: isTLS})
	return nil
}

func (s *Server) closeAll() {
	for _, l := range s.listeners {
		l.ln.Close()
	}
}

// Addrs 按端口类型返回实际绑定的地址
func (s *Server) Addrs() map[string][]string {
	addrs := make(map[string][]string)
	for _, l := range s.listeners {
		addrs[l.name] = append(addrs[l.name], l.ln.Addr().String())
	}
	return addrs
}

// Serve 开始处理请求直到 ctx 取消，然后优雅关闭所有端口
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, l := range s.listeners {
		l := l
		g.Go(func() error {
			slog.Info("[Server] 开始监听", "type", l.name, "addr", l.srv.Addr)
			var err error
			if l.tls {
				err = l.srv.ServeTLS(l.ln, "", "")
			} else {
				err = l.srv.Serve(l.ln)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("%s %s: %w", l.name, l.srv.Addr, err)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown 停止接受新连接并等待进行中的请求完成，超时后强制关闭
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, l := range s.listeners {
		if err := l.srv.Shutdown(ctx); err != nil {
			slog.Warn("[Server] 优雅关闭超时，强制关闭", "type", l.name, "addr", l.srv.Addr, "error", err)
			l.srv.Close()
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		slog.Info("[Server] 所有端口已关闭")
	}
	return errors.Join(errs...)
}
