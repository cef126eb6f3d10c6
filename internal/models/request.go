package models

import (
	"io"
	"net"
	"net/http"
	"strings"
)

// RequestDescriptor 从入站请求提取出的 CGI 所需信息，生命周期与请求相同
type RequestDescriptor struct {
	Method     string
	Target     string      // 原始请求目标，路径加可选查询串
	Header     http.Header // 同名头保持插入顺序
	Host       string
	Body       io.Reader
	RemoteAddr string
	RemotePort string
	ServerAddr string
	ServerPort string
	Scheme     string
	TLS        bool
	Proto      string
}

// NewRequestDescriptor 从 http.Request 构造请求描述
func NewRequestDescriptor(r *http.Request) *RequestDescriptor {
	d := &RequestDescriptor{
		Method: r.Method,
		Target: r.RequestURI,
		Header: r.Header.Clone(),
		Host:   r.Host,
		Body:   r.Body,
		Scheme: "http",
		TLS:    r.TLS != nil,
		Proto:  r.Proto,
	}
	if d.Header == nil {
		d.Header = make(http.Header)
	}
	if d.TLS {
		d.Scheme = "https"
	}

	// net/http 把 Host 从 Header 中移除了，这里补回去
	if r.Host != "" && d.Header.Get("Host") == "" {
		d.Header.Set("Host", r.Host)
	}

	d.RemoteAddr, d.RemotePort = splitHostPort(r.RemoteAddr)
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		d.ServerAddr, d.ServerPort = splitHostPort(addr.String())
	}

	return d
}

// Hostname 返回不带端口的主机名
func (d *RequestDescriptor) Hostname() string {
	host, _ := splitHostPort(d.Host)
	return host
}

func splitHostPort(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]"), ""
	}
	return host, port
}
