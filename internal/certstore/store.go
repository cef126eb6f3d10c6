package certstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"fpm-gateway/internal/router"
)

// Source 按主机名加载证书和私钥
type Source interface {
	Load(ctx context.Context, host string) (*tls.Certificate, error)
}

// Store 主机名到证书的映射，握手时按 SNI 选择证书
type Store struct {
	mu    sync.RWMutex
	certs map[string]*tls.Certificate
}

func NewStore() *Store {
	return &Store{certs: make(map[string]*tls.Certificate)}
}

// Set 替换主机的证书，之后的新握手立即生效
func (s *Store) Set(host string, cert *tls.Certificate) {
	s.mu.Lock()
	s.certs[router.NormalizeHost(host)] = cert
	s.mu.Unlock()
}

func (s *Store) Get(host string) (*tls.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certs[router.NormalizeHost(host)]
	return c, ok
}

func (s *Store) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hosts := make([]string, 0, len(s.certs))
	for h := range s.certs {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// GetCertificate 用作 tls.Config.GetCertificate
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if hello.ServerName == "" {
		return nil, fmt.Errorf("client hello without server name")
	}
	if c, ok := s.Get(hello.ServerName); ok {
		return c, nil
	}
	return nil, fmt.Errorf("no certificate for %q", hello.ServerName)
}

// TLSConfig 返回使用本存储选择证书的服务端配置
func (s *Store) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: s.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}

// LoadAll 启动时加载所有主机的证书，任何一个失败都返回错误
func (s *Store) LoadAll(ctx context.Context, src Source, hosts []string) error {
	for _, host := range hosts {
		cert, err := src.Load(ctx, host)
		if err != nil {
			return fmt.Errorf("load certificate for %s: %w", host, err)
		}
		s.Set(host, cert)
		slog.Info("[CertStore] 证书已加载", "host", host, "expires", leafExpiry(cert))
	}
	return nil
}

// reload 运行期重新加载，失败时保留旧证书
func (s *Store) reload(ctx context.Context, src Source, host string) {
	cert, err := src.Load(ctx, host)
	if err != nil {
		slog.Error("[CertStore] 重新加载证书失败，继续使用旧证书", "host", host, "error", err)
		return
	}
	s.Set(host, cert)
	slog.Info("[CertStore] 证书已更新", "host", host, "expires", leafExpiry(cert))
}

func leafExpiry(cert *tls.Certificate) string {
	if cert.Leaf == nil {
		return ""
	}
	return cert.Leaf.NotAfter.Format("2006-01-02")
}
