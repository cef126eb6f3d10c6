package fastcgi

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint 解释器监听地址
type Endpoint struct {
	Network string // tcp 或 unix
	Address string
}

func (e Endpoint) String() string {
	return e.Network + "://" + e.Address
}

// ParseEndpoint 支持 tcp://host:port、unix:///path/to.sock，以及省略 scheme 的 host:port 和 /path/to.sock
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("empty fastcgi endpoint")
	}

	if !strings.Contains(s, "://") {
		if strings.HasPrefix(s, "/") {
			return Endpoint{Network: "unix", Address: s}, nil
		}
		return Endpoint{Network: "tcp", Address: s}, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid fastcgi endpoint %q: %w", s, err)
	}

	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("fastcgi endpoint %q has no host", s)
		}
		if u.Port() == "" {
			return Endpoint{}, fmt.Errorf("fastcgi endpoint %q has no port", s)
		}
		return Endpoint{Network: u.Scheme, Address: u.Host}, nil
	case "unix":
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		if p == "" {
			return Endpoint{}, fmt.Errorf("fastcgi endpoint %q has no socket path", s)
		}
		return Endpoint{Network: "unix", Address: p}, nil
	default:
		return Endpoint{}, fmt.Errorf("unsupported fastcgi endpoint scheme %q", u.Scheme)
	}
}
