package compression

import (
	"strconv"
	"strings"

	"fpm-gateway/internal/config"
)

type compressionManager struct {
	gzip   Compressor
	brotli Compressor
}

// NewManager 创建压缩管理器，两种压缩都关闭时 SelectCompressor 总是返回 nil
func NewManager(cfg config.CompressionConfig) Manager {
	m := &compressionManager{}

	if cfg.Gzip.Enabled {
		m.gzip = NewGzipCompressor(cfg.Gzip.Level)
	}

	if cfg.Brotli.Enabled {
		m.brotli = NewBrotliCompressor(cfg.Brotli.Level)
	}

	return m
}

// SelectCompressor 按客户端给出的权重选择，权重相同时优先 brotli
func (m *compressionManager) SelectCompressor(acceptEncoding string) (Compressor, CompressionType) {
	if acceptEncoding == "" || (m.gzip == nil && m.brotli == nil) {
		return nil, ""
	}

	weights := ParseAcceptEncoding(acceptEncoding)
	weight := func(enc CompressionType) float64 {
		if q, ok := weights[string(enc)]; ok {
			return q
		}
		if q, ok := weights["*"]; ok {
			return q
		}
		return 0
	}

	var (
		best    Compressor
		bestEnc CompressionType
		bestQ   float64
	)
	if m.brotli != nil {
		if q := weight(CompressionBrotli); q > bestQ {
			best, bestEnc, bestQ = m.brotli, CompressionBrotli, q
		}
	}
	if m.gzip != nil {
		if q := weight(CompressionGzip); q > bestQ {
			best, bestEnc = m.gzip, CompressionGzip
		}
	}
	return best, bestEnc
}

// ParseAcceptEncoding 解析 "gzip;q=0.8, br" 形式的请求头，编码名转为小写
func ParseAcceptEncoding(header string) map[string]float64 {
	weights := make(map[string]float64)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, params, _ := strings.Cut(part, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		q := 1.0
		for _, p := range strings.Split(params, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || strings.ToLower(strings.TrimSpace(k)) != "q" {
				continue
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 && f <= 1 {
				q = f
			}
		}
		weights[name] = q
	}
	return weights
}
