package compression

import (
	"compress/gzip"
	"io"
	"sync"
)

// GzipCompressor 复用 gzip.Writer，同一级别的写入器放在同一个池里
type GzipCompressor struct {
	level int
	pool  sync.Pool
}

func NewGzipCompressor(level int) *GzipCompressor {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &GzipCompressor{level: level}
}

func (g *GzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	if zw, ok := g.pool.Get().(*gzip.Writer); ok {
		zw.Reset(w)
		return &pooledGzipWriter{Writer: zw, pool: &g.pool}, nil
	}
	zw, err := gzip.NewWriterLevel(w, g.level)
	if err != nil {
		return nil, err
	}
	return &pooledGzipWriter{Writer: zw, pool: &g.pool}, nil
}

type pooledGzipWriter struct {
	*gzip.Writer
	pool *sync.Pool
}

// Close 写出尾部后归还写入器
func (p *pooledGzipWriter) Close() error {
	if p.Writer == nil {
		return nil
	}
	err := p.Writer.Close()
	p.pool.Put(p.Writer)
	p.Writer = nil
	return err
}
