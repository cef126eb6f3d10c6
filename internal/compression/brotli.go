package compression

import (
	"io"
	"sync"

	"github.com/andybalholm/brotli"
)

// BrotliCompressor 复用 brotli.Writer；写入器的窗口缓冲较大，每次新建代价高
type BrotliCompressor struct {
	level int
	pool  sync.Pool
}

func NewBrotliCompressor(level int) *BrotliCompressor {
	if level < brotli.BestSpeed || level > brotli.BestCompression {
		level = brotli.DefaultCompression
	}
	return &BrotliCompressor{level: level}
}

func (b *BrotliCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	bw, ok := b.pool.Get().(*brotli.Writer)
	if ok {
		bw.Reset(w)
	} else {
		bw = brotli.NewWriterLevel(w, b.level)
	}
	return &pooledBrotliWriter{Writer: bw, pool: &b.pool}, nil
}

type pooledBrotliWriter struct {
	*brotli.Writer
	pool *sync.Pool
}

func (p *pooledBrotliWriter) Close() error {
	if p.Writer == nil {
		return nil
	}
	err := p.Writer.Close()
	p.pool.Put(p.Writer)
	p.Writer = nil
	return err
}
