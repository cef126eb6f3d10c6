package compression

import "io"

// Compressor 为一个响应创建编码写入器，Close 写出编码尾部
type Compressor interface {
	Compress(w io.Writer) (io.WriteCloser, error)
}

// CompressionType Content-Encoding 的取值
type CompressionType string

const (
	CompressionGzip   CompressionType = "gzip"
	CompressionBrotli CompressionType = "br"
)

// Manager 按客户端的 Accept-Encoding 和 q 值挑选编码，返回 nil 表示不编码
type Manager interface {
	SelectCompressor(acceptEncoding string) (Compressor, CompressionType)
}
