package cgi

import (
	"bytes"
	"errors"
	"io"
	"strings"
)

type headerState int

const (
	stateAny headerState = iota // 上一块没有悬空的 CR
	stateCR                     // 上一块以 CR 结尾，等待下一块的 LF
)

const defaultChunkSize = 4096

var (
	crlf = []byte("\r\n")

	ErrHeaderTooLong = errors.New("cgi: response header line too long")
)

// Header 一个 CGI 响应头
type Header struct {
	Name  string
	Value string
}

// HeaderReader 从解释器输出中增量解析响应头。
// 遇到空行后停止，当前块中剩余的字节与后续数据一起作为响应体，不丢失也不重复。
// 任意时刻最多只缓存一行未结束的数据。
type HeaderReader struct {
	src     io.Reader
	buf     []byte
	chunk   []byte // 当前块中尚未处理的部分
	fresh   bool   // chunk 是否刚读入
	pending []byte // 跨块的未结束行
	state   headerState
	maxLine int

	done   bool
	srcEOF bool // 上游已经返回 EOF
	body   []byte
	err    error
}

func NewHeaderReader(src io.Reader) *HeaderReader {
	return NewHeaderReaderSize(src, defaultChunkSize, 0)
}

// NewHeaderReaderSize 指定读取块大小和单行长度上限，maxLine <= 0 表示不限制
func NewHeaderReaderSize(src io.Reader, chunkSize, maxLine int) *HeaderReader {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &HeaderReader{
		src:     src,
		buf:     make([]byte, chunkSize),
		maxLine: maxLine,
	}
}

// Next 返回下一个响应头。头部结束（空行或上游关闭）时返回 io.EOF。
func (r *HeaderReader) Next() (Header, error) {
	for {
		if r.err != nil {
			return Header{}, r.err
		}
		if r.done {
			return Header{}, io.EOF
		}

		if r.chunk == nil {
			r.fill()
			continue
		}

		line, ok := r.nextLine()
		if !ok {
			continue
		}

		if len(line) == len(crlf) {
			// 空行：头部结束，剩余字节属于响应体
			r.done = true
			r.body = r.chunk
			r.chunk = nil
			r.pending = nil
			return Header{}, io.EOF
		}

		h, ok := parseHeaderLine(line)
		if !ok {
			continue
		}
		return h, nil
	}
}

// All 读取全部响应头
func (r *HeaderReader) All() ([]Header, error) {
	var headers []Header
	for {
		h, err := r.Next()
		if err == io.EOF {
			return headers, nil
		}
		if err != nil {
			return headers, err
		}
		headers = append(headers, h)
	}
}

// Body 返回响应体，只能在 Next 返回 io.EOF 之后调用。
// 上游在头部结束前关闭时响应体为空。
func (r *HeaderReader) Body() io.Reader {
	if r.srcEOF {
		return bytes.NewReader(r.body)
	}
	if len(r.body) == 0 {
		return r.src
	}
	return io.MultiReader(bytes.NewReader(r.body), r.src)
}

func (r *HeaderReader) fill() {
	if r.srcEOF {
		// 上游在空行之前关闭，已解析的头仍然有效
		r.done = true
		r.pending = nil
		return
	}

	n, err := r.src.Read(r.buf)
	if n > 0 {
		r.chunk = r.buf[:n]
		r.fresh = true
	}
	switch {
	case err == io.EOF:
		r.srcEOF = true
	case err != nil:
		r.err = err
	}
}

// nextLine 从当前块中取出一行完整的数据（包含 CRLF）。
// 块内没有完整的行时，把剩余部分并入 pending 并返回 false。
func (r *HeaderReader) nextLine() ([]byte, bool) {
	if len(r.chunk) == 0 {
		r.chunk = nil
		return nil, false
	}

	if r.fresh {
		r.fresh = false
		if r.state == stateCR && r.chunk[0] == '\n' {
			r.state = stateAny
			line := append(r.pending, '\n')
			r.pending = r.pending[:0]
			r.chunk = r.chunk[1:]
			return line, true
		}
		r.state = stateAny
	}

	if i := bytes.Index(r.chunk, crlf); i >= 0 {
		var line []byte
		if len(r.pending) > 0 {
			line = append(r.pending, r.chunk[:i+2]...)
			r.pending = r.pending[:0]
		} else {
			line = r.chunk[:i+2]
		}
		r.chunk = r.chunk[i+2:]
		return line, true
	}

	if r.maxLine > 0 && len(r.pending)+len(r.chunk) > r.maxLine {
		r.err = ErrHeaderTooLong
		return nil, false
	}

	if r.chunk[len(r.chunk)-1] == '\r' {
		r.state = stateCR
	}
	r.pending = append(r.pending, r.chunk...)
	r.chunk = nil
	return nil, false
}

// parseHeaderLine 按第一个 ": " 拆分，缺少空格时退回到第一个 ':'，没有冒号的行被忽略
func parseHeaderLine(line []byte) (Header, bool) {
	s := strings.TrimSuffix(string(line), "\r\n")
	if name, value, ok := strings.Cut(s, ": "); ok {
		return Header{Name: name, Value: value}, true
	}
	if name, value, ok := strings.Cut(s, ":"); ok && name != "" {
		return Header{Name: name, Value: strings.TrimLeft(value, " \t")}, true
	}
	return Header{}, false
}
