package fastcgi

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// 记录类型
const (
	typeBeginRequest uint8 = 1
	typeEndRequest   uint8 = 3
	typeParams       uint8 = 4
	typeStdin        uint8 = 5
	typeStdout       uint8 = 6
	typeStderr       uint8 = 7
)

const (
	protocolVersion uint8  = 1
	roleResponder   uint16 = 1
	headerLen              = 8
	maxContent             = 65535
	// 单条记录写入的上限，留出对齐填充的余量
	maxWrite = 65528

	// END_REQUEST 的 protocolStatus
	statusRequestComplete uint8 = 0
)

// requestID 每条连接只承载一个请求
const requestID uint16 = 1

type header struct {
	Version       uint8
	Type          uint8
	ID            uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

type record struct {
	h   header
	buf [maxContent + 255]byte
}

// content 当前记录的有效载荷，下一次 read 前有效
func (r *record) content() []byte {
	return r.buf[:r.h.ContentLength]
}

func (r *record) read(br *bufio.Reader) error {
	if err := binary.Read(br, binary.BigEndian, &r.h); err != nil {
		return err
	}
	if r.h.Version != protocolVersion {
		return fmt.Errorf("fastcgi: unsupported protocol version %d", r.h.Version)
	}
	n := int(r.h.ContentLength) + int(r.h.PaddingLength)
	if _, err := io.ReadFull(br, r.buf[:n]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

var pad [7]byte

func writeRecord(w io.Writer, recType uint8, id uint16, content []byte) error {
	if len(content) > maxWrite {
		return fmt.Errorf("fastcgi: record content too large: %d", len(content))
	}
	h := header{
		Version:       protocolVersion,
		Type:          recType,
		ID:            id,
		ContentLength: uint16(len(content)),
		PaddingLength: uint8(-len(content) & 7),
	}
	buf := make([]byte, 0, headerLen+len(content)+int(h.PaddingLength))
	buf = binary.BigEndian.AppendUint16(append(buf, h.Version, h.Type), h.ID)
	buf = binary.BigEndian.AppendUint16(buf, h.ContentLength)
	buf = append(buf, h.PaddingLength, h.Reserved)
	buf = append(buf, content...)
	buf = append(buf, pad[:h.PaddingLength]...)
	_, err := w.Write(buf)
	return err
}

func writeBeginRequest(w io.Writer, id uint16, role uint16, flags uint8) error {
	b := [8]byte{byte(role >> 8), byte(role), flags}
	return writeRecord(w, typeBeginRequest, id, b[:])
}

// streamWriter 把字节流切成同一类型的记录，Close 写出空记录表示流结束
type streamWriter struct {
	w       io.Writer
	recType uint8
	id      uint16
}

func (s *streamWriter) Write(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxWrite {
			chunk = chunk[:maxWrite]
		}
		if err := writeRecord(s.w, s.recType, s.id, chunk); err != nil {
			return n, err
		}
		n += len(chunk)
		p = p[len(chunk):]
	}
	return n, nil
}

func (s *streamWriter) Close() error {
	return writeRecord(s.w, s.recType, s.id, nil)
}

// writePairs 以 PARAMS 记录发送名值对，以空记录结束
func writePairs(w io.Writer, id uint16, pairs map[string]string) error {
	s := &streamWriter{w: w, recType: typeParams, id: id}
	buf := make([]byte, 0, maxWrite)
	for k, v := range pairs {
		n := sizeLen(len(k)) + sizeLen(len(v)) + len(k) + len(v)
		if len(buf)+n > maxWrite && len(buf) > 0 {
			if _, err := s.Write(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
		buf = appendSize(buf, len(k))
		buf = appendSize(buf, len(v))
		buf = append(buf, k...)
		buf = append(buf, v...)
	}
	if len(buf) > 0 {
		if _, err := s.Write(buf); err != nil {
			return err
		}
	}
	return s.Close()
}

func sizeLen(n int) int {
	if n <= 127 {
		return 1
	}
	return 4
}

func appendSize(b []byte, n int) []byte {
	if n <= 127 {
		return append(b, byte(n))
	}
	return binary.BigEndian.AppendUint32(b, uint32(n)|1<<31)
}
