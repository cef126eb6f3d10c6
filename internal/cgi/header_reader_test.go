package cgi

import (
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader 按给定的分块依次返回数据
type chunkReader struct {
	chunks [][]byte
}

func newChunkReader(chunks ...string) *chunkReader {
	c := &chunkReader{}
	for _, s := range chunks {
		c.chunks = append(c.chunks, []byte(s))
	}
	return c
}

func (c *chunkReader) Read(p []byte) (int, error) {
	for len(c.chunks) > 0 && len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	return n, nil
}

func parseAll(t *testing.T, src io.Reader) ([]Header, string) {
	t.Helper()
	r := NewHeaderReader(src)
	headers, err := r.All()
	require.NoError(t, err)
	body, err := io.ReadAll(r.Body())
	require.NoError(t, err)
	return headers, string(body)
}

const sampleResponse = "Status: 404 Not Found\r\n" +
	"X-Powered-By: PHP/8.2.0\r\n" +
	"Set-Cookie: a=1\r\n" +
	"Set-Cookie: b=2\r\n" +
	"Content-type: text/html; charset=UTF-8\r\n" +
	"\r\n" +
	"<html>\r\n\r\nbody: with colon</html>"

var sampleHeaders = []Header{
	{"Status", "404 Not Found"},
	{"X-Powered-By", "PHP/8.2.0"},
	{"Set-Cookie", "a=1"},
	{"Set-Cookie", "b=2"},
	{"Content-type", "text/html; charset=UTF-8"},
}

const sampleBody = "<html>\r\n\r\nbody: with colon</html>"

func TestHeaderReaderSingleChunk(t *testing.T) {
	headers, body := parseAll(t, newChunkReader(sampleResponse))
	assert.Equal(t, sampleHeaders, headers)
	assert.Equal(t, sampleBody, body)
}

func TestHeaderReaderChunkBoundaryInvariance(t *testing.T) {
	// 所有单切分点
	for i := 0; i <= len(sampleResponse); i++ {
		headers, body := parseAll(t, newChunkReader(sampleResponse[:i], sampleResponse[i:]))
		assert.Equal(t, sampleHeaders, headers, "split at %d", i)
		assert.Equal(t, sampleBody, body, "split at %d", i)
	}

	// 所有双切分点
	for i := 0; i <= len(sampleResponse); i++ {
		for j := i; j <= len(sampleResponse); j++ {
			headers, body := parseAll(t, newChunkReader(sampleResponse[:i], sampleResponse[i:j], sampleResponse[j:]))
			require.Equal(t, sampleHeaders, headers, "split at %d,%d", i, j)
			require.Equal(t, sampleBody, body, "split at %d,%d", i, j)
		}
	}
}

func TestHeaderReaderOneByteChunks(t *testing.T) {
	headers, body := parseAll(t, iotest.OneByteReader(newChunkReader(sampleResponse)))
	assert.Equal(t, sampleHeaders, headers)
	assert.Equal(t, sampleBody, body)
}

func TestHeaderReaderCRLFStraddlesBoundary(t *testing.T) {
	headers, body := parseAll(t, newChunkReader("A: 1\r", "\nB: 2\r", "\n\r", "\nrest"))
	assert.Equal(t, []Header{{"A", "1"}, {"B", "2"}}, headers)
	assert.Equal(t, "rest", body)
}

func TestHeaderReaderLoneCRIsData(t *testing.T) {
	// CR 之后不是 LF 时属于头值的一部分
	headers, _ := parseAll(t, newChunkReader("A: x\r", "y\r\n\r\n"))
	assert.Equal(t, []Header{{"A", "x\ry"}}, headers)
}

func TestHeaderReaderZeroHeaders(t *testing.T) {
	headers, body := parseAll(t, newChunkReader("\r\n"))
	assert.Empty(t, headers)
	assert.Equal(t, "", body)

	headers, body = parseAll(t, newChunkReader("\r", "\n", "payload"))
	assert.Empty(t, headers)
	assert.Equal(t, "payload", body)
}

func TestHeaderReaderUpstreamClosesEarly(t *testing.T) {
	headers, body := parseAll(t, newChunkReader("A: 1\r\nB: 2\r\nC: incompl"))
	assert.Equal(t, []Header{{"A", "1"}, {"B", "2"}}, headers)
	assert.Equal(t, "", body)

	headers, body = parseAll(t, newChunkReader(""))
	assert.Empty(t, headers)
	assert.Equal(t, "", body)
}

func TestHeaderReaderLazy(t *testing.T) {
	src := newChunkReader("A: 1\r\nB: 2\r\n", "\r\nbody")
	r := NewHeaderReader(src)

	h, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Header{"A", "1"}, h)
	// 第二块还没有被读取
	assert.Equal(t, "\r\nbody", string(src.chunks[len(src.chunks)-1]))

	h, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, Header{"B", "2"}, h)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestHeaderReaderMalformedLines(t *testing.T) {
	headers, _ := parseAll(t, newChunkReader("garbage\r\nX-A:tight\r\nX-B: two: parts\r\n\r\n"))
	assert.Equal(t, []Header{{"X-A", "tight"}, {"X-B", "two: parts"}}, headers)
}

func TestHeaderReaderLineLimit(t *testing.T) {
	r := NewHeaderReaderSize(newChunkReader("X-Long: ", "aaaaaaaaaa", "aaaaaaaaaa", "\r\n\r\n"), 8, 16)
	_, err := r.Next()
	assert.ErrorIs(t, err, ErrHeaderTooLong)
}

func TestHeaderReaderSourceError(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewHeaderReader(io.MultiReader(newChunkReader("A: 1\r\n"), iotest.ErrReader(boom)))

	h, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "A", h.Name)

	_, err = r.Next()
	assert.ErrorIs(t, err, boom)
}
