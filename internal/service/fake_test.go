package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"fpm-gateway/internal/config"
	"fpm-gateway/internal/fastcgi"
	"fpm-gateway/internal/models"
)

// fakeClient 读完 stdin 后调用 respond 生成输出
type fakeClient struct {
	mu      sync.Mutex
	params  []map[string]string
	openErr error
	panics  bool
	respond func(params map[string]string, stdin []byte) (stdout, stderr string)
}

func (c *fakeClient) Open(_ context.Context, params map[string]string) (fastcgi.Exchange, error) {
	if c.panics {
		panic("interpreter client exploded")
	}
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.mu.Lock()
	c.params = append(c.params, params)
	c.mu.Unlock()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		body, _ := io.ReadAll(stdinR)
		out, errOut := "Content-Type: text/plain\r\n\r\n", ""
		if c.respond != nil {
			out, errOut = c.respond(params, body)
		}
		go func() {
			io.WriteString(stderrW, errOut)
			stderrW.Close()
		}()
		io.WriteString(stdoutW, out)
		stdoutW.Close()
	}()

	return &fakeExchange{stdinR: stdinR, stdinW: stdinW, stdoutR: stdoutR, stderrR: stderrR}, nil
}

func (c *fakeClient) Endpoint() fastcgi.Endpoint {
	return fastcgi.Endpoint{Network: "tcp", Address: "127.0.0.1:9000"}
}

func (c *fakeClient) lastParams(t *testing.T) map[string]string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.params, "interpreter was never invoked")
	return c.params[len(c.params)-1]
}

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.params)
}

type fakeExchange struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stderrR *io.PipeReader
}

func (x *fakeExchange) Stdin() io.WriteCloser { return x.stdinW }
func (x *fakeExchange) Stdout() io.Reader     { return x.stdoutR }
func (x *fakeExchange) Stderr() io.Reader     { return x.stderrR }

func (x *fakeExchange) Close() error {
	x.stdinR.Close()
	x.stdoutR.Close()
	x.stderrR.Close()
	return nil
}

// newSite 在临时目录下创建文档根，files 的值为空时创建目录
func newSite(t *testing.T, files map[string]string, rewrite config.RewriteConfig) *models.VirtualHost {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if content == "" && filepath.Ext(name) == "" {
			require.NoError(t, os.MkdirAll(p, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return models.NewVirtualHost("example.com", config.HostConfig{
		DocumentRoot: root,
		FastCGI:      "tcp://127.0.0.1:9000",
		Rewrite:      rewrite,
	}, false)
}

// newRequest 的 Host 为 example.com，RequestURI 为 target
func newRequest(method, target string, body io.Reader) (*http.Request, *models.RequestDescriptor) {
	r := httptest.NewRequest(method, target, body)
	return r, models.NewRequestDescriptor(r)
}
