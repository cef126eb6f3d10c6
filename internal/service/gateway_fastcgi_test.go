package service

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fpm-gateway/internal/config"
	"fpm-gateway/internal/fastcgi"
	"fpm-gateway/internal/fastcgi/fcgitest"
)

func newPoolGateway(t *testing.T, files map[string]string, h fcgitest.HandlerFunc) (*GatewayService, *fcgitest.Server) {
	t.Helper()
	srv := fcgitest.NewServer(t, h)
	pool, err := fastcgi.NewPool(srv.Endpoint(), fastcgi.Options{MaxConns: 2, Timeout: 5 * time.Second})
	require.NoError(t, err)
	vh := newSite(t, files, config.RewriteConfig{})
	return NewGatewayService(vh, pool), srv
}

func TestGatewayKeepsInterpreterWarningsOutOfResponse(t *testing.T) {
	gw, _ := newPoolGateway(t, map[string]string{"app.php": "<?php"}, func(req *fcgitest.Request, w *fcgitest.ResponseWriter) {
		io.WriteString(w.Stderr(), "PHP message: PHP Warning: secret in /var/www/app.php on line 3\n")
		io.WriteString(w.Stdout(), "Content-Type: text/plain\r\n\r\nhello")
	})

	r, req := newRequest("GET", "/app.php", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, gw.Invoke(rec, r, req, InvokeOptions{}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "hello", rec.Body.String())
	for name, values := range rec.Header() {
		assert.NotContains(t, name, "Warning")
		for _, v := range values {
			assert.NotContains(t, v, "secret")
		}
	}
}

func TestGatewayLargeUploadWhileInterpreterAnswersFirst(t *testing.T) {
	const outSize = 5 << 20
	gw, srv := newPoolGateway(t, map[string]string{"upload.php": "<?php"}, func(req *fcgitest.Request, w *fcgitest.ResponseWriter) {
		io.WriteString(w.Stdout(), "Content-Type: application/octet-stream\r\n\r\n")
		w.Stdout().Write(bytes.Repeat([]byte("o"), outSize))
		io.Copy(io.Discard, req.Stdin)
	})

	body := strings.Repeat("i", 8<<20)
	r, req := newRequest("POST", "/upload.php", strings.NewReader(body))
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))

	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() { done <- gw.Invoke(rec, r, req, InvokeOptions{}) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("upload with early response did not complete")
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, outSize, rec.Body.Len())

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, strconv.Itoa(len(body)), reqs[0]["CONTENT_LENGTH"])
}
