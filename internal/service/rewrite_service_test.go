package service

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fpm-gateway/internal/config"
)

func TestNewRewriteStrategy(t *testing.T) {
	assert.Nil(t, NewRewriteStrategy(config.RewriteConfig{}, OSFileSystem{}))

	s := NewRewriteStrategy(config.RewriteConfig{Strategy: config.RewriteFixed404Script}, OSFileSystem{})
	require.IsType(t, &Fixed404Script{}, s)
	assert.Equal(t, "404.php", s.(*Fixed404Script).Script)

	s = NewRewriteStrategy(config.RewriteConfig{Strategy: config.RewriteFrontController, Script: "app.php"}, OSFileSystem{})
	require.IsType(t, &FrontController{}, s)
	assert.Equal(t, "app.php", s.(*FrontController).Script)
}

func TestFixed404Script(t *testing.T) {
	rewrite := config.RewriteConfig{Strategy: config.RewriteFixed404Script}
	vh := newSite(t, map[string]string{
		"404.php":     "<?php",
		"sub/404.php": "<?php",
		"50%/404.php": "<?php",
		"bare":        "",
	}, rewrite)
	client := &fakeClient{respond: func(params map[string]string, _ []byte) (string, string) {
		return "Content-Type: text/html\r\n\r\nnot here: " + params["SCRIPT_NAME"], ""
	}}
	gw := NewGatewayService(vh, client)
	strategy := NewRewriteStrategy(rewrite, OSFileSystem{})

	tests := []struct {
		target string
		script string
	}{
		{"/missing", "/404.php"},
		{"/missing?x=1", "/404.php"},
		{"/sub/missing.php", "/sub/404.php"},
		{"/sub/deeper/", "/sub/deeper/404.php"},
		{"/50%25/missing.php", "/50%/404.php"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			r, req := newRequest("GET", tt.target, nil)
			rec := httptest.NewRecorder()

			handled := strategy.Rewrite(rec, r, req, gw, vh.DocumentRoot)
			if tt.target == "/sub/deeper/" {
				// 目录里没有 404.php
				assert.False(t, handled)
				return
			}
			require.True(t, handled)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "not here: "+tt.script, rec.Body.String())
			assert.Equal(t, filepath.Join(vh.DocumentRoot, filepath.FromSlash(tt.script)), client.lastParams(t)["SCRIPT_FILENAME"])
		})
	}
}

func TestFixed404ScriptDeclines(t *testing.T) {
	rewrite := config.RewriteConfig{Strategy: config.RewriteFixed404Script}
	vh := newSite(t, map[string]string{"sub/page.html": "x"}, rewrite)
	client := &fakeClient{}
	strategy := NewRewriteStrategy(rewrite, OSFileSystem{})

	r, req := newRequest("GET", "/missing", nil)
	rec := httptest.NewRecorder()
	assert.False(t, strategy.Rewrite(rec, r, req, NewGatewayService(vh, client), vh.DocumentRoot))
	assert.Equal(t, 0, client.calls())
}

func TestFrontController(t *testing.T) {
	rewrite := config.RewriteConfig{Strategy: config.RewriteFrontController}
	vh := newSite(t, map[string]string{"index.php": "<?php"}, rewrite)
	client := &fakeClient{}
	strategy := NewRewriteStrategy(rewrite, OSFileSystem{})

	r, req := newRequest("GET", "/posts/42?p=2", nil)
	rec := httptest.NewRecorder()
	require.True(t, strategy.Rewrite(rec, r, req, NewGatewayService(vh, client), vh.DocumentRoot))

	params := client.lastParams(t)
	assert.Equal(t, filepath.Join(vh.DocumentRoot, "index.php"), params["SCRIPT_FILENAME"])
	assert.Equal(t, "/posts/42", params["DOCUMENT_URI"])
	assert.Equal(t, "p=2", params["QUERY_STRING"])
	assert.Equal(t, "/posts/42?p=2", params["REQUEST_URI"])
	assert.Equal(t, http.StatusOK, rec.Code)
}

// SCRIPT_FILENAME 对所有可达的处理方式都位于文档根之下
func TestScriptFilenameUnderRoot(t *testing.T) {
	for _, strategy := range []string{config.RewriteFixed404Script, config.RewriteFrontController} {
		rewrite := config.RewriteConfig{Strategy: strategy}
		vh := newSite(t, map[string]string{
			"a.php":          "<?php",
			"blog/index.php": "<?php",
			"404.php":        "<?php",
			"index.php":      "<?php",
		}, rewrite)
		client := &fakeClient{}
		gw := NewGatewayService(vh, client)
		resolver := NewResolverService(OSFileSystem{})
		rw := NewRewriteStrategy(rewrite, OSFileSystem{})

		for _, target := range []string{"/a.php", "/blog/", "/nope", "/%2e%2e/%2e%2e/etc/passwd", "/blog/../../x"} {
			r, req := newRequest("GET", "/", nil)
			req.Target = target
			res, err := resolver.Resolve(req, vh)
			require.NoError(t, err, target)

			rec := httptest.NewRecorder()
			switch res.Disposition {
			case DispositionScript, DispositionIndex:
				require.NoError(t, gw.Invoke(rec, r, req, InvokeOptions{Override: res.Override}))
			case DispositionRewrite:
				if !rw.Rewrite(rec, r, req, gw, vh.DocumentRoot) {
					continue
				}
			default:
				t.Fatalf("%s: unexpected disposition %s", target, res.Disposition)
			}
			assert.True(t, strings.HasPrefix(client.lastParams(t)["SCRIPT_FILENAME"], vh.DocumentRoot+string(filepath.Separator)), target)
		}
	}
}
