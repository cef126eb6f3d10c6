package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"fpm-gateway/internal/cgi"
	"fpm-gateway/internal/constants"
)

// StaticHandler 静态文件协作者。隐藏文件和脚本文件一律视为不存在
type StaticHandler struct {
	root  string
	index string // 目录索引文件，空字符串表示不处理目录
}

// NewStaticHandler 创建只服务静态文件的站点处理器，目录请求使用 index.html
func NewStaticHandler(root string) *StaticHandler {
	return &StaticHandler{root: filepath.Clean(root), index: "index.html"}
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.ServeFile(w, r, h.root) {
		http.NotFound(w, r)
	}
}

// ServeFile 在 root 下查找请求路径对应的文件并输出，没有匹配文件时返回 false 且不写响应
func (h *StaticHandler) ServeFile(w http.ResponseWriter, r *http.Request, root string) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}

	_, name, err := cgi.ResolveScript(root, r.URL.EscapedPath())
	if err != nil || hiddenPath(name) {
		return false
	}
	filename := filepath.Join(root, filepath.FromSlash(name))

	f, st, ok := openRegular(filename)
	if !ok && st != nil && st.IsDir() && h.index != "" {
		if !strings.HasSuffix(r.URL.Path, "/") {
			http.Redirect(w, r, path.Base(r.URL.Path)+"/", http.StatusMovedPermanently)
			return true
		}
		filename = filepath.Join(filename, h.index)
		f, st, ok = openRegular(filename)
	}
	if !ok {
		return false
	}
	defer f.Close()

	if strings.HasSuffix(filename, constants.ScriptSuffix) {
		return false
	}

	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
	return true
}

// openRegular 仅在目标为普通文件时返回打开的文件，目录时返回其 FileInfo
func openRegular(filename string) (*os.File, os.FileInfo, bool) {
	f, err := os.Open(filename)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrPermission) {
			slog.Debug("[Static] 打开文件失败", "file", filename, "error", err)
		}
		return nil, nil, false
	}
	st, err := f.Stat()
	if err != nil || !st.Mode().IsRegular() {
		f.Close()
		return nil, st, false
	}
	return f, st, true
}

func hiddenPath(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
