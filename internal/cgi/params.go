package cgi

import (
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"fpm-gateway/internal/constants"
	gwerrors "fpm-gateway/internal/errors"
	"fpm-gateway/internal/models"
)

// Params CGI 参数集，同名参数后写覆盖先写
type Params map[string]string

// Override 重写链用来指定其他脚本或文档路径，不修改原始请求
type Override struct {
	Script   string // 相对文档根的脚本路径，已解码，例如 /blog/index.php
	Document string // 作为 DOCUMENT_URI 的路径
}

// SplitTarget 把请求目标拆成文档路径和查询串。
// 第一个 '?' 之后的内容为查询串，其中多余的 '?' 按字面数据处理并替换为 '&'。
func SplitTarget(target string) (document, query string, hasQuery bool) {
	i := strings.IndexByte(target, '?')
	if i < 0 {
		return target, "", false
	}
	return target[:i], strings.ReplaceAll(target[i+1:], "?", "&"), true
}

// ResolveScript 把文档根相对路径解析成绝对文件名，结果总在文档根之下
func ResolveScript(root, scriptPath string) (filename, scriptName string, err error) {
	decoded, err := url.PathUnescape(scriptPath)
	if err != nil {
		return "", "", gwerrors.Wrap(gwerrors.ErrInvalidRequestTarget, "invalid escape in path", err)
	}
	return CleanScript(root, decoded)
}

// CleanScript 与 ResolveScript 相同，但路径已经解码，不再处理百分号转义
func CleanScript(root, decoded string) (filename, scriptName string, err error) {
	if strings.IndexByte(decoded, 0) >= 0 {
		return "", "", gwerrors.New(gwerrors.ErrInvalidRequestTarget, "NUL byte in path")
	}

	scriptName = path.Clean("/" + decoded)
	filename = filepath.Join(root, filepath.FromSlash(scriptName))
	return filename, scriptName, nil
}

// BuildParams 由请求描述和站点配置生成 CGI 参数，纯函数，不做任何 I/O
func BuildParams(req *models.RequestDescriptor, vh *models.VirtualHost, override *Override) (Params, error) {
	target := req.Target
	if target == "" || target[0] != '/' {
		return nil, gwerrors.New(gwerrors.ErrInvalidRequestTarget, "invalid uri")
	}

	document, query, hasQuery := SplitTarget(target)

	var (
		filename, scriptName string
		err                  error
	)
	if override != nil && override.Script != "" {
		filename, scriptName, err = CleanScript(vh.DocumentRoot, override.Script)
	} else {
		filename, scriptName, err = ResolveScript(vh.DocumentRoot, document)
	}
	if err != nil {
		return nil, err
	}
	if override != nil && override.Document != "" {
		document = override.Document
	}

	proto := req.Proto
	if proto == "" {
		proto = constants.DefaultProtocol
	}

	p := Params{
		"GATEWAY_INTERFACE": constants.GatewayInterface,
		"SERVER_SOFTWARE":   constants.ServerSoftware,
		"SERVER_PROTOCOL":   proto,
		"REDIRECT_STATUS":   constants.RedirectStatus,
		"REQUEST_METHOD":    req.Method,
		"REQUEST_URI":       target,
		"DOCUMENT_URI":      document,
		"DOCUMENT_ROOT":     vh.DocumentRoot,
		"SCRIPT_FILENAME":   filename,
		"SCRIPT_NAME":       scriptName,
		"REQUEST_SCHEME":    req.Scheme,
	}

	if hasQuery {
		p["QUERY_STRING"] = query
	}
	if req.TLS {
		p["HTTPS"] = "on"
	}

	p.setIf("CONTENT_TYPE", req.Header.Get("Content-Type"))
	p.setIf("CONTENT_LENGTH", req.Header.Get("Content-Length"))
	p.setIf("CONTENT_DISPOSITION", req.Header.Get("Content-Disposition"))
	p.setIf("SERVER_NAME", req.Hostname())
	p.setIf("REMOTE_ADDR", req.RemoteAddr)
	p.setIf("REMOTE_PORT", req.RemotePort)
	p.setIf("SERVER_ADDR", req.ServerAddr)
	p.setIf("SERVER_PORT", req.ServerPort)

	// 排序保证 X-A 与 X_A 这类冲突的结果是确定的
	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p[HeaderParamName(name)] = joinHeaderValues(name, req.Header[name])
	}

	return p, nil
}

// HeaderParamName X-Forwarded-For -> HTTP_X_FORWARDED_FOR
func HeaderParamName(name string) string {
	return "HTTP_" + strings.ReplaceAll(strings.ToUpper(name), "-", "_")
}

func joinHeaderValues(name string, values []string) string {
	if strings.EqualFold(name, "Cookie") {
		return strings.Join(values, "; ")
	}
	return strings.Join(values, ", ")
}

func (p Params) setIf(name, value string) {
	if value != "" {
		p[name] = value
	}
}
