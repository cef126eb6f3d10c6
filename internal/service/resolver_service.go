package service

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"fpm-gateway/internal/cgi"
	"fpm-gateway/internal/constants"
	gwerrors "fpm-gateway/internal/errors"
	"fpm-gateway/internal/models"
)

// Disposition 请求的处理方式
type Disposition int

const (
	DispositionNotFound Disposition = iota
	DispositionScript
	DispositionIndex
	DispositionDirectoryRedirect
	DispositionStatic
	DispositionRewrite
)

func (d Disposition) String() string {
	switch d {
	case DispositionNotFound:
		return "not-found"
	case DispositionScript:
		return "script"
	case DispositionIndex:
		return "index"
	case DispositionDirectoryRedirect:
		return "directory-redirect"
	case DispositionStatic:
		return "static"
	case DispositionRewrite:
		return "rewrite"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}

// Resolution 路径解析结果
type Resolution struct {
	Disposition Disposition
	Filename    string        // 目标在磁盘上的绝对路径
	ScriptName  string        // 清理后的文档根相对路径
	Override    *cgi.Override // 仅 DispositionIndex
	Location    string        // 仅 DispositionDirectoryRedirect
}

// ResolverService 按顺序判断目录、脚本、静态文件，都不匹配时交给重写链
type ResolverService struct {
	fs FileSystem
}

func NewResolverService(fs FileSystem) *ResolverService {
	return &ResolverService{fs: fs}
}

// Resolve 在任何文件系统访问之前校验请求目标
func (s *ResolverService) Resolve(req *models.RequestDescriptor, vh *models.VirtualHost) (Resolution, error) {
	target := req.Target
	if target == "" || target[0] != '/' {
		return Resolution{}, gwerrors.New(gwerrors.ErrInvalidRequestTarget, "invalid uri")
	}

	document, _, hasQuery := cgi.SplitTarget(target)
	filename, scriptName, err := cgi.ResolveScript(vh.DocumentRoot, document)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{Filename: filename, ScriptName: scriptName}

	info, err := s.fs.Stat(filename)
	if err != nil {
		return Resolution{}, err
	}

	switch {
	case info.IsDir:
		if !strings.HasSuffix(document, "/") {
			res.Disposition = DispositionDirectoryRedirect
			res.Location = document + "/"
			if hasQuery {
				// 保留原始查询串
				res.Location += target[len(document):]
			}
			return res, nil
		}

		index := filepath.Join(filename, vh.IndexScript)
		if s.fs.Access(index) {
			res.Disposition = DispositionIndex
			res.Filename = index
			res.ScriptName = path.Join(scriptName, vh.IndexScript)
			res.Override = &cgi.Override{Script: res.ScriptName}
			return res, nil
		}
		res.Disposition = DispositionRewrite

	case info.Exists && strings.HasSuffix(filename, constants.ScriptSuffix):
		res.Disposition = DispositionScript

	case info.Exists:
		res.Disposition = DispositionStatic

	default:
		res.Disposition = DispositionRewrite
	}

	return res, nil
}
