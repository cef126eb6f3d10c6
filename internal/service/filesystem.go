package service

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// FileInfo 路径状态，不存在不是错误
type FileInfo struct {
	Exists bool
	IsDir  bool
}

// FileSystem 文件系统协作者
type FileSystem interface {
	Stat(path string) (FileInfo, error)
	// Access 不区分无权限和不存在
	Access(path string) bool
}

// OSFileSystem 基于本地磁盘的实现
type OSFileSystem struct{}

func (OSFileSystem) Stat(path string) (FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.ENOTDIR) {
			return FileInfo{}, nil
		}
		return FileInfo{}, err
	}
	return FileInfo{Exists: true, IsDir: st.IsDir()}, nil
}

func (OSFileSystem) Access(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
