package certstore

import (
	"context"
	"crypto/tls"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileSource 从 <Dir>/<host>/<CertFile> 和 <KeyFile> 读取证书，例如 letsencrypt 的 live 目录
type FileSource struct {
	Dir      string
	CertFile string
	KeyFile  string
}

func (f *FileSource) Load(_ context.Context, host string) (*tls.Certificate, error) {
	dir := filepath.Join(f.Dir, host)
	cert, err := tls.LoadX509KeyPair(filepath.Join(dir, f.CertFile), filepath.Join(dir, f.KeyFile))
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// Watch 监听各主机的证书目录，变化平息 debounce 后重新加载，ctx 取消后返回
func (f *FileSource) Watch(ctx context.Context, store *Store, hosts []string, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs := make(map[string]string, len(hosts))
	for _, host := range hosts {
		dir := filepath.Join(f.Dir, host)
		if err := watcher.Add(dir); err != nil {
			slog.Warn("[CertStore] 无法监听证书目录", "dir", dir, "error", err)
			continue
		}
		dirs[dir] = host
	}
	slog.Info("[CertStore] 开始监听证书变化", "dirs", len(dirs))

	pending := make(map[string]bool)
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if host, ok := dirs[filepath.Dir(ev.Name)]; ok {
				pending[host] = true
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("[CertStore] 监听出错", "error", err)

		case <-timer.C:
			for host := range pending {
				store.reload(ctx, f, host)
			}
			clear(pending)
		}
	}
}
