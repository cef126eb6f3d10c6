package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv 加载 .env 文件，文件不存在时忽略
func LoadEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return err
	}
	slog.Info("[Config] 已加载环境变量文件", "files", existing)
	return nil
}

func Init(configPath string) (*ConfigManager, error) {
	slog.Info("[Config] 初始化配置管理器...")

	configManager, err := NewConfigManager(configPath)
	if err != nil {
		slog.Error("[Config] 初始化配置管理器失败", "error", err)
		return nil, err
	}

	slog.Info("[Config] 配置管理器初始化成功")
	return configManager, nil
}
