package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	gwerrors "fpm-gateway/internal/errors"
	"fpm-gateway/internal/utils"
)

type ConfigManager struct {
	config     *Config
	configPath string
}

func NewConfigManager(configPath string) (*ConfigManager, error) {
	cm := &ConfigManager{
		configPath: configPath,
	}

	config, err := cm.loadConfigFromFile()
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	cm.config = config
	slog.Info("[ConfigManager] 配置已加载", "hosts", len(config.Hosts), "path", configPath)

	return cm, nil
}

// loadConfigFromFile 从文件加载配置，按扩展名选择 JSON 或 YAML
func (cm *ConfigManager) loadConfigFromFile() (*Config, error) {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		// 如果文件不存在，创建默认配置
		if os.IsNotExist(err) {
			if createErr := cm.createDefaultConfig(); createErr != nil {
				return nil, createErr
			}
			slog.Warn("[ConfigManager] 配置文件不存在，已写入默认配置", "path", cm.configPath)
			return cm.loadConfigFromFile()
		}
		return nil, err
	}

	return Parse(data, filepath.Ext(cm.configPath))
}

// Parse 解析配置内容，ext 为 ".yaml"/".yml" 时按 YAML 解析，否则按 JSON
func Parse(data []byte, ext string) (*Config, error) {
	var config Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, gwerrors.Wrap(gwerrors.ErrInvalidConfig, "parse yaml config", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, gwerrors.Wrap(gwerrors.ErrInvalidConfig, "parse json config", err)
		}
	}
	config.normalize()
	return &config, nil
}

// normalize 主机名统一小写，补齐默认值
func (c *Config) normalize() {
	hosts := make(map[string]HostConfig, len(c.Hosts))
	for name, hc := range c.Hosts {
		hc.Alias = strings.ToLower(strings.TrimSpace(hc.Alias))
		hosts[strings.ToLower(strings.TrimSpace(name))] = hc
	}
	c.Hosts = hosts

	for i, h := range c.SecureRedirect {
		c.SecureRedirect[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for i, h := range c.TLS.Hosts {
		c.TLS.Hosts[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for i, d := range c.Metrics.Domains {
		c.Metrics.Domains[i].Host = strings.ToLower(strings.TrimSpace(d.Host))
	}

	if c.TLS.CertFile == "" {
		c.TLS.CertFile = "fullchain.pem"
	}
	if c.TLS.KeyFile == "" {
		c.TLS.KeyFile = "privkey.pem"
	}
	if c.Metrics.Sink == "" {
		c.Metrics.Sink = SinkCloudWatch
	}
}

// Validate 检查配置的一致性
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return gwerrors.New(gwerrors.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.DefaultRoot != "" && !filepath.IsAbs(c.DefaultRoot) {
		return invalid("DefaultRoot %q must be absolute", c.DefaultRoot)
	}

	for _, name := range c.HostNames() {
		hc := c.Hosts[name]
		kinds := 0
		for _, set := range []bool{hc.DocumentRoot != "", hc.Alias != "", hc.RedirectTo != "", hc.StaticRoot != ""} {
			if set {
				kinds++
			}
		}
		if kinds != 1 {
			return invalid("host %s must set exactly one of DocumentRoot, Alias, RedirectTo, StaticRoot", name)
		}

		switch {
		case hc.DocumentRoot != "":
			if !filepath.IsAbs(hc.DocumentRoot) {
				return invalid("host %s: DocumentRoot %q must be absolute", name, hc.DocumentRoot)
			}
			if hc.FastCGI == "" {
				return invalid("host %s: FastCGI endpoint is required", name)
			}
			switch hc.Rewrite.Strategy {
			case RewriteNone, RewriteFixed404Script, RewriteFrontController:
			default:
				return invalid("host %s: unknown rewrite strategy %q", name, hc.Rewrite.Strategy)
			}
			if strings.Contains(hc.Rewrite.Script, "/") || strings.Contains(hc.IndexScript, "/") {
				return invalid("host %s: rewrite and index scripts must be plain file names", name)
			}
		case hc.StaticRoot != "":
			if !filepath.IsAbs(hc.StaticRoot) {
				return invalid("host %s: StaticRoot %q must be absolute", name, hc.StaticRoot)
			}
		case hc.Alias != "":
			target, ok := c.Hosts[hc.Alias]
			if !ok {
				return invalid("host %s: alias target %s is not configured", name, hc.Alias)
			}
			if target.Alias != "" {
				return invalid("host %s: alias target %s is itself an alias", name, hc.Alias)
			}
		}
	}

	for _, name := range c.TLS.Hosts {
		if _, ok := c.Hosts[name]; !ok {
			return invalid("TLS host %s has no host entry", name)
		}
	}

	if c.Admin.Listen != "" {
		if _, ok := c.Hosts[strings.ToLower(c.Admin.Host)]; !ok {
			return invalid("admin host %s has no host entry", c.Admin.Host)
		}
	}

	switch c.Metrics.Sink {
	case SinkCloudWatch, SinkSQLite:
	default:
		return invalid("unknown metrics sink %q", c.Metrics.Sink)
	}
	if c.Metrics.MaxValuesPerRecord < 0 || c.Metrics.MaxValuesPerRecord > 150 {
		return invalid("Metrics.MaxValuesPerRecord must be between 1 and 150")
	}
	if c.Metrics.Enabled && c.Metrics.Sink == SinkSQLite && c.Metrics.SQLitePath == "" {
		return invalid("metrics sink sqlite requires SQLitePath")
	}

	return nil
}

// HostNames 返回排序后的主机名列表
func (c *Config) HostNames() []string {
	names := make([]string, 0, len(c.Hosts))
	for name := range c.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyEnvOverrides 环境变量优先于配置文件
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GATEWAY_METRICS_NAMESPACE"); v != "" {
		c.Metrics.Namespace = v
	}
	if v := os.Getenv("GATEWAY_METRICS_REGION"); v != "" {
		c.Metrics.Region = v
	}
	if v := os.Getenv("GATEWAY_METRICS_SINK"); v != "" {
		c.Metrics.Sink = strings.ToLower(v)
	}
	if v := os.Getenv("GATEWAY_SECURE_REDIRECT"); v != "" {
		c.SecureRedirect = nil
		for _, h := range utils.SplitList(v) {
			c.SecureRedirect = append(c.SecureRedirect, strings.ToLower(h))
		}
	}
	if v := os.Getenv("GATEWAY_TLS_S3_ACCESS_KEY_ID"); v != "" {
		c.TLS.S3.AccessKeyID = v
	}
	if v := os.Getenv("GATEWAY_TLS_S3_SECRET_ACCESS_KEY"); v != "" {
		c.TLS.S3.SecretAccessKey = v
	}
}

// createDefaultConfig 创建默认配置文件
func (cm *ConfigManager) createDefaultConfig() error {
	if dir := filepath.Dir(cm.configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	defaultConfig := DefaultConfig()

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(defaultConfig)
	default:
		data, err = json.MarshalIndent(defaultConfig, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(cm.configPath, data, 0644)
}

// DefaultConfig 默认配置：本机一个 PHP 站点
func DefaultConfig() Config {
	return Config{
		Listen: ListenConfig{
			HTTP: []string{":8080"},
		},
		DefaultRoot: "/var/www/html",
		Hosts: map[string]HostConfig{
			"localhost": {
				DocumentRoot: "/var/www/html",
				FastCGI:      "tcp://127.0.0.1:9000",
				Rewrite: RewriteConfig{
					Strategy: RewriteFixed404Script,
					Script:   "404.php",
				},
			},
			"127.0.0.1": {
				Alias: "localhost",
			},
		},
		TLS: TLSConfig{
			CertDir:  "/etc/letsencrypt/live",
			CertFile: "fullchain.pem",
			KeyFile:  "privkey.pem",
		},
		FastCGI: FastCGIConfig{
			Timeout:     Duration(60_000_000_000),
			DialTimeout: Duration(5_000_000_000),
			MaxConns:    64,
		},
		Metrics: MetricsConfig{
			Sink:      SinkCloudWatch,
			Namespace: "DTS",
			Region:    "ap-east-1",
		},
		Compression: CompressionConfig{
			Gzip: CompressorConfig{
				Enabled: true,
				Level:   6,
			},
			Brotli: CompressorConfig{
				Enabled: true,
				Level:   6,
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// GetConfig 获取配置，启动后只读
func (cm *ConfigManager) GetConfig() *Config {
	return cm.config
}
