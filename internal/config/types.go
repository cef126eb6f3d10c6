package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Listen         ListenConfig          `json:"Listen" yaml:"Listen"`
	DefaultRoot    string                `json:"DefaultRoot" yaml:"DefaultRoot"` // 未匹配主机名时的静态目录
	Hosts          map[string]HostConfig `json:"Hosts" yaml:"Hosts"`             // 主机名 -> 站点配置
	SecureRedirect []string              `json:"SecureRedirect" yaml:"SecureRedirect"`
	TLS            TLSConfig             `json:"TLS" yaml:"TLS"`
	FastCGI        FastCGIConfig         `json:"FastCGI" yaml:"FastCGI"`
	Metrics        MetricsConfig         `json:"Metrics" yaml:"Metrics"`
	Compression    CompressionConfig     `json:"Compression" yaml:"Compression"`
	Admin          AdminConfig           `json:"Admin" yaml:"Admin"`
	Log            LogConfig             `json:"Log" yaml:"Log"`
}

type ListenConfig struct {
	HTTP  []string `json:"HTTP" yaml:"HTTP"`
	HTTPS []string `json:"HTTPS" yaml:"HTTPS"`
	H2C   bool     `json:"H2C" yaml:"H2C"` // 明文端口是否接受 HTTP/2 (h2c)
}

// HostConfig 单个主机名的配置，DocumentRoot/Alias/RedirectTo/StaticRoot 四选一
type HostConfig struct {
	DocumentRoot string        `json:"DocumentRoot,omitempty" yaml:"DocumentRoot,omitempty"`
	FastCGI      string        `json:"FastCGI,omitempty" yaml:"FastCGI,omitempty"` // tcp://127.0.0.1:9000 或 unix:///run/php/php-fpm.sock
	IndexScript  string        `json:"IndexScript,omitempty" yaml:"IndexScript,omitempty"`
	Rewrite      RewriteConfig `json:"Rewrite,omitempty" yaml:"Rewrite,omitempty"`
	Alias        string        `json:"Alias,omitempty" yaml:"Alias,omitempty"`           // 与另一个主机名共享同一站点
	RedirectTo   string        `json:"RedirectTo,omitempty" yaml:"RedirectTo,omitempty"` // 跳转到另一个主机名
	StaticRoot   string        `json:"StaticRoot,omitempty" yaml:"StaticRoot,omitempty"` // 纯静态站点
}

const (
	RewriteNone            = ""
	RewriteFixed404Script  = "fixed-404-script"
	RewriteFrontController = "front-controller"
)

type RewriteConfig struct {
	Strategy string `json:"Strategy,omitempty" yaml:"Strategy,omitempty"`
	Script   string `json:"Script,omitempty" yaml:"Script,omitempty"`
}

type TLSConfig struct {
	Hosts    []string `json:"Hosts" yaml:"Hosts"`       // 需要加载证书的主机名
	CertDir  string   `json:"CertDir" yaml:"CertDir"`   // 证书目录，按主机名分子目录
	CertFile string   `json:"CertFile" yaml:"CertFile"` // 子目录内的证书链文件名
	KeyFile  string   `json:"KeyFile" yaml:"KeyFile"`   // 子目录内的私钥文件名
	Watch    bool     `json:"Watch" yaml:"Watch"`       // 证书文件变化时自动重新加载
	S3       S3Config `json:"S3" yaml:"S3"`
}

// S3Config 从对象存储加载证书，Bucket 为空表示不启用
type S3Config struct {
	Endpoint        string `json:"Endpoint" yaml:"Endpoint"`
	Bucket          string `json:"Bucket" yaml:"Bucket"`
	Region          string `json:"Region" yaml:"Region"`
	Prefix          string `json:"Prefix" yaml:"Prefix"`
	AccessKeyID     string `json:"AccessKeyID" yaml:"AccessKeyID"`
	SecretAccessKey string `json:"SecretAccessKey" yaml:"SecretAccessKey"`
	UsePathStyle    bool   `json:"UsePathStyle" yaml:"UsePathStyle"`
}

type FastCGIConfig struct {
	Timeout     Duration    `json:"Timeout" yaml:"Timeout"`
	DialTimeout Duration    `json:"DialTimeout" yaml:"DialTimeout"`
	MaxConns    int         `json:"MaxConns" yaml:"MaxConns"`
	Retry       RetryConfig `json:"Retry" yaml:"Retry"`
}

type RetryConfig struct {
	MaxRetries   int      `json:"MaxRetries" yaml:"MaxRetries"`
	InitialDelay Duration `json:"InitialDelay" yaml:"InitialDelay"`
	MaxDelay     Duration `json:"MaxDelay" yaml:"MaxDelay"`
}

const (
	SinkCloudWatch = "cloudwatch"
	SinkSQLite     = "sqlite"
)

type MetricsConfig struct {
	Enabled            bool           `json:"Enabled" yaml:"Enabled"`
	Sink               string         `json:"Sink" yaml:"Sink"`
	Namespace          string         `json:"Namespace" yaml:"Namespace"`
	Region             string         `json:"Region" yaml:"Region"`
	Domains            []MetricDomain `json:"Domains" yaml:"Domains"`
	MaxValuesPerRecord int            `json:"MaxValuesPerRecord" yaml:"MaxValuesPerRecord"`
	SQLitePath         string         `json:"SQLitePath" yaml:"SQLitePath"`
	Retention          Duration       `json:"Retention" yaml:"Retention"`
}

// MetricDomain 参与指标统计的主机名，Alias 为空时使用主机名本身
type MetricDomain struct {
	Host  string `json:"Host" yaml:"Host"`
	Alias string `json:"Alias,omitempty" yaml:"Alias,omitempty"`
}

// UnmarshalJSON 同时支持 "a.com"、["a.com", "A"] 和 {"Host": "a.com"} 三种写法
func (d *MetricDomain) UnmarshalJSON(b []byte) error {
	var host string
	if err := json.Unmarshal(b, &host); err == nil {
		*d = MetricDomain{Host: host}
		return nil
	}

	var pair []string
	if err := json.Unmarshal(b, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("metric domain pair must have 2 elements, got %d", len(pair))
		}
		*d = MetricDomain{Host: pair[0], Alias: pair[1]}
		return nil
	}

	type plain MetricDomain
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = MetricDomain(p)
	return nil
}

// UnmarshalYAML 与 UnmarshalJSON 支持相同的写法
func (d *MetricDomain) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var host string
	if err := unmarshal(&host); err == nil {
		*d = MetricDomain{Host: host}
		return nil
	}

	var pair []string
	if err := unmarshal(&pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("metric domain pair must have 2 elements, got %d", len(pair))
		}
		*d = MetricDomain{Host: pair[0], Alias: pair[1]}
		return nil
	}

	type plain MetricDomain
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*d = MetricDomain(p)
	return nil
}

func (d MetricDomain) Name() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Host
}

type CompressionConfig struct {
	Gzip   CompressorConfig `json:"Gzip" yaml:"Gzip"`
	Brotli CompressorConfig `json:"Brotli" yaml:"Brotli"`
}

type CompressorConfig struct {
	Enabled bool `json:"Enabled" yaml:"Enabled"`
	Level   int  `json:"Level" yaml:"Level"`
}

// AdminConfig 额外的本地监听端口，只服务一个站点
type AdminConfig struct {
	Listen string `json:"Listen" yaml:"Listen"`
	Host   string `json:"Host" yaml:"Host"`
}

type LogConfig struct {
	Level string `json:"Level" yaml:"Level"`
}

// Duration 支持 "30s" 形式或纳秒整数的时长
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
