package certstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fpm-gateway/internal/config"
)

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Source 从对象存储读取 <Prefix>/<host>/<CertFile> 和 <KeyFile>
type S3Source struct {
	client   s3API
	bucket   string
	prefix   string
	certFile string
	keyFile  string
}

// NewS3Source 创建 S3 客户端，未配置密钥时使用 SDK 默认凭证链
func NewS3Source(ctx context.Context, cfg config.S3Config, certFile, keyFile string) (*S3Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Source{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		certFile: certFile,
		keyFile:  keyFile,
	}, nil
}

func (s *S3Source) key(host, name string) string {
	return path.Join(s.prefix, host, name)
}

func (s *S3Source) download(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Source) Load(ctx context.Context, host string) (*tls.Certificate, error) {
	certPEM, err := s.download(ctx, s.key(host, s.certFile))
	if err != nil {
		return nil, err
	}
	keyPEM, err := s.download(ctx, s.key(host, s.keyFile))
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// version 证书对象的最后修改时间
func (s *S3Source) version(ctx context.Context, host string) (time.Time, error) {
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(host, s.certFile)),
	})
	if err != nil {
		return time.Time{}, err
	}
	return aws.ToTime(result.LastModified), nil
}

// Poll 定期检查证书对象的修改时间，有变化时重新加载
func (s *S3Source) Poll(ctx context.Context, store *Store, hosts []string, interval time.Duration) {
	seen := make(map[string]time.Time, len(hosts))
	for _, host := range hosts {
		if v, err := s.version(ctx, host); err == nil {
			seen[host] = v
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, host := range hosts {
				v, err := s.version(ctx, host)
				if err != nil {
					slog.Warn("[CertStore] 获取证书版本失败", "host", host, "error", err)
					continue
				}
				if v.Equal(seen[host]) {
					continue
				}
				seen[host] = v
				store.reload(ctx, s, host)
			}
		}
	}
}
