package fastcgi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxRetries   int           // 最大重试次数
	InitialDelay time.Duration // 初始延迟
	MaxDelay     time.Duration // 最大延迟
	Multiplier   float64       // 延迟倍增因子
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = RetryConfig{
	MaxRetries:   2,                      // 最多重试2次 (总共3次连接)
	InitialDelay: 50 * time.Millisecond,  // 初始延迟50ms
	MaxDelay:     500 * time.Millisecond, // 最大延迟500ms
	Multiplier:   2.0,                    // 指数退避因子
}

// isRetriableError 判断连接错误是否可重试，解释器重启时常见这些错误
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retriableErrors := []string{
		"connection refused",
		"connection reset",
		"resource temporarily unavailable", // unix socket backlog 满
		"no such file or directory",        // unix socket 尚未创建
		"i/o timeout",
		"timeout",
		"broken pipe",
	}

	for _, retryErr := range retriableErrors {
		if strings.Contains(errStr, retryErr) {
			return true
		}
	}

	return false
}

// withRetry 执行带指数退避的操作，遇到不可重试的错误立即返回
func withRetry[T any](ctx context.Context, config RetryConfig, what string, op func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	delay := config.InitialDelay
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		// 第一次不延迟
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}

			delay = time.Duration(float64(delay) * config.Multiplier)
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}

			slog.Debug("[Retry] 重试连接", "target", what, "attempt", attempt+1, "max", config.MaxRetries+1, "last_error", lastErr)
		}

		v, err := op()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !isRetriableError(err) {
			return zero, err
		}
	}

	slog.Warn("[Retry] 超过最大重试次数", "target", what, "error", lastErr)
	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}
