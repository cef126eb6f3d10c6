package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"fpm-gateway/internal/constants"
	gwerrors "fpm-gateway/internal/errors"
)

// Agent 按指标标识累积样本，每个整分钟排空一次并发送
type Agent struct {
	sink       Sink
	namespace  string
	maxValues  int
	maxRecords int

	mu      sync.Mutex
	buckets map[string][]float64

	now       func() time.Time
	untilNext func(now time.Time) time.Duration
}

// NewAgent 创建聚合器，上限取 constants 中的当前值
func NewAgent(sink Sink, namespace string) *Agent {
	return &Agent{
		sink:       sink,
		namespace:  namespace,
		maxValues:  constants.MaxValuesPerRecord,
		maxRecords: constants.MaxRecordsPerSend,
		buckets:    make(map[string][]float64),
		now:        time.Now,
		untilNext:  NextFlushDelay,
	}
}

// AddMetric 追加样本，可并发调用
func (a *Agent) AddMetric(id string, value float64) {
	a.mu.Lock()
	a.buckets[id] = append(a.buckets[id], value)
	a.mu.Unlock()
}

// drain 原子地换出当前所有桶，之后追加的样本属于下一个周期
func (a *Agent) drain() map[string][]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buckets) == 0 {
		return nil
	}
	out := a.buckets
	a.buckets = make(map[string][]float64, len(out))
	return out
}

// NextFlushDelay 距离下一个整分钟的时间，进程重启后刷新时刻依然对齐
func NextFlushDelay(now time.Time) time.Duration {
	period := constants.MetricFlushInterval.Milliseconds()
	return time.Duration(period-now.UnixMilli()%period) * time.Millisecond
}

// BuildRecords 每个非空桶生成一条或多条记录，每条最多 maxValues 个样本，按标识排序
func BuildRecords(buckets map[string][]float64, ts time.Time, maxValues int) []Record {
	if maxValues <= 0 {
		maxValues = constants.MaxValuesPerRecord
	}

	ids := make([]string, 0, len(buckets))
	for id, values := range buckets {
		if len(values) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var records []Record
	for _, id := range ids {
		values := buckets[id]
		name, dims := ParseIdentity(id)
		for i := 0; i < len(values); i += maxValues {
			end := min(i+maxValues, len(values))
			records = append(records, Record{
				MetricName: name,
				Dimensions: dims,
				Values:     values[i:end],
				Unit:       UnitMilliseconds,
				Timestamp:  ts,
			})
		}
	}
	return records
}

// Flush 排空并发送，失败的数据直接丢弃
func (a *Agent) Flush(ctx context.Context, ts time.Time) error {
	records := BuildRecords(a.drain(), ts, a.maxValues)
	if len(records) == 0 {
		return nil
	}

	maxRecords := a.maxRecords
	if maxRecords <= 0 {
		maxRecords = len(records)
	}

	var firstErr error
	for i := 0; i < len(records); i += maxRecords {
		batch := records[i:min(i+maxRecords, len(records))]
		if err := a.sink.Send(ctx, a.namespace, batch); err != nil {
			if firstErr == nil {
				firstErr = gwerrors.Wrap(gwerrors.ErrSinkDelivery, "send metrics", err)
			}
		}
	}
	if firstErr == nil {
		slog.Debug("[Metrics] 指标已发送", "records", len(records), "namespace", a.namespace)
	}
	return firstErr
}

// Run 后台刷新循环，ctx 取消时最后刷新一次后返回
func (a *Agent) Run(ctx context.Context) {
	slog.Info("[Metrics] 指标聚合已启动", "namespace", a.namespace)
	for {
		now := a.now()
		wait := a.untilNext(now)
		emit := now.Add(wait)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			if err := a.Flush(ctx, emit); err != nil {
				slog.Error("[Metrics] 发送指标失败", "error", err)
			}
		case <-ctx.Done():
			timer.Stop()
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.Flush(flushCtx, a.now()); err != nil {
				slog.Error("[Metrics] 退出前发送指标失败", "error", err)
			}
			cancel()
			slog.Info("[Metrics] 指标聚合已停止")
			return
		}
	}
}
