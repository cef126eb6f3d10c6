package metrics

import (
	"context"
	"time"
)

// UnitMilliseconds 所有计时样本的单位
const UnitMilliseconds = "Milliseconds"

// Dimension 指标维度
type Dimension struct {
	Name  string
	Value string
}

// Record 发送给远端的一条记录，Values 不超过单条上限
type Record struct {
	MetricName string
	Dimensions []Dimension
	Values     []float64
	Unit       string
	Timestamp  time.Time
}

// Sink 远端指标接收方
type Sink interface {
	Send(ctx context.Context, namespace string, records []Record) error
}

// Recorder 请求侧只需要追加样本
type Recorder interface {
	AddMetric(id string, value float64)
}
