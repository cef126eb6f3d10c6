package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCloudWatch 记录每次 PutMetricData 的输入
type fakeCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchSinkSend(t *testing.T) {
	api := &fakeCloudWatch{}
	sink := &CloudWatchSink{client: api}
	ts := time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)

	name, dims := ParseIdentity(ServerTimingIdentity("dts", "fpm"))
	records := []Record{
		{MetricName: name, Dimensions: dims, Values: []float64{1.5, 2.5}, Unit: UnitMilliseconds, Timestamp: ts},
		{MetricName: "Latency", Values: []float64{7}, Unit: UnitMilliseconds, Timestamp: ts},
	}
	require.NoError(t, sink.Send(context.Background(), "DTS", records))

	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, "DTS", aws.ToString(in.Namespace))
	require.Len(t, in.MetricData, 2)

	first := in.MetricData[0]
	assert.Equal(t, "ServerTiming", aws.ToString(first.MetricName))
	require.Len(t, first.Dimensions, 2)
	assert.Equal(t, "Domain", aws.ToString(first.Dimensions[0].Name))
	assert.Equal(t, "dts", aws.ToString(first.Dimensions[0].Value))
	assert.Equal(t, "Type", aws.ToString(first.Dimensions[1].Name))
	assert.Equal(t, "fpm", aws.ToString(first.Dimensions[1].Value))
	assert.Equal(t, []float64{1.5, 2.5}, first.Values)
	assert.Equal(t, types.StandardUnitMilliseconds, first.Unit)
	assert.Equal(t, ts, aws.ToTime(first.Timestamp))

	second := in.MetricData[1]
	assert.Equal(t, "Latency", aws.ToString(second.MetricName))
	assert.Empty(t, second.Dimensions)
	assert.Equal(t, []float64{7}, second.Values)
}

func TestCloudWatchSinkSendError(t *testing.T) {
	api := &fakeCloudWatch{err: errors.New("throttled")}
	sink := &CloudWatchSink{client: api}

	err := sink.Send(context.Background(), "DTS", []Record{{MetricName: "M", Values: []float64{1}, Unit: UnitMilliseconds}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestAgentFlushToCloudWatchBatches(t *testing.T) {
	api := &fakeCloudWatch{}
	a := NewAgent(&CloudWatchSink{client: api}, "DTS")
	a.maxRecords = 2
	for _, d := range []string{"a", "b", "c"} {
		a.AddMetric(ServerTimingIdentity(d, "total"), 3)
	}

	ts := time.Date(2024, 5, 1, 12, 2, 0, 0, time.UTC)
	require.NoError(t, a.Flush(context.Background(), ts))

	require.Len(t, api.inputs, 2)
	assert.Len(t, api.inputs[0].MetricData, 2)
	assert.Len(t, api.inputs[1].MetricData, 1)
	var domains []string
	for _, in := range api.inputs {
		assert.Equal(t, "DTS", aws.ToString(in.Namespace))
		for _, d := range in.MetricData {
			domains = append(domains, aws.ToString(d.Dimensions[0].Value))
			assert.Equal(t, ts, aws.ToTime(d.Timestamp))
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, domains)
}
