package metrics

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// cloudWatchAPI 测试时可替换
type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSink 通过 PutMetricData 发送记录，凭证走 SDK 默认链
type CloudWatchSink struct {
	client cloudWatchAPI
}

// NewCloudWatchSink 创建 CloudWatch 客户端
func NewCloudWatchSink(ctx context.Context, region string) (*CloudWatchSink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &CloudWatchSink{client: cloudwatch.NewFromConfig(awsCfg)}, nil
}

func (s *CloudWatchSink) Send(ctx context.Context, namespace string, records []Record) error {
	data := make([]types.MetricDatum, 0, len(records))
	for _, rec := range records {
		dims := make([]types.Dimension, 0, len(rec.Dimensions))
		for _, d := range rec.Dimensions {
			dims = append(dims, types.Dimension{
				Name:  aws.String(d.Name),
				Value: aws.String(d.Value),
			})
		}
		data = append(data, types.MetricDatum{
			MetricName: aws.String(rec.MetricName),
			Dimensions: dims,
			Values:     rec.Values,
			Unit:       types.StandardUnit(rec.Unit),
			Timestamp:  aws.Time(rec.Timestamp),
		})
	}

	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("failed to put metric data: %w", err)
	}
	return nil
}
