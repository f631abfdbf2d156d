package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsPublisher pushes queue gauges to CloudWatch. Best-effort: the sync
// worker ignores publish failures, they only mean we were offline anyway.
type MetricsPublisher struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	DeviceID   string
}

// NewMetricsPublisher returns a publisher bound to a metric namespace.
func NewMetricsPublisher(cw CloudWatchAPI, namespace, deviceID string) *MetricsPublisher {
	return &MetricsPublisher{
		CloudWatch: cw,
		Namespace:  namespace,
		DeviceID:   deviceID,
	}
}

// PublishQueueGauges reports the pending and failed submission counts.
func (p *MetricsPublisher) PublishQueueGauges(ctx context.Context, pending, failed int) error {
	now := time.Now().UTC()
	dims := []cwtypes.Dimension{
		{Name: awsString("DeviceId"), Value: awsString(p.DeviceID)},
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace: &p.Namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString("PendingSubmissions"),
				Value:      awsFloat(float64(pending)),
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  &now,
				Dimensions: dims,
			},
			{
				MetricName: awsString("FailedSubmissions"),
				Value:      awsFloat(float64(failed)),
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  &now,
				Dimensions: dims,
			},
		},
	}

	if _, err := p.CloudWatch.PutMetricData(ctx, input); err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

func awsString(s string) *string  { return &s }
func awsFloat(f float64) *float64 { return &f }
