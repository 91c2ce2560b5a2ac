package telemetry

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"
)

// CloudWatchAPI is the subset of the CloudWatch client used by the publisher.
// Declared locally so tests can substitute a fake.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher pushes operational metrics (documents processed, PHI
// detections, task completion durations) to CloudWatch under a configurable
// namespace. Publishing is best effort: failures are logged and never
// propagate to the caller.
type CloudWatchPublisher struct {
	client    CloudWatchAPI
	namespace string
	logger    zerolog.Logger
}

// NewCloudWatchPublisher creates a publisher. A nil client yields a no-op
// publisher, which keeps call sites unconditional.
func NewCloudWatchPublisher(client CloudWatchAPI, namespace string, logger zerolog.Logger) *CloudWatchPublisher {
	if namespace == "" {
		namespace = "Careguard"
	}
	return &CloudWatchPublisher{client: client, namespace: namespace, logger: logger}
}

// Count publishes a count metric with optional dimensions.
func (p *CloudWatchPublisher) Count(ctx context.Context, name string, value float64, dims map[string]string) {
	p.put(ctx, name, value, types.StandardUnitCount, dims)
}

// Seconds publishes a duration metric in seconds with optional dimensions.
func (p *CloudWatchPublisher) Seconds(ctx context.Context, name string, value float64, dims map[string]string) {
	p.put(ctx, name, value, types.StandardUnitSeconds, dims)
}

// Value publishes a unitless metric with optional dimensions.
func (p *CloudWatchPublisher) Value(ctx context.Context, name string, value float64, dims map[string]string) {
	p.put(ctx, name, value, types.StandardUnitNone, dims)
}

func (p *CloudWatchPublisher) put(ctx context.Context, name string, value float64, unit types.StandardUnit, dims map[string]string) {
	if p == nil || p.client == nil {
		return
	}

	datum := types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now().UTC()),
	}
	for k, v := range dims {
		datum.Dimensions = append(datum.Dimensions, types.Dimension{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: []types.MetricDatum{datum},
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("metric", name).Msg("failed to publish CloudWatch metric")
	}
}
