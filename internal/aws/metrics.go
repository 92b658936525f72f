package aws

import (
	"context"
	"log/slog"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics publishes order-transition counters to CloudWatch. All publishes
// are best-effort: a metrics failure never blocks a transition.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

func NewMetrics(client CloudWatchAPI, namespace string) *Metrics {
	return &Metrics{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// CountTransition records a single order transition into the given state.
func (m *Metrics) CountTransition(ctx context.Context, state string) {
	if m == nil || m.client == nil {
		return
	}
	now := m.nowFunc()
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String("OrderTransition"),
				Timestamp:  &now,
				Value:      sdkaws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: sdkaws.String("State"), Value: sdkaws.String(state)},
				},
			},
		},
	})
	if err != nil {
		slog.Warn("metrics publish failed", "state", state, "error", err)
	}
}
