// Package metrics records delivery counters to CloudWatch. A nil *Recorder
// is valid and drops everything, so instrumented paths never branch on
// configuration. Publish failures are logged, never propagated.
package metrics

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/rbhatta/go-delivery-trackflow/internal/aws"
	"github.com/rbhatta/go-delivery-trackflow/internal/deliveries"
)

// Recorder publishes metric data points under one namespace.
type Recorder struct {
	client    aws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewRecorder returns a Recorder, or nil when no client is configured.
func NewRecorder(client aws.CloudWatchAPI, namespace string) *Recorder {
	if client == nil {
		return nil
	}
	if namespace == "" {
		namespace = "DeliveryTrackflow"
	}
	return &Recorder{client: client, namespace: namespace, nowFunc: time.Now}
}

// StageTransition counts one stage event, dimensioned by stage value.
func (r *Recorder) StageTransition(ctx context.Context, tenantID string, stage deliveries.StageType) {
	if r == nil {
		return
	}
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: awsString("StageTransitions"),
		Value:      awsFloat(1),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  awsTime(r.nowFunc()),
		Dimensions: []cwtypes.Dimension{
			{Name: awsString("Stage"), Value: awsString(string(stage))},
			{Name: awsString("Tenant"), Value: awsString(tenantID)},
		},
	})
}

// AssignmentLatency records how long an assignment round-trip took.
func (r *Recorder) AssignmentLatency(ctx context.Context, tenantID string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: awsString("AssignmentLatency"),
		Value:      awsFloat(float64(elapsed.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Timestamp:  awsTime(r.nowFunc()),
		Dimensions: []cwtypes.Dimension{
			{Name: awsString("Tenant"), Value: awsString(tenantID)},
		},
	})
}

func (r *Recorder) put(ctx context.Context, datum cwtypes.MetricDatum) {
	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &r.namespace,
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		log.Printf("[metrics] put metric data: %v", err)
	}
}

func awsString(s string) *string { return &s }

func awsFloat(f float64) *float64 { return &f }

func awsTime(t time.Time) *time.Time { return &t }
