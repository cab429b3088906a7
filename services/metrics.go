package services

import "context"

// MetricsRecorder is satisfied by pkg/aws.MetricsClient.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

// NopMetrics discards every metric.
type NopMetrics struct{}

func (NopMetrics) RecordCount(context.Context, string, map[string]string) error { return nil }
