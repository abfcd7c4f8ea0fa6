// Package observetest builds observe.Metrics backed by a ManualReader so
// tests can inspect what was recorded.
package observetest

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/book-expert/speaker-service/internal/observe"
)

// New returns metrics recorded into the returned reader.
func New(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	return m, reader
}

// Find collects reader and returns the metric called name, or nil.
func Find(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}

	return nil
}

// SumWhere returns the int64 sum of metric name over the data points
// carrying key=value. An empty key sums every point.
func SumWhere(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()

	met := Find(t, reader, name)
	if met == nil {
		return 0
	}

	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}

	var total int64

	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value

			continue
		}

		if v, found := dp.Attributes.Value(attributeKey(key)); found && v.AsString() == value {
			total += dp.Value
		}
	}

	return total
}

// HistogramCount returns the number of samples recorded by histogram name.
func HistogramCount(t *testing.T, reader *sdkmetric.ManualReader, name string) uint64 {
	t.Helper()

	met := Find(t, reader, name)
	if met == nil {
		return 0
	}

	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}

	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}

	return count
}

// HistogramCountsBy returns the sample count of histogram name per value of
// the key attribute.
func HistogramCountsBy(t *testing.T, reader *sdkmetric.ManualReader, name, key string) map[string]uint64 {
	t.Helper()

	counts := map[string]uint64{}

	met := Find(t, reader, name)
	if met == nil {
		return counts
	}

	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}

	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value(attributeKey(key))
		counts[v.AsString()] += dp.Count
	}

	return counts
}

func attributeKey(key string) attribute.Key {
	return attribute.Key(key)
}
