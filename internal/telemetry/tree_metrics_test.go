package internaltelemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", agg)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestTreeMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewTreeMetrics(provider.Meter("test"))
	require.NoError(t, err)

	m.RecordOperation("put", "inserted", time.Now())
	m.RecordOperation("put", "split", time.Now())
	m.RecordOperation("get", "found", time.Now())
	m.RecordSplit(LevelLeaf)
	m.RecordMerge(LevelInternal)
	m.RecordPageAllocated()
	m.RecordPageAllocated()
	m.RecordPageFreed()

	data := collect(t, reader)
	require.Equal(t, int64(3), sumOf(t, data["gojokv.btree.operations"]))
	require.Equal(t, int64(1), sumOf(t, data["gojokv.btree.splits"]))
	require.Equal(t, int64(1), sumOf(t, data["gojokv.btree.merges"]))
	require.Equal(t, int64(2), sumOf(t, data["gojokv.btree.pages_allocated"]))
	require.Equal(t, int64(1), sumOf(t, data["gojokv.btree.pages_freed"]))

	hist, ok := data["gojokv.btree.operation.duration"].(metricdata.Histogram[int64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	require.Equal(t, uint64(3), count)
}

func TestNoopTreeMetrics(t *testing.T) {
	m := NewNoopTreeMetrics()
	require.NotNil(t, m)
	m.RecordOperation("del", "removed", time.Now())
	m.RecordSplit(LevelInternal)
}
