package internaltelemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Attribute keys attached to the tree instruments.
const (
	AttrOp     = attribute.Key("op")
	AttrResult = attribute.Key("result")
	AttrLevel  = attribute.Key("level")
)

// Structural levels reported on split and merge counters.
const (
	LevelLeaf     = "leaf"
	LevelInternal = "internal"
)

// TreeMetrics holds all the metric instruments for the B+ tree engine.
type TreeMetrics struct {
	OperationsCounter     metric.Int64Counter
	SplitsCounter         metric.Int64Counter
	MergesCounter         metric.Int64Counter
	PagesAllocatedCounter metric.Int64Counter
	PagesFreedCounter     metric.Int64Counter
	OperationLatency      metric.Int64Histogram
}

// NewTreeMetrics creates and registers all the metrics for the tree engine.
func NewTreeMetrics(meter metric.Meter) (*TreeMetrics, error) {
	operationsCounter, err := meter.Int64Counter(
		"gojokv.btree.operations",
		metric.WithDescription("Total number of tree operations by op and result."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	splitsCounter, err := meter.Int64Counter(
		"gojokv.btree.splits",
		metric.WithDescription("Total number of node splits."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mergesCounter, err := meter.Int64Counter(
		"gojokv.btree.merges",
		metric.WithDescription("Total number of node merges."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pagesAllocatedCounter, err := meter.Int64Counter(
		"gojokv.btree.pages_allocated",
		metric.WithDescription("Total number of pages taken from the free list."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pagesFreedCounter, err := meter.Int64Counter(
		"gojokv.btree.pages_freed",
		metric.WithDescription("Total number of pages returned to the free list."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	operationLatency, err := meter.Int64Histogram(
		"gojokv.btree.operation.duration",
		metric.WithDescription("The latency of tree operations."),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	return &TreeMetrics{
		OperationsCounter:     operationsCounter,
		SplitsCounter:         splitsCounter,
		MergesCounter:         mergesCounter,
		PagesAllocatedCounter: pagesAllocatedCounter,
		PagesFreedCounter:     pagesFreedCounter,
		OperationLatency:      operationLatency,
	}, nil
}

// NewNoopTreeMetrics returns instruments that record nothing.
func NewNoopTreeMetrics() *TreeMetrics {
	m, _ := NewTreeMetrics(noop.NewMeterProvider().Meter(""))
	return m
}

// RecordOperation counts one finished operation and its latency.
func (m *TreeMetrics) RecordOperation(op, result string, started time.Time) {
	ctx := context.Background()
	opAttr := metric.WithAttributes(AttrOp.String(op))
	m.OperationsCounter.Add(ctx, 1, metric.WithAttributes(AttrOp.String(op), AttrResult.String(result)))
	m.OperationLatency.Record(ctx, time.Since(started).Microseconds(), opAttr)
}

func (m *TreeMetrics) RecordSplit(level string) {
	m.SplitsCounter.Add(context.Background(), 1, metric.WithAttributes(AttrLevel.String(level)))
}

func (m *TreeMetrics) RecordMerge(level string) {
	m.MergesCounter.Add(context.Background(), 1, metric.WithAttributes(AttrLevel.String(level)))
}

func (m *TreeMetrics) RecordPageAllocated() {
	m.PagesAllocatedCounter.Add(context.Background(), 1)
}

func (m *TreeMetrics) RecordPageFreed() {
	m.PagesFreedCounter.Add(context.Background(), 1)
}
