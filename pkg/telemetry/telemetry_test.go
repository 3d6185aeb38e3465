package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, tel.MeterProvider)
	require.Nil(t, tel.Registry)
	require.NotNil(t, tel.Meter)
	require.NotNil(t, tel.Tracer)

	counter, err := tel.Meter.Int64Counter("noop")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	require.NoError(t, shutdown(context.Background()))
}

func TestNew_EnabledExportsToRegistry(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "gojokv-test"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	counter, err := tel.Meter.Int64Counter("gojokv.test.events")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := tel.Registry.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "gojokv_test_events") {
			found = true
			require.Equal(t, 3.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	require.True(t, found, "exported counter missing from registry")

	_, span := tel.Tracer.Start(context.Background(), "test-span")
	span.End()
}
