package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountsOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("pos:low_stock_scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("pos:low_stock_scan").End(boom), boom)

	require.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("pos:low_stock_scan", "success")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.failures.WithLabelValues("pos:low_stock_scan")), 0)

	m.SetLowStock("Main", 3)
	m.SetLowStock("Main", 1)
	require.InDelta(t, 1, testutil.ToFloat64(m.lowStock.WithLabelValues("Main")), 0)

	m.AddNotified("", 2)
	require.InDelta(t, 2, testutil.ToFloat64(m.notified.WithLabelValues("all")), 0)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("x").End(nil))
	m.SetLowStock("Main", 1)
	m.AddNotified("BR-1", 1)
}
