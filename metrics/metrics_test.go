package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestItemsProcessedTotal_Increment(t *testing.T) {
	before := testutil.ToFloat64(ItemsProcessedTotal.WithLabelValues("test-exec"))
	ItemsProcessedTotal.WithLabelValues("test-exec").Inc()
	after := testutil.ToFloat64(ItemsProcessedTotal.WithLabelValues("test-exec"))

	assert.Equal(t, before+1, after)
}

func TestActiveWorkers_SetValue(t *testing.T) {
	ActiveWorkers.WithLabelValues("test-exec-2").Set(5)

	assert.Equal(t, float64(5), testutil.ToFloat64(ActiveWorkers.WithLabelValues("test-exec-2")))
}

func TestHistograms_Observe(t *testing.T) {
	HeartbeatLatency.WithLabelValues("test-exec-3").Observe(0.01)
	ItemProcessingDuration.WithLabelValues("test-exec-3").Observe(0.02)
	MaintenanceDuration.WithLabelValues("test-exec-3", "fill_history").Observe(1)

	assert.GreaterOrEqual(t, testutil.CollectAndCount(HeartbeatLatency), 1)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(ItemProcessingDuration), 1)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(MaintenanceDuration), 1)
}

func TestMetrics_RegisteredWithDefaultRegistry(t *testing.T) {
	ItemsFetchedTotal.WithLabelValues("test-exec-4").Add(0)

	families, err := prometheus.DefaultGatherer.Gather()
	assert.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["abacus_items_fetched_total"])
}
