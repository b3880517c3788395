package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/maintenance"
	"github.com/warp/maintenance-engine/maintenance/store"
	"github.com/warp/maintenance-engine/metrics"
	"github.com/warp/maintenance-engine/schedule"
)

func TestCollector_ObserveRun(t *testing.T) {
	c := metrics.NewCollector(prometheus.NewRegistry())

	c.ObserveRun(maintenance.GenerationAutomatic, maintenance.OutcomeCompleted, 3, 1, time.Second)
	c.ObserveRun(maintenance.GenerationAutomatic, maintenance.OutcomeAlreadyRan, 0, 0, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunsTotal.WithLabelValues("automatic", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunsTotal.WithLabelValues("automatic", "already_ran")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.OrdersGenerated.WithLabelValues("automatic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PlanFailures.WithLabelValues("automatic")))
}

func TestCollector_WiredIntoGenerator(t *testing.T) {
	// GIVEN: a generator reporting to a private registry
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	mem := store.NewMemory()
	require.NoError(t, mem.CreateAsset(context.Background(), maintenance.Asset{ID: "A"}))
	next := time.Date(2025, time.January, 6, 6, 0, 0, 0, time.UTC)
	require.NoError(t, mem.CreatePlan(context.Background(), maintenance.Plan{
		Code: "PM-1", Name: "One", AssetID: "A", Frequency: schedule.Daily(1),
		NextExecution: &next, AutoGeneration: true, Status: maintenance.StatusActive,
	}))
	gen := maintenance.NewOrderGenerator(maintenance.GeneratorConfig{Plans: mem, Orders: mem, Ledger: mem, Observer: c})

	// WHEN: an automatic run and a manual one
	_, err := gen.RunDailyGeneration(context.Background(), next.Add(time.Hour), "cron")
	require.NoError(t, err)
	_, err = gen.GeneratePlanNow(context.Background(), "PM-1", next.Add(time.Hour), "operator")
	require.NoError(t, err)

	// THEN: manual runs share one label value
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OrdersGenerated.WithLabelValues("automatic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OrdersGenerated.WithLabelValues("manual")))
	n, err := testutil.GatherAndCount(reg, "maintenance_generation_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
