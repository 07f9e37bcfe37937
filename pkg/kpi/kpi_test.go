package kpi

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/automatoor/pkg/config"
	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	sample := []float64{100, 200, 300, 400, 500}

	tests := []struct {
		name     string
		sorted   []float64
		p        float64
		expected float64
	}{
		{name: "empty", sorted: nil, p: 50, expected: 0},
		{name: "single", sorted: []float64{42}, p: 99, expected: 42},
		{name: "p50", sorted: sample, p: 50, expected: 300},
		{name: "p95", sorted: sample, p: 95, expected: 480},
		{name: "p99", sorted: sample, p: 99, expected: 496},
		{name: "p0", sorted: sample, p: 0, expected: 100},
		{name: "p100", sorted: sample, p: 100, expected: 500},
		{name: "even count median", sorted: []float64{1, 2, 3, 4}, p: 50, expected: 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Percentile(tt.sorted, tt.p), 1e-9)
		})
	}
}

func TestSummarize(t *testing.T) {
	t.Run("empty sample", func(t *testing.T) {
		stats := Summarize(nil)
		assert.Nil(t, stats.P50)
		assert.Nil(t, stats.P95)
		assert.Nil(t, stats.P99)
	})

	t.Run("unsorted input is not modified", func(t *testing.T) {
		values := []float64{500, 100, 400, 200, 300}

		stats := Summarize(values)
		require.NotNil(t, stats.P50)
		assert.InDelta(t, 300, *stats.P50, 1e-9)
		assert.InDelta(t, 480, *stats.P95, 1e-9)
		assert.InDelta(t, 496, *stats.P99, 1e-9)

		assert.Equal(t, []float64{500, 100, 400, 200, 300}, values)
	})
}

func TestSuccessRate(t *testing.T) {
	assert.Zero(t, SuccessRate(0, 0))
	assert.InDelta(t, 75.0, SuccessRate(3, 4), 1e-9)
	assert.InDelta(t, 100.0, SuccessRate(2, 2), 1e-9)
}

type fixture struct {
	store    store.Store
	scenario *store.Scenario
}

func setup(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()

	s := store.NewStore(testLogger(), &config.APIDatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Stop() })

	a := &store.Automation{Name: "chat", ExternalID: "auto_gpt4_chat"}
	require.NoError(t, s.CreateAutomation(ctx, a))

	sc := &store.Scenario{Name: "simple", AutomationID: a.ID}
	require.NoError(t, s.CreateScenario(ctx, sc))

	return &fixture{store: s, scenario: sc}
}

// addRun creates a run with the given outcome. A zero duration leaves the
// run without timings.
func (f *fixture) addRun(
	t *testing.T, scenarioID uint, status store.RunStatus, durationMs float64,
) *store.Run {
	t.Helper()

	ctx := context.Background()

	run, err := f.store.CreateRun(ctx, scenarioID)
	require.NoError(t, err)

	run.Status = status
	if durationMs > 0 {
		now := time.Now().UTC()
		run.StartedAt = &now
		run.FinishedAt = &now
		run.TotalDurationMs = &durationMs
	}

	require.NoError(t, f.store.UpdateRun(ctx, run))

	return run
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestComputeDashboard_Empty(t *testing.T) {
	f := setup(t)
	agg := NewAggregator(testLogger(), f.store)

	kpis, err := agg.ComputeDashboard(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Zero(t, kpis.TotalRuns)
	assert.Zero(t, kpis.SuccessRate)
	assert.Nil(t, kpis.TotalTimeStats.P50)
	assert.Nil(t, kpis.TotalTimeStats.P95)
	assert.Nil(t, kpis.TotalTimeStats.P99)
	assert.Nil(t, kpis.TTFTStats)
	assert.Nil(t, kpis.AvgInterTokenLatency)
	assert.NotNil(t, kpis.RecentRuns)
	assert.Empty(t, kpis.RecentRuns)
}

func TestComputeDashboard_Statistics(t *testing.T) {
	f := setup(t)
	agg := NewAggregator(testLogger(), f.store)

	f.addRun(t, f.scenario.ID, store.RunStatusCompleted, 100)
	f.addRun(t, f.scenario.ID, store.RunStatusCompleted, 200)
	f.addRun(t, f.scenario.ID, store.RunStatusCompleted, 300)
	// Failed durations do not contribute to the percentiles.
	f.addRun(t, f.scenario.ID, store.RunStatusFailed, 9000)

	kpis, err := agg.ComputeDashboard(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Equal(t, int64(4), kpis.TotalRuns)
	assert.InDelta(t, 75.0, kpis.SuccessRate, 1e-9)

	require.NotNil(t, kpis.TotalTimeStats.P50)
	assert.InDelta(t, 200, *kpis.TotalTimeStats.P50, 1e-9)
	assert.InDelta(t, 290, *kpis.TotalTimeStats.P95, 1e-9)
	assert.InDelta(t, 298, *kpis.TotalTimeStats.P99, 1e-9)
	assert.Nil(t, kpis.TTFTStats)
}

func TestComputeDashboard_TTFT(t *testing.T) {
	f := setup(t)
	agg := NewAggregator(testLogger(), f.store)

	ctx := context.Background()

	run := f.addRun(t, f.scenario.ID, store.RunStatusCompleted, 100)
	ttft := 42.0
	run.TTFTMs = &ttft
	require.NoError(t, f.store.UpdateRun(ctx, run))

	kpis, err := agg.ComputeDashboard(ctx, Filter{})
	require.NoError(t, err)

	require.NotNil(t, kpis.TTFTStats)
	require.NotNil(t, kpis.TTFTStats.P50)
	assert.InDelta(t, 42, *kpis.TTFTStats.P50, 1e-9)
}

func TestComputeDashboard_RecentRuns(t *testing.T) {
	f := setup(t)
	agg := NewAggregator(testLogger(), f.store)

	for range 12 {
		f.addRun(t, f.scenario.ID, store.RunStatusPending, 0)
	}

	kpis, err := agg.ComputeDashboard(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Equal(t, int64(12), kpis.TotalRuns)
	require.Len(t, kpis.RecentRuns, RecentRunsLimit)

	for i := 1; i < len(kpis.RecentRuns); i++ {
		prev, cur := kpis.RecentRuns[i-1], kpis.RecentRuns[i]
		assert.False(t, cur.CreatedAt.After(prev.CreatedAt))
		assert.Greater(t, prev.ID, cur.ID)
	}
}

func TestComputeDashboard_ScenarioFilter(t *testing.T) {
	f := setup(t)
	agg := NewAggregator(testLogger(), f.store)

	ctx := context.Background()

	other := &store.Scenario{Name: "other", AutomationID: f.scenario.AutomationID}
	require.NoError(t, f.store.CreateScenario(ctx, other))

	f.addRun(t, f.scenario.ID, store.RunStatusCompleted, 100)
	f.addRun(t, other.ID, store.RunStatusFailed, 100)
	f.addRun(t, other.ID, store.RunStatusFailed, 100)

	kpis, err := agg.ComputeDashboard(ctx, Filter{ScenarioID: f.scenario.ID})
	require.NoError(t, err)

	assert.Equal(t, int64(1), kpis.TotalRuns)
	assert.InDelta(t, 100.0, kpis.SuccessRate, 1e-9)
	require.Len(t, kpis.RecentRuns, 1)
	assert.Equal(t, f.scenario.ID, kpis.RecentRuns[0].ScenarioID)

	kpis, err = agg.ComputeDashboard(ctx, Filter{ScenarioID: other.ID})
	require.NoError(t, err)

	assert.Equal(t, int64(2), kpis.TotalRuns)
	assert.Zero(t, kpis.SuccessRate)
	assert.Nil(t, kpis.TotalTimeStats.P50)
}
