package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/automatoor/pkg/config"
	"github.com/ethpandaops/automatoor/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.APIDatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func createScenario(t *testing.T, s store.Store) (*store.Automation, *store.Scenario) {
	t.Helper()

	ctx := context.Background()

	a := &store.Automation{
		Name:          "GPT-4 Chat Completion",
		ExternalID:    "auto_gpt4_chat",
		DefaultInputs: store.JSONMap{"model": "gpt-4", "temperature": 0.7},
	}
	require.NoError(t, s.CreateAutomation(ctx, a))

	sc := &store.Scenario{
		Name:           "Simple Question Benchmark",
		AutomationID:   a.ID,
		InputsTemplate: store.JSONMap{"prompt": "hi"},
		RunSettings:    store.JSONMap{"interval_seconds": 300},
	}
	require.NoError(t, s.CreateScenario(ctx, sc))

	return a, sc
}

func TestStore_AutomationCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	desc := "Standard chat completion"
	a := &store.Automation{
		Name:          "chat",
		ExternalID:    "auto_chat",
		Description:   &desc,
		DefaultInputs: store.JSONMap{"model": "gpt-4", "max_tokens": 150},
	}
	require.NoError(t, s.CreateAutomation(ctx, a))
	require.NotZero(t, a.ID)

	got, err := s.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "auto_chat", got.ExternalID)
	require.NotNil(t, got.Description)
	assert.Equal(t, desc, *got.Description)
	assert.Equal(t, "gpt-4", got.DefaultInputs["model"])
	// JSON round trip turns integers into float64.
	assert.Equal(t, float64(150), got.DefaultInputs["max_tokens"])

	got.Name = "chat-renamed"
	require.NoError(t, s.UpdateAutomation(ctx, got))

	list, err := s.ListAutomations(ctx, store.Page{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "chat-renamed", list[0].Name)

	require.NoError(t, s.DeleteAutomation(ctx, a.ID))

	_, err = s.GetAutomation(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_DeleteReferencedAutomation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a, _ := createScenario(t, s)

	err := s.DeleteAutomation(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrConflict)

	err = s.DeleteAutomation(ctx, 9999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ScenarioRequiresAutomation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.CreateScenario(ctx, &store.Scenario{
		Name:         "orphan",
		AutomationID: 42,
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ListScenariosFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a, _ := createScenario(t, s)

	other := &store.Automation{Name: "other", ExternalID: "auto_other"}
	require.NoError(t, s.CreateAutomation(ctx, other))
	require.NoError(t, s.CreateScenario(ctx, &store.Scenario{
		Name: "other-scenario", AutomationID: other.ID,
	}))

	all, err := s.ListScenarios(ctx, 0, store.Page{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := s.ListScenarios(ctx, a.ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Simple Question Benchmark", filtered[0].Name)

	paged, err := s.ListScenarios(ctx, 0, store.Page{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "other-scenario", paged[0].Name)
}

func TestStore_CreateRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, sc := createScenario(t, s)

	run, err := s.CreateRun(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusPending, run.Status)
	assert.Nil(t, run.StartedAt)
	assert.Nil(t, run.Error)

	_, err = s.CreateRun(ctx, 9999)
	require.ErrorIs(t, err, store.ErrNotFound)

	count, err := s.CountRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_UpdateRunWritesAllColumns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, sc := createScenario(t, s)

	run, err := s.CreateRun(ctx, sc.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	duration := 1234.5
	extID := "mock_run_1"

	run.Status = store.RunStatusCompleted
	run.StartedAt = &now
	run.FinishedAt = &now
	run.TotalDurationMs = &duration
	run.ExternalRunID = &extID
	run.ResponsePayload = store.JSONMap{"run_id": extID}
	require.NoError(t, s.UpdateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, got.Status)
	require.NotNil(t, got.TotalDurationMs)
	assert.InDelta(t, duration, *got.TotalDurationMs, 0.0001)
	assert.Equal(t, extID, got.ResponsePayload["run_id"])

	// Clearing a field must be persisted too.
	got.ResponsePayload = nil
	got.ExternalRunID = nil
	require.NoError(t, s.UpdateRun(ctx, got))

	again, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, again.ResponsePayload)
	assert.Nil(t, again.ExternalRunID)

	missing := &store.Run{ID: 9999, Status: store.RunStatusFailed}
	require.ErrorIs(t, s.UpdateRun(ctx, missing), store.ErrNotFound)
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, sc := createScenario(t, s)

	var ids []uint

	for range 5 {
		run, err := s.CreateRun(ctx, sc.ID)
		require.NoError(t, err)

		ids = append(ids, run.ID)
	}

	runs, err := s.ListRuns(ctx, store.RunFilter{}, store.Page{Limit: 3})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[4], runs[0].ID)
	assert.Equal(t, ids[3], runs[1].ID)
	assert.Equal(t, ids[2], runs[2].ID)
}

func TestStore_RunFiltersAndSamples(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, sc := createScenario(t, s)

	set := func(status store.RunStatus, duration *float64, ttft *float64) {
		run, err := s.CreateRun(ctx, sc.ID)
		require.NoError(t, err)

		run.Status = status
		run.TotalDurationMs = duration
		run.TTFTMs = ttft
		require.NoError(t, s.UpdateRun(ctx, run))
	}

	f := func(v float64) *float64 { return &v }

	set(store.RunStatusCompleted, f(100), nil)
	set(store.RunStatusCompleted, f(200), f(10))
	set(store.RunStatusFailed, f(999), f(20))
	set(store.RunStatusPending, nil, nil)

	completed, err := s.CountRuns(ctx, store.RunFilter{Status: store.RunStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(2), completed)

	durations, err := s.ListRunDurations(ctx, store.RunFilter{Status: store.RunStatusCompleted})
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{100, 200}, durations)

	ttfts, err := s.ListRunTTFTs(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{10, 20}, ttfts)

	byScenario, err := s.ListRuns(ctx, store.RunFilter{ScenarioID: sc.ID + 1}, store.Page{})
	require.NoError(t, err)
	assert.Empty(t, byScenario)
}

func TestStore_DeleteScenarioWithRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, sc := createScenario(t, s)

	run, err := s.CreateRun(ctx, sc.ID)
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteScenario(ctx, sc.ID), store.ErrConflict)

	require.NoError(t, s.DeleteRun(ctx, run.ID))
	require.ErrorIs(t, s.DeleteRun(ctx, run.ID), store.ErrNotFound)

	require.NoError(t, s.DeleteScenario(ctx, sc.ID))
}

func TestStore_SeedIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
automations:
  - name: GPT-3.5 Turbo
    tinyfish_automation_id: auto_gpt35_turbo
    default_inputs:
      model: gpt-3.5-turbo
      temperature: 0.5
    scenarios:
      - name: Quick Response Test
        inputs_template:
          prompt: Say hello
        run_settings:
          interval_seconds: 300
          concurrency: 1
`), 0o644))

	fixtures, err := store.LoadFixtures(path)
	require.NoError(t, err)

	require.NoError(t, s.Seed(ctx, fixtures))
	require.NoError(t, s.Seed(ctx, fixtures))

	automations, err := s.ListAutomations(ctx, store.Page{})
	require.NoError(t, err)
	require.Len(t, automations, 1)
	assert.Equal(t, "gpt-3.5-turbo", automations[0].DefaultInputs["model"])

	scenarios, err := s.ListScenarios(ctx, automations[0].ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "Say hello", scenarios[0].InputsTemplate["prompt"])
	assert.Equal(t, float64(300), scenarios[0].RunSettings["interval_seconds"])
}

func TestLoadFixtures_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
automations:
  - name: missing-id
`), 0o644))

	_, err := store.LoadFixtures(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tinyfish_automation_id")
}

func TestLoadFixtures_ExampleFile(t *testing.T) {
	fixtures, err := store.LoadFixtures("../../fixtures.example.yaml")
	require.NoError(t, err)

	require.Len(t, fixtures.Automations, 2)
	assert.Equal(t, "auto_gpt4_chat", fixtures.Automations[0].ExternalID)
	assert.Len(t, fixtures.Automations[0].Scenarios, 2)
	assert.Len(t, fixtures.Automations[1].Scenarios, 1)
}
