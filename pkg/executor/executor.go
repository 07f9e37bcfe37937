package executor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/ethpandaops/automatoor/pkg/automation"
	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// Executor drives runs through their lifecycle.
type Executor interface {
	// ExecuteRun moves a run from pending through running to a terminal
	// state and persists the outcome. Failures of the automation call are
	// recorded on the run, not returned. The returned error is set only
	// when the run does not exist or could not be persisted.
	ExecuteRun(
		ctx context.Context,
		runID, scenarioID uint,
		inputsOverride map[string]any,
	) (*store.Run, error)
}

// PersistenceError reports a run state that could not be written.
type PersistenceError struct {
	RunID uint
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting run %d: %v", e.RunID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewExecutor creates a new run executor.
func NewExecutor(
	log logrus.FieldLogger,
	st store.Store,
	client automation.Client,
	timeout time.Duration,
) Executor {
	return &executor{
		log:     log.WithField("component", "executor"),
		store:   st,
		client:  client,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type executor struct {
	log     logrus.FieldLogger
	store   store.Store
	client  automation.Client
	timeout time.Duration
	now     func() time.Time
}

// Ensure interface compliance.
var _ Executor = (*executor)(nil)

// ExecuteRun implements Executor. It is safe to call again for a run
// that was left running by a crashed process; terminal runs are returned
// unchanged.
func (e *executor) ExecuteRun(
	ctx context.Context,
	runID, scenarioID uint,
	inputsOverride map[string]any,
) (*store.Run, error) {
	log := e.log.WithFields(logrus.Fields{
		"run_id":      runID,
		"scenario_id": scenarioID,
	})

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("Run not found, nothing to execute")

			return nil, err
		}

		return nil, &PersistenceError{RunID: runID, Err: err}
	}

	if run.Status.IsTerminal() {
		log.WithField("status", run.Status).
			Debug("Run already finished, skipping")

		return run, nil
	}

	if run.Status == store.RunStatusRunning {
		log.Warn("Resuming run left in running state")
	}

	if scenarioID != run.ScenarioID {
		log.WithField("run_scenario_id", run.ScenarioID).
			Warn("Job scenario does not match run, using the run's scenario")
	}

	scenario, auto, lookupErr := e.lookup(ctx, run.ScenarioID)
	if lookupErr != nil && !errors.Is(lookupErr, store.ErrNotFound) {
		return nil, &PersistenceError{RunID: runID, Err: lookupErr}
	}

	startedAt := e.now()
	run.Status = store.RunStatusRunning
	run.StartedAt = &startedAt

	if err := e.store.UpdateRun(ctx, run); err != nil {
		log.WithError(err).Error("Failed to mark run as running")

		return nil, &PersistenceError{RunID: runID, Err: err}
	}

	log.WithField("status", run.Status).Info("Run started")

	if lookupErr != nil {
		e.fail(run, 0, lookupErr)

		return e.finish(ctx, log, run)
	}

	inputs := MergeInputs(auto.DefaultInputs, scenario.InputsTemplate, inputsOverride)

	// Only the client call is timed, not the database round trips.
	start := time.Now()
	result, err := e.client.Execute(ctx, auto.ExternalID, inputs, e.timeout)
	elapsed := time.Since(start)

	if err != nil {
		e.fail(run, elapsed, err)
	} else {
		e.complete(run, elapsed, result)
	}

	return e.finish(ctx, log, run)
}

// lookup loads the scenario and its automation.
func (e *executor) lookup(
	ctx context.Context, scenarioID uint,
) (*store.Scenario, *store.Automation, error) {
	scenario, err := e.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, nil, err
	}

	auto, err := e.store.GetAutomation(ctx, scenario.AutomationID)
	if err != nil {
		return nil, nil, err
	}

	return scenario, auto, nil
}

func (e *executor) complete(
	run *store.Run, elapsed time.Duration, result *automation.Result,
) {
	finishedAt := e.now()
	durationMs := durationMillis(elapsed)

	run.Status = store.RunStatusCompleted
	run.FinishedAt = &finishedAt
	run.TotalDurationMs = &durationMs
	run.Error = nil
	run.ResponsePayload = store.JSONMap(result.Payload())

	if result.RunID != "" {
		externalID := result.RunID
		run.ExternalRunID = &externalID
	}

	if ttft, ok := result.Metadata["ttft_ms"].(float64); ok {
		run.TTFTMs = &ttft
	}

	if stats, ok := result.Metadata["inter_token_stats"].(map[string]any); ok {
		run.InterTokenStats = store.JSONMap(stats)
	}
}

func (e *executor) fail(run *store.Run, elapsed time.Duration, cause error) {
	finishedAt := e.now()
	durationMs := durationMillis(elapsed)
	message := cause.Error()

	run.Status = store.RunStatusFailed
	run.FinishedAt = &finishedAt
	run.TotalDurationMs = &durationMs
	run.Error = &message
	run.ResponsePayload = nil
}

// finish writes the terminal state in one update.
func (e *executor) finish(
	ctx context.Context, log logrus.FieldLogger, run *store.Run,
) (*store.Run, error) {
	fields := logrus.Fields{"status": run.Status}
	if run.TotalDurationMs != nil {
		fields["duration_ms"] = *run.TotalDurationMs
	}

	if err := e.store.UpdateRun(ctx, run); err != nil {
		log.WithFields(fields).WithError(err).
			Error("Failed to persist run outcome")

		return run, &PersistenceError{RunID: run.ID, Err: err}
	}

	if run.Status == store.RunStatusFailed {
		log.WithFields(fields).WithField("error", *run.Error).Warn("Run failed")
	} else {
		log.WithFields(fields).Info("Run completed")
	}

	return run, nil
}

// MergeInputs overlays the given mappings in order; keys of later layers
// replace keys of earlier ones. Nested objects are replaced, not merged.
func MergeInputs(layers ...map[string]any) map[string]any {
	size := 0
	for _, layer := range layers {
		size += len(layer)
	}

	merged := make(map[string]any, size)
	for _, layer := range layers {
		maps.Copy(merged, layer)
	}

	return merged
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
