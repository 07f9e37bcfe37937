package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethpandaops/automatoor/pkg/executor"
	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/ethpandaops/automatoor/pkg/upload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ErrStopped is returned when jobs are submitted after Stop.
var ErrStopped = errors.New("dispatcher stopped")

// Job is a request to execute one run.
type Job struct {
	RunID          uint
	ScenarioID     uint
	InputsOverride map[string]any
}

// Dispatcher accepts run triggers and executes them in the background.
type Dispatcher interface {
	Start(ctx context.Context) error
	Stop() error

	// TriggerRun creates a pending run for the scenario and queues it for
	// execution. It returns store.ErrNotFound, without creating a run, when
	// the scenario does not exist.
	TriggerRun(
		ctx context.Context, scenarioID uint, inputsOverride map[string]any,
	) (*store.Run, error)

	// Enqueue queues a job for an existing run. It never blocks; jobs
	// beyond the queue capacity wait in a backlog.
	Enqueue(ctx context.Context, job Job) error
}

// Options configures a Dispatcher.
type Options struct {
	MaxConcurrentRuns int
	QueueSize         int
	RecoverOnStart    bool
}

// Compile-time interface check.
var _ Dispatcher = (*dispatcher)(nil)

type dispatcher struct {
	log      logrus.FieldLogger
	store    store.Store
	executor executor.Executor
	archiver upload.Archiver
	opts     Options

	queue  chan Job
	sem    *semaphore.Weighted
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	backlog []Job
	stopped bool
}

// NewDispatcher creates a new run dispatcher.
func NewDispatcher(
	log logrus.FieldLogger,
	st store.Store,
	exec executor.Executor,
	archiver upload.Archiver,
	opts Options,
) Dispatcher {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 1
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}

	return &dispatcher{
		log:      log.WithField("component", "dispatcher"),
		store:    st,
		executor: exec,
		archiver: archiver,
		opts:     opts,
		queue:    make(chan Job, opts.QueueSize),
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrentRuns)),
	}
}

// Start launches the dispatch loop and, if configured, re-queues runs that
// never reached a terminal state.
func (d *dispatcher) Start(ctx context.Context) error {
	d.log.WithFields(logrus.Fields{
		"max_concurrent_runs": d.opts.MaxConcurrentRuns,
		"queue_size":          d.opts.QueueSize,
	}).Info("Starting dispatcher")

	ctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		d.loop(ctx)
	}()

	if d.opts.RecoverOnStart {
		if err := d.recoverRuns(ctx); err != nil {
			return fmt.Errorf("recovering runs: %w", err)
		}
	}

	return nil
}

// Stop stops accepting jobs and waits for in-flight runs to finish.
// Queued jobs that have not started remain pending in the store.
func (d *dispatcher) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()

		return nil
	}

	d.stopped = true
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	d.wg.Wait()

	d.log.Info("Dispatcher stopped")

	return nil
}

func (d *dispatcher) TriggerRun(
	ctx context.Context, scenarioID uint, inputsOverride map[string]any,
) (*store.Run, error) {
	run, err := d.store.CreateRun(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	log := d.log.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"scenario_id": scenarioID,
	})

	if err := d.Enqueue(ctx, Job{
		RunID:          run.ID,
		ScenarioID:     scenarioID,
		InputsOverride: inputsOverride,
	}); err != nil {
		// The run stays pending and is picked up by the next recovery.
		log.WithError(err).Warn("Run created but not queued")

		return run, err
	}

	log.Info("Run triggered")

	return run, nil
}

// Enqueue keeps jobs in submission order. While the backlog is non-empty
// the queue is full, so every receive in loop is followed by a refill.
func (d *dispatcher) Enqueue(_ context.Context, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}

	if len(d.backlog) == 0 {
		select {
		case d.queue <- job:
			return nil
		default:
		}
	}

	d.backlog = append(d.backlog, job)

	d.log.WithFields(logrus.Fields{
		"run_id":  job.RunID,
		"backlog": len(d.backlog),
	}).Debug("Run queue full, job backlogged")

	return nil
}

// refill moves backlogged jobs into the queue while it has room.
func (d *dispatcher) refill() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.backlog) > 0 {
		select {
		case d.queue <- d.backlog[0]:
			d.backlog[0] = Job{}
			d.backlog = d.backlog[1:]
		default:
			return
		}
	}
}

func (d *dispatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			d.refill()

			if err := d.sem.Acquire(ctx, 1); err != nil {
				return
			}

			d.wg.Add(1)

			go func() {
				defer d.wg.Done()
				defer d.sem.Release(1)

				d.process(ctx, job)
			}()
		}
	}
}

// process executes a job. Runs are detached from the caller's
// cancellation so an accepted run always reaches a terminal state.
func (d *dispatcher) process(ctx context.Context, job Job) {
	runCtx := context.WithoutCancel(ctx)
	log := d.log.WithField("run_id", job.RunID)

	run, err := d.executor.ExecuteRun(
		runCtx, job.RunID, job.ScenarioID, job.InputsOverride,
	)
	if err != nil {
		log.WithError(err).Error("Run execution failed")

		return
	}

	if !run.Status.IsTerminal() {
		return
	}

	if err := d.archiver.Archive(runCtx, run); err != nil {
		log.WithError(err).Warn("Failed to archive run")
	}
}

// recoverRuns queues every running and then every pending run, oldest first.
// Input overrides of those runs are not persisted and are lost.
func (d *dispatcher) recoverRuns(ctx context.Context) error {
	var recovered []store.Run

	for _, status := range []store.RunStatus{
		store.RunStatusPending, store.RunStatusRunning,
	} {
		runs, err := d.store.ListRuns(ctx, store.RunFilter{Status: status}, store.Page{})
		if err != nil {
			return err
		}

		recovered = append(recovered, runs...)
	}

	if len(recovered) == 0 {
		return nil
	}

	queued := 0

	for i := len(recovered) - 1; i >= 0; i-- {
		run := recovered[i]

		if err := d.Enqueue(ctx, Job{RunID: run.ID, ScenarioID: run.ScenarioID}); err != nil {
			d.log.WithError(err).WithField("run_id", run.ID).
				Warn("Could not queue recovered run")

			continue
		}

		queued++
	}

	d.log.WithFields(logrus.Fields{
		"found":  len(recovered),
		"queued": queued,
	}).Info("Recovered unfinished runs")

	return nil
}
