package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Trigger starts a run for a scenario.
type Trigger interface {
	TriggerRun(
		ctx context.Context, scenarioID uint, inputsOverride map[string]any,
	) (*store.Run, error)
}

// Scheduler triggers runs for scenarios whose run_settings ask for a
// recurring schedule.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error

	// Sync reconciles cron entries with the scenarios in the store.
	Sync(ctx context.Context) error

	// Entries returns the active cron spec per scenario ID.
	Entries() map[uint]string
}

// Compile-time interface check.
var _ Scheduler = (*scheduler)(nil)

type entry struct {
	spec string
	id   cron.EntryID
}

type scheduler struct {
	log      logrus.FieldLogger
	store    store.Store
	trigger  Trigger
	interval time.Duration
	cron     *cron.Cron

	mu      sync.Mutex
	entries map[uint]entry

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// DefaultSyncInterval is used when NewScheduler is given a non-positive
// interval.
const DefaultSyncInterval = time.Minute

// NewScheduler creates a scheduler that resyncs with the store every
// interval. A non-positive interval falls back to DefaultSyncInterval.
func NewScheduler(
	log logrus.FieldLogger,
	st store.Store,
	trigger Trigger,
	interval time.Duration,
) Scheduler {
	log = log.WithField("component", "scheduler")

	if interval <= 0 {
		log.WithField("sync_interval", interval.String()).
			Warn("Invalid sync interval, using default")

		interval = DefaultSyncInterval
	}

	return &scheduler{
		log:      log,
		store:    st,
		trigger:  trigger,
		interval: interval,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cron.PrintfLogger(log)),
		),
		entries: make(map[uint]entry),
		done:    make(chan struct{}),
	}
}

// Start syncs once, starts the cron runner and resyncs in the background.
func (s *scheduler) Start(ctx context.Context) error {
	s.log.WithField("sync_interval", s.interval.String()).
		Info("Starting scheduler")

	if err := s.Sync(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	s.cron.Start()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Sync(ctx); err != nil {
					s.log.WithError(err).Warn("Scheduler sync failed")
				}
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the resync loop and waits for running cron jobs. Calling it
// more than once is a no-op.
func (s *scheduler) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		<-s.cron.Stop().Done()

		s.log.Info("Scheduler stopped")
	})

	return nil
}

func (s *scheduler) Sync(ctx context.Context) error {
	scenarios, err := s.store.ListScenarios(ctx, 0, store.Page{})
	if err != nil {
		return fmt.Errorf("listing scenarios: %w", err)
	}

	desired := make(map[uint]string, len(scenarios))

	for _, sc := range scenarios {
		log := s.log.WithField("scenario_id", sc.ID)

		rs, err := ParseRunSettings(sc.RunSettings)
		if err != nil {
			log.WithError(err).Warn("Ignoring scenario run_settings")

			continue
		}

		spec, ok, err := rs.Spec()
		if err != nil {
			log.WithError(err).Warn("Ignoring scenario schedule")

			continue
		}

		if ok {
			desired[sc.ID] = spec
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if spec, ok := desired[id]; ok && spec == e.spec {
			continue
		}

		s.cron.Remove(e.id)
		delete(s.entries, id)

		s.log.WithField("scenario_id", id).Info("Schedule removed")
	}

	for id, spec := range desired {
		if _, ok := s.entries[id]; ok {
			continue
		}

		entryID, err := s.cron.AddFunc(spec, s.fire(id))
		if err != nil {
			s.log.WithError(err).WithField("scenario_id", id).
				Warn("Could not schedule scenario")

			continue
		}

		s.entries[id] = entry{spec: spec, id: entryID}

		s.log.WithFields(logrus.Fields{
			"scenario_id": id,
			"spec":        spec,
		}).Info("Schedule registered")
	}

	return nil
}

func (s *scheduler) Entries() map[uint]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uint]string, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.spec
	}

	return out
}

func (s *scheduler) fire(scenarioID uint) func() {
	return func() {
		log := s.log.WithField("scenario_id", scenarioID)

		run, err := s.trigger.TriggerRun(context.Background(), scenarioID, nil)
		if err != nil {
			log.WithError(err).Warn("Scheduled trigger failed")

			return
		}

		log.WithField("run_id", run.ID).Debug("Scheduled run triggered")
	}
}
