package kpi

import (
	"context"
	"fmt"

	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RecentRunsLimit is the number of runs returned in a dashboard.
const RecentRunsLimit = 10

// DashboardKPIs is a read-only snapshot of run history.
type DashboardKPIs struct {
	TotalRuns      int64           `json:"total_runs"`
	SuccessRate    float64         `json:"success_rate"`
	TotalTimeStats PercentileStats `json:"total_time_stats"`

	// Streaming metrics. TTFTStats is nil until some run reports a ttft.
	TTFTStats            *PercentileStats `json:"ttft_stats"`
	AvgInterTokenLatency *float64         `json:"avg_inter_token_latency"`

	RecentRuns []store.Run `json:"recent_runs"`
}

// Filter narrows the runs a dashboard is computed over.
type Filter struct {
	ScenarioID uint
}

// Aggregator computes dashboard KPIs.
type Aggregator interface {
	ComputeDashboard(ctx context.Context, filter Filter) (*DashboardKPIs, error)
}

// Compile-time interface check.
var _ Aggregator = (*aggregator)(nil)

type aggregator struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewAggregator creates a new KPI aggregator.
func NewAggregator(log logrus.FieldLogger, st store.Store) Aggregator {
	return &aggregator{
		log:   log.WithField("component", "kpi"),
		store: st,
	}
}

// ComputeDashboard gathers counts, percentile samples and the most recent
// runs. The queries are independent and run concurrently.
func (a *aggregator) ComputeDashboard(
	ctx context.Context, filter Filter,
) (*DashboardKPIs, error) {
	var (
		total, completed int64
		durations, ttfts []float64
		recent           []store.Run
	)

	all := store.RunFilter{ScenarioID: filter.ScenarioID}
	done := store.RunFilter{
		ScenarioID: filter.ScenarioID,
		Status:     store.RunStatusCompleted,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		total, err = a.store.CountRuns(gctx, all)

		return err
	})

	g.Go(func() error {
		var err error
		completed, err = a.store.CountRuns(gctx, done)

		return err
	})

	g.Go(func() error {
		var err error
		durations, err = a.store.ListRunDurations(gctx, done)

		return err
	})

	g.Go(func() error {
		var err error
		ttfts, err = a.store.ListRunTTFTs(gctx, all)

		return err
	})

	g.Go(func() error {
		var err error
		recent, err = a.store.ListRuns(
			gctx, all, store.Page{Limit: RecentRunsLimit},
		)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("computing dashboard: %w", err)
	}

	kpis := &DashboardKPIs{
		TotalRuns:      total,
		SuccessRate:    SuccessRate(completed, total),
		TotalTimeStats: Summarize(durations),
		RecentRuns:     recent,
	}

	if kpis.RecentRuns == nil {
		kpis.RecentRuns = []store.Run{}
	}

	if len(ttfts) > 0 {
		stats := Summarize(ttfts)
		kpis.TTFTStats = &stats
	}

	a.log.WithFields(logrus.Fields{
		"total_runs":   total,
		"success_rate": kpis.SuccessRate,
		"samples":      len(durations),
	}).Debug("Dashboard computed")

	return kpis, nil
}

// SuccessRate returns completed/total as a percentage, or 0 when there
// are no runs.
func SuccessRate(completed, total int64) float64 {
	if total == 0 {
		return 0
	}

	return float64(completed) / float64(total) * 100
}
