package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/automatoor/pkg/automation"
	"github.com/ethpandaops/automatoor/pkg/config"
	"github.com/ethpandaops/automatoor/pkg/dispatcher"
	"github.com/ethpandaops/automatoor/pkg/executor"
	"github.com/ethpandaops/automatoor/pkg/kpi"
	"github.com/ethpandaops/automatoor/pkg/scheduler"
	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/ethpandaops/automatoor/pkg/upload"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	archiver   upload.Archiver
	dispatcher dispatcher.Dispatcher
	aggregator kpi.Aggregator
	scheduler  scheduler.Scheduler
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(log logrus.FieldLogger, cfg *config.Config) Server {
	return &server{
		log: log.WithField("component", "api"),
		cfg: cfg,
	}
}

// Start opens the store, starts the run dispatcher and serves HTTP.
func (s *server) Start(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.API.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	client := automation.NewClient(s.log, &s.cfg.Automation)
	exec := executor.NewExecutor(
		s.log, s.store, client, s.cfg.Automation.Timeout(),
	)

	s.archiver = upload.NewArchiver(s.log, &s.cfg.Archive.S3)
	if s.cfg.Archive.S3.Enabled {
		if err := s.archiver.Preflight(ctx); err != nil {
			return fmt.Errorf("archive preflight: %w", err)
		}

		s.log.WithField("bucket", s.cfg.Archive.S3.Bucket).
			Info("S3 run archiving enabled")
	}

	s.dispatcher = dispatcher.NewDispatcher(
		s.log, s.store, exec, s.archiver, dispatcher.Options{
			MaxConcurrentRuns: s.cfg.Runner.MaxConcurrentRuns,
			QueueSize:         s.cfg.Runner.QueueSize,
			RecoverOnStart:    s.cfg.Runner.RecoverOnStart,
		},
	)

	s.aggregator = kpi.NewAggregator(s.log, s.store)

	if s.cfg.Scheduler.Enabled {
		s.scheduler = scheduler.NewScheduler(
			s.log, s.store, s.dispatcher, s.cfg.Scheduler.Interval(),
		)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.API.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.API.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.API.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithFields(logrus.Fields{
			"listen":    s.cfg.API.Server.Listen,
			"mock_mode": s.cfg.Automation.MockMode,
		}).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	// Recovered runs start executing only once the API is reachable.
	if err := s.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}

	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	return nil
}

// Stop shuts down the HTTP server, waits for in-flight runs and closes
// the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			s.log.WithError(err).Warn("Scheduler stop error")
		}
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Stop(); err != nil {
			s.log.WithError(err).Warn("Dispatcher stop error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
