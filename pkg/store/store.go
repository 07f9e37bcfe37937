package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/automatoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a record is still referenced by others.
	ErrConflict = errors.New("conflict")
)

// Store provides persistence for automations, scenarios and runs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Automation CRUD.
	GetAutomation(ctx context.Context, id uint) (*Automation, error)
	ListAutomations(ctx context.Context, page Page) ([]Automation, error)
	CreateAutomation(ctx context.Context, a *Automation) error
	UpdateAutomation(ctx context.Context, a *Automation) error
	DeleteAutomation(ctx context.Context, id uint) error

	// Scenario CRUD.
	GetScenario(ctx context.Context, id uint) (*Scenario, error)
	ListScenarios(
		ctx context.Context, automationID uint, page Page,
	) ([]Scenario, error)
	CreateScenario(ctx context.Context, sc *Scenario) error
	UpdateScenario(ctx context.Context, sc *Scenario) error
	DeleteScenario(ctx context.Context, id uint) error

	// Runs.
	CreateRun(ctx context.Context, scenarioID uint) (*Run, error)
	GetRun(ctx context.Context, id uint) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	DeleteRun(ctx context.Context, id uint) error
	ListRuns(ctx context.Context, filter RunFilter, page Page) ([]Run, error)
	CountRuns(ctx context.Context, filter RunFilter) (int64, error)

	// Metric samples for aggregation.
	ListRunDurations(ctx context.Context, filter RunFilter) ([]float64, error)
	ListRunTTFTs(ctx context.Context, filter RunFilter) ([]float64, error)

	// Seeding from fixtures.
	Seed(ctx context.Context, fixtures *Fixtures) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.APIDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.APIDatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows a single writer, and each ":memory:" connection is
	// its own database.
	if s.cfg.Driver == "sqlite" {
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Automation{},
		&Scenario{},
		&Run{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// notFound translates gorm's missing-row error into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}

func paginate(tx *gorm.DB, page Page) *gorm.DB {
	if page.Offset > 0 {
		tx = tx.Offset(page.Offset)
	}

	if page.Limit > 0 {
		tx = tx.Limit(page.Limit)
	}

	return tx
}

// --- Automation CRUD ---

func (s *store) GetAutomation(
	ctx context.Context, id uint,
) (*Automation, error) {
	var a Automation
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, fmt.Errorf("getting automation %d: %w", id, notFound(err))
	}

	return &a, nil
}

func (s *store) ListAutomations(
	ctx context.Context, page Page,
) ([]Automation, error) {
	var automations []Automation
	if err := paginate(s.db.WithContext(ctx), page).
		Order("id ASC").
		Find(&automations).Error; err != nil {
		return nil, fmt.Errorf("listing automations: %w", err)
	}

	return automations, nil
}

func (s *store) CreateAutomation(ctx context.Context, a *Automation) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("creating automation: %w", err)
	}

	return nil
}

func (s *store) UpdateAutomation(ctx context.Context, a *Automation) error {
	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		return fmt.Errorf("updating automation: %w", err)
	}

	return nil
}

// DeleteAutomation removes an automation that no scenario references.
func (s *store) DeleteAutomation(ctx context.Context, id uint) error {
	if _, err := s.GetAutomation(ctx, id); err != nil {
		return err
	}

	var refs int64
	if err := s.db.WithContext(ctx).
		Model(&Scenario{}).
		Where("automation_id = ?", id).
		Count(&refs).Error; err != nil {
		return fmt.Errorf("counting scenarios for automation: %w", err)
	}

	if refs > 0 {
		return fmt.Errorf(
			"automation %d is used by %d scenarios: %w", id, refs, ErrConflict,
		)
	}

	if err := s.db.WithContext(ctx).
		Delete(&Automation{}, id).Error; err != nil {
		return fmt.Errorf("deleting automation: %w", err)
	}

	return nil
}

// --- Scenario CRUD ---

func (s *store) GetScenario(
	ctx context.Context, id uint,
) (*Scenario, error) {
	var sc Scenario
	if err := s.db.WithContext(ctx).First(&sc, id).Error; err != nil {
		return nil, fmt.Errorf("getting scenario %d: %w", id, notFound(err))
	}

	return &sc, nil
}

func (s *store) ListScenarios(
	ctx context.Context, automationID uint, page Page,
) ([]Scenario, error) {
	tx := s.db.WithContext(ctx)
	if automationID != 0 {
		tx = tx.Where("automation_id = ?", automationID)
	}

	var scenarios []Scenario
	if err := paginate(tx, page).
		Order("id ASC").
		Find(&scenarios).Error; err != nil {
		return nil, fmt.Errorf("listing scenarios: %w", err)
	}

	return scenarios, nil
}

// CreateScenario inserts a scenario after checking its automation exists.
func (s *store) CreateScenario(ctx context.Context, sc *Scenario) error {
	if _, err := s.GetAutomation(ctx, sc.AutomationID); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(sc).Error; err != nil {
		return fmt.Errorf("creating scenario: %w", err)
	}

	return nil
}

func (s *store) UpdateScenario(ctx context.Context, sc *Scenario) error {
	if _, err := s.GetAutomation(ctx, sc.AutomationID); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Save(sc).Error; err != nil {
		return fmt.Errorf("updating scenario: %w", err)
	}

	return nil
}

// DeleteScenario removes a scenario that has no run history.
func (s *store) DeleteScenario(ctx context.Context, id uint) error {
	if _, err := s.GetScenario(ctx, id); err != nil {
		return err
	}

	runs, err := s.CountRuns(ctx, RunFilter{ScenarioID: id})
	if err != nil {
		return err
	}

	if runs > 0 {
		return fmt.Errorf(
			"scenario %d has %d runs: %w", id, runs, ErrConflict,
		)
	}

	if err := s.db.WithContext(ctx).
		Delete(&Scenario{}, id).Error; err != nil {
		return fmt.Errorf("deleting scenario: %w", err)
	}

	return nil
}

// --- Runs ---

// CreateRun inserts a pending run for an existing scenario.
func (s *store) CreateRun(
	ctx context.Context, scenarioID uint,
) (*Run, error) {
	if _, err := s.GetScenario(ctx, scenarioID); err != nil {
		return nil, err
	}

	run := &Run{
		ScenarioID: scenarioID,
		Status:     RunStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	return run, nil
}

func (s *store) GetRun(ctx context.Context, id uint) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, fmt.Errorf("getting run %d: %w", id, notFound(err))
	}

	return &run, nil
}

// UpdateRun writes every column of the run in a single statement.
func (s *store) UpdateRun(ctx context.Context, run *Run) error {
	result := s.db.WithContext(ctx).
		Model(run).
		Select("*").
		Omit("id", "created_at").
		Updates(run)
	if result.Error != nil {
		return fmt.Errorf("updating run %d: %w", run.ID, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("updating run %d: %w", run.ID, ErrNotFound)
	}

	return nil
}

func (s *store) DeleteRun(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&Run{}, id)
	if result.Error != nil {
		return fmt.Errorf("deleting run: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("deleting run %d: %w", id, ErrNotFound)
	}

	return nil
}

func (s *store) filterRuns(ctx context.Context, filter RunFilter) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&Run{})

	if filter.ScenarioID != 0 {
		tx = tx.Where("scenario_id = ?", filter.ScenarioID)
	}

	if filter.Status != "" {
		tx = tx.Where("status = ?", filter.Status)
	}

	return tx
}

// ListRuns returns runs matching filter, newest first.
func (s *store) ListRuns(
	ctx context.Context, filter RunFilter, page Page,
) ([]Run, error) {
	var runs []Run
	if err := paginate(s.filterRuns(ctx, filter), page).
		Order("created_at DESC").
		Order("id DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

func (s *store) CountRuns(
	ctx context.Context, filter RunFilter,
) (int64, error) {
	var count int64
	if err := s.filterRuns(ctx, filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}

	return count, nil
}

// ListRunDurations returns every non-null total_duration_ms of the runs
// matching filter.
func (s *store) ListRunDurations(
	ctx context.Context, filter RunFilter,
) ([]float64, error) {
	var durations []float64
	if err := s.filterRuns(ctx, filter).
		Where("total_duration_ms IS NOT NULL").
		Pluck("total_duration_ms", &durations).Error; err != nil {
		return nil, fmt.Errorf("listing run durations: %w", err)
	}

	return durations, nil
}

// ListRunTTFTs returns every non-null ttft_ms of the runs matching filter.
func (s *store) ListRunTTFTs(
	ctx context.Context, filter RunFilter,
) ([]float64, error) {
	var values []float64
	if err := s.filterRuns(ctx, filter).
		Where("ttft_ms IS NOT NULL").
		Pluck("ttft_ms", &values).Error; err != nil {
		return nil, fmt.Errorf("listing run ttfts: %w", err)
	}

	return values, nil
}
