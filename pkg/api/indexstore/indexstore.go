package indexstore

import (
	"context"
	"fmt"

	"github.com/ethpandaops/allureboard/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store provides persistence for indexed run summaries.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, prefix string) ([]Run, error)
	ListRunIDs(ctx context.Context, prefix string) ([]string, error)
	ListIncompleteRunIDs(ctx context.Context, prefix string) ([]string, error)
	DeleteRun(ctx context.Context, prefix, runID string) error

	ReplaceTestResults(
		ctx context.Context, prefix, runID string, results []*TestResult,
	) error
	ListTestResults(
		ctx context.Context, prefix, runID string,
	) ([]TestResult, error)
	ListTestHistory(ctx context.Context, historyID string) ([]TestResult, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.APIDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new index Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.APIDatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
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

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	// One writer at a time for SQLite; also keeps a ":memory:" database
	// on a single connection.
	if s.cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&TestResult{},
	); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Index database connected")

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

// UpsertRun inserts a run or overwrites the existing row for prefix + run_id.
func (s *store) UpsertRun(ctx context.Context, run *Run) error {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "prefix"}, {Name: "run_id"}},
			UpdateAll: true,
		}).
		Create(run)
	if result.Error != nil {
		return fmt.Errorf("upserting run: %w", result.Error)
	}

	return nil
}

// ListRuns returns all runs under a prefix ordered by run id, which is the
// order object storage lists them in.
func (s *store) ListRuns(ctx context.Context, prefix string) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where("prefix = ?", prefix).
		Order("run_id ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListRunIDs returns just the run IDs under a prefix.
func (s *store) ListRunIDs(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("prefix = ?", prefix).
		Order("run_id ASC").
		Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing run ids: %w", err)
	}

	return ids, nil
}

// ListIncompleteRunIDs returns runs that failed to index or had no parsable
// results yet, so the next pass reads them again.
func (s *store) ListIncompleteRunIDs(
	ctx context.Context, prefix string,
) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("prefix = ? AND (error <> ? OR tests_total = ?)", prefix, "", 0).
		Order("run_id ASC").
		Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing incomplete run ids: %w", err)
	}

	return ids, nil
}

// DeleteRun removes a run and its test results.
func (s *store) DeleteRun(ctx context.Context, prefix, runID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("prefix = ? AND run_id = ?", prefix, runID).
			Delete(&TestResult{}).Error; err != nil {
			return fmt.Errorf("deleting test results: %w", err)
		}

		if err := tx.
			Where("prefix = ? AND run_id = ?", prefix, runID).
			Delete(&Run{}).Error; err != nil {
			return fmt.Errorf("deleting run: %w", err)
		}

		return nil
	})
}

// ReplaceTestResults swaps the stored results of a run for results in a
// single transaction.
func (s *store) ReplaceTestResults(
	ctx context.Context, prefix, runID string, results []*TestResult,
) error {
	const batchSize = 100

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("prefix = ? AND run_id = ?", prefix, runID).
			Delete(&TestResult{}).Error; err != nil {
			return fmt.Errorf("deleting old test results: %w", err)
		}

		if len(results) == 0 {
			return nil
		}

		if err := tx.CreateInBatches(results, batchSize).Error; err != nil {
			return fmt.Errorf("bulk inserting test results: %w", err)
		}

		return nil
	})
}

// ListTestResults returns the results of a run in insertion order.
func (s *store) ListTestResults(
	ctx context.Context, prefix, runID string,
) ([]TestResult, error) {
	var results []TestResult
	if err := s.db.WithContext(ctx).
		Where("prefix = ? AND run_id = ?", prefix, runID).
		Order("id ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing test results: %w", err)
	}

	return results, nil
}

// ListTestHistory returns every indexed outcome of one test across runs.
func (s *store) ListTestHistory(
	ctx context.Context, historyID string,
) ([]TestResult, error) {
	var results []TestResult
	if err := s.db.WithContext(ctx).
		Where("history_id = ?", historyID).
		Order("run_id ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing test history: %w", err)
	}

	return results, nil
}
