// Package history persists DAG runs and task outcomes with gorm
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/dag"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the database
type Config struct {
	Driver string
	DSN    string
}

// Store records runs reported by the executor and answers history queries
type Store struct {
	db *gorm.DB
}

var _ dag.Reporter = (*Store)(nil)

// Open connects to the database and migrates it to the latest schema
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case DriverSQLite, "sqlite3", "":
		dialector = sqlite.Open(cfg.DSN)
	case DriverPostgres, "postgresql":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown history driver %q", errors.ErrConfigInvalid, cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: history.dsn", errors.ErrNotConfigured)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return NewStore(db)
}

// NewStore wraps an open connection and migrates it
func NewStore(db *gorm.DB) (*Store, error) {
	if name := db.Dialector.Name(); name == "sqlite" || name == "sqlite3" {
		// sqlite allows one writer; in-memory databases are per connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access history connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := getMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) RunStarted(ctx context.Context, run dag.RunInfo) {
	record := RunRecord{
		Id:          run.RunID,
		DagId:       run.DAGID,
		LogicalDate: run.LogicalDate.UTC(),
		State:       string(dag.RunRunning),
		StartedAt:   run.StartedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		logger.LogError("Failed to record run start", err, map[string]interface{}{"run_id": run.RunID.String()})
	}
}

func (s *Store) TaskFinished(ctx context.Context, run dag.RunInfo, outcome dag.TaskOutcome) {
	var position int64
	err := s.db.WithContext(ctx).Model(&TaskRecord{}).Where("run_id = ?", run.RunID).Count(&position).Error
	if err != nil {
		logger.LogError("Failed to order task outcome", err, map[string]interface{}{
			"run_id": run.RunID.String(),
			"task":   outcome.TaskID,
		})
		return
	}

	record := TaskRecord{
		RunId:      run.RunID,
		TaskId:     outcome.TaskID,
		Position:   int(position),
		State:      string(outcome.State),
		Attempts:   outcome.Attempts,
		StartedAt:  nullTime(outcome.StartedAt),
		FinishedAt: nullTime(outcome.FinishedAt),
		Followed:   strings.Join(outcome.Followed, ","),
	}
	if outcome.Err != nil {
		record.Error = sql.NullString{String: outcome.Err.Error(), Valid: true}
	}
	if outcome.Output != nil {
		data, err := json.Marshal(outcome.Output)
		if err != nil {
			logger.LogWarn("Task output is not JSON encodable", map[string]interface{}{
				"task":  outcome.TaskID,
				"error": err.Error(),
			})
		} else {
			record.Output = data
		}
	}

	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		logger.LogError("Failed to record task outcome", err, map[string]interface{}{
			"run_id": run.RunID.String(),
			"task":   outcome.TaskID,
		})
	}
}

func (s *Store) RunFinished(ctx context.Context, summary *dag.RunSummary) {
	err := s.db.WithContext(ctx).Model(&RunRecord{}).
		Where("id = ?", summary.RunID).
		Updates(map[string]interface{}{
			"state":       string(summary.State),
			"finished_at": nullTime(summary.FinishedAt),
		}).Error
	if err != nil {
		logger.LogError("Failed to record run completion", err, map[string]interface{}{"run_id": summary.RunID.String()})
	}
}

// ListRuns returns the most recent runs first, with their tasks
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var runs []RunRecord
	err := s.db.WithContext(ctx).
		Preload("Tasks", orderTasks).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run with its tasks
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	var run RunRecord
	err := s.db.WithContext(ctx).Preload("Tasks", orderTasks).First(&run, "id = ?", id).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", errors.ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("error retrieving run %s: %w", id, err)
	}
	return &run, nil
}

func orderTasks(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
