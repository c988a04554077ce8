package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/deploymenttheory/go-model-retrain/internal/logger"
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tables as they were created by the first release, before branch
// selections were recorded
type runRecordV0 struct {
	Id          uuid.UUID `gorm:"type:uuid;primaryKey"`
	DagId       string    `gorm:"size:250;not null;index"`
	LogicalDate time.Time
	State       string    `gorm:"size:20;not null"`
	StartedAt   time.Time `gorm:"index"`
	FinishedAt  sql.NullTime
}

func (runRecordV0) TableName() string { return "run_records" }

type taskRecordV0 struct {
	RunId      uuid.UUID `gorm:"type:uuid;primaryKey"`
	TaskId     string    `gorm:"size:250;primaryKey"`
	Position   int
	State      string `gorm:"size:20;not null"`
	Attempts   int    `gorm:"default:0"`
	StartedAt  sql.NullTime
	FinishedAt sql.NullTime
	Error      sql.NullString
	Output     datatypes.JSON `gorm:"type:jsonb"`
}

func (taskRecordV0) TableName() string { return "task_records" }

type taskRecordV1 struct {
	Followed string
}

func (taskRecordV1) TableName() string { return "task_records" }

func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "0",
			Migrate: func(txn *gorm.DB) error {
				return txn.AutoMigrate(&runRecordV0{}, &taskRecordV0{})
			},
		},
		{
			ID: "1",
			Migrate: func(txn *gorm.DB) error {
				if err := txn.Migrator().AddColumn(&taskRecordV1{}, "Followed"); err != nil {
					return fmt.Errorf("error adding followed column: %w", err)
				}
				return nil
			},
			Rollback: func(txn *gorm.DB) error {
				if err := txn.Migrator().DropColumn(&taskRecordV1{}, "Followed"); err != nil {
					return fmt.Errorf("error dropping followed column: %w", err)
				}
				return nil
			},
		},
	}
}

func getMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, migrations())

	// A clean database gets the latest schema directly
	migrator.InitSchema(func(txn *gorm.DB) error {
		logger.LogInfo("Clean history database detected, running full schema initialization", nil)

		dbType := txn.Dialector.Name()
		if dbType == "sqlite" || dbType == "sqlite3" {
			if err := txn.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
				logger.LogWarn("Error enabling foreign keys for SQLite", map[string]interface{}{"error": err.Error()})
			}
		}

		return txn.AutoMigrate(&RunRecord{}, &TaskRecord{})
	})

	return migrator
}
