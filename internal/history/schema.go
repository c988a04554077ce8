package history

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RunRecord is one persisted DAG run
type RunRecord struct {
	Id          uuid.UUID `gorm:"type:uuid;primaryKey"`
	DagId       string    `gorm:"size:250;not null;index"`
	LogicalDate time.Time
	State       string `gorm:"size:20;not null"`
	StartedAt   time.Time `gorm:"index"`
	FinishedAt  sql.NullTime

	Tasks []TaskRecord `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

// TaskRecord is the final outcome of one task in a run
type TaskRecord struct {
	RunId      uuid.UUID `gorm:"type:uuid;primaryKey"`
	TaskId     string    `gorm:"size:250;primaryKey"`
	Position   int
	State      string `gorm:"size:20;not null"`
	Attempts   int    `gorm:"default:0"`
	StartedAt  sql.NullTime
	FinishedAt sql.NullTime
	Error      sql.NullString
	Output     datatypes.JSON `gorm:"type:jsonb"`

	// Comma separated branch selection, set for branch tasks only
	Followed string
}

// FollowedTasks splits the stored branch selection
func (t TaskRecord) FollowedTasks() []string {
	if t.Followed == "" {
		return nil
	}
	return strings.Split(t.Followed, ",")
}

// Task returns the named task of the run
func (r RunRecord) Task(taskID string) (TaskRecord, bool) {
	for _, task := range r.Tasks {
		if task.TaskId == taskID {
			return task, true
		}
	}
	return TaskRecord{}, false
}

// Branch returns the tasks selected by the first branch task in the run
func (r RunRecord) Branch() []string {
	for _, task := range r.Tasks {
		if task.Followed != "" {
			return task.FollowedTasks()
		}
	}
	return nil
}
