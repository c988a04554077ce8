package server

import (
	"encoding/json"
	"time"

	"github.com/deploymenttheory/go-model-retrain/internal/history"
	"github.com/google/uuid"
)

type TaskView struct {
	TaskID     string          `json:"task_id"`
	State      string          `json:"state"`
	Attempts   int             `json:"attempts"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Followed   []string        `json:"followed,omitempty"`
}

type RunView struct {
	ID          uuid.UUID  `json:"id"`
	DAGID       string     `json:"dag_id"`
	LogicalDate time.Time  `json:"logical_date"`
	State       string     `json:"state"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Branch      []string   `json:"branch,omitempty"`
	Tasks       []TaskView `json:"tasks"`
}

func runView(run history.RunRecord) RunView {
	view := RunView{
		ID:          run.Id,
		DAGID:       run.DagId,
		LogicalDate: run.LogicalDate,
		State:       run.State,
		StartedAt:   run.StartedAt,
		Branch:      run.Branch(),
		Tasks:       make([]TaskView, 0, len(run.Tasks)),
	}
	if run.FinishedAt.Valid {
		view.FinishedAt = &run.FinishedAt.Time
	}

	for _, task := range run.Tasks {
		tv := TaskView{
			TaskID:   task.TaskId,
			State:    task.State,
			Attempts: task.Attempts,
			Error:    task.Error.String,
			Followed: task.FollowedTasks(),
		}
		if task.StartedAt.Valid {
			tv.StartedAt = &task.StartedAt.Time
		}
		if task.FinishedAt.Valid {
			tv.FinishedAt = &task.FinishedAt.Time
		}
		if len(task.Output) > 0 {
			tv.Output = json.RawMessage(task.Output)
		}
		view.Tasks = append(view.Tasks, tv)
	}
	return view
}
