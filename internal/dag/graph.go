package dag

import (
	"fmt"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
)

// Host is what a workflow definition needs from the platform that runs it
type Host interface {
	// Register adds a task. Its upstream tasks must already be registered.
	Register(task Task) error
}

// Graph is an in-memory Host. Tasks can only depend on tasks registered
// before them, so registration order is always a valid topological order.
type Graph struct {
	ID          string
	Description string
	Owner       string
	Tags        []string

	tasks      map[string]*Task
	order      []string
	downstream map[string][]string
}

var _ Host = (*Graph)(nil)

// NewGraph creates an empty graph
func NewGraph(id string) *Graph {
	return &Graph{
		ID:         id,
		tasks:      make(map[string]*Task),
		downstream: make(map[string][]string),
	}
}

// Register adds a task to the graph
func (g *Graph) Register(task Task) error {
	if task.ID == "" {
		return fmt.Errorf("%w: task id is required", errors.ErrInvalidArgument)
	}
	if task.Run == nil {
		return fmt.Errorf("%w: task '%s' has no run function", errors.ErrInvalidArgument, task.ID)
	}
	switch task.TriggerRule {
	case "", TriggerAllSuccess, TriggerNoneFailedMinOneSuccess:
	default:
		return fmt.Errorf("%w: task '%s' has unknown trigger rule '%s'", errors.ErrInvalidArgument, task.ID, task.TriggerRule)
	}
	if _, exists := g.tasks[task.ID]; exists {
		return fmt.Errorf("%w: '%s'", errors.ErrDuplicateTask, task.ID)
	}

	seen := make(map[string]bool, len(task.Upstream))
	for _, up := range task.Upstream {
		if _, ok := g.tasks[up]; !ok {
			return fmt.Errorf("%w: '%s' (upstream of '%s')", errors.ErrUnknownTask, up, task.ID)
		}
		if seen[up] {
			return fmt.Errorf("%w: task '%s' lists upstream '%s' twice", errors.ErrInvalidArgument, task.ID, up)
		}
		seen[up] = true
	}

	t := task
	t.Upstream = append([]string(nil), task.Upstream...)
	if t.TriggerRule == "" {
		t.TriggerRule = TriggerAllSuccess
	}
	g.tasks[t.ID] = &t
	g.order = append(g.order, t.ID)
	for _, up := range t.Upstream {
		g.downstream[up] = append(g.downstream[up], t.ID)
	}
	return nil
}

// Task looks up a registered task
func (g *Graph) Task(id string) (Task, bool) {
	t, ok := g.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// TaskIDs returns task ids in execution order
func (g *Graph) TaskIDs() []string {
	return append([]string(nil), g.order...)
}

// Downstream returns the direct downstream tasks of id
func (g *Graph) Downstream(id string) []string {
	return append([]string(nil), g.downstream[id]...)
}

// Validate checks the graph structure before it is executed
func (g *Graph) Validate() []error {
	var errs []error

	if g.ID == "" {
		errs = append(errs, fmt.Errorf("%w: dag id is required", errors.ErrInvalidArgument))
	}
	if len(g.order) == 0 {
		errs = append(errs, fmt.Errorf("%w: dag '%s' has no tasks", errors.ErrInvalidArgument, g.ID))
	}

	for _, id := range g.order {
		if g.tasks[id].Branch && len(g.downstream[id]) == 0 {
			errs = append(errs, fmt.Errorf("%w: branch task '%s' has no downstream tasks", errors.ErrInvalidBranch, id))
		}
	}

	return errs
}
