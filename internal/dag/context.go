package dag

import (
	"fmt"
	"sync"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
)

// TaskContext is handed to a running task
type TaskContext struct {
	Run     RunInfo
	TaskID  string
	Attempt int

	outputs *outputStore
}

// Pull returns the output of a task that already succeeded in this run
func (tc *TaskContext) Pull(taskID string) (any, bool) {
	return tc.outputs.get(taskID)
}

// PullAs returns the output of an upstream task converted to T
func PullAs[T any](tc *TaskContext, taskID string) (T, error) {
	var zero T
	raw, ok := tc.Pull(taskID)
	if !ok {
		return zero, fmt.Errorf("%w: '%s' has no output", errors.ErrTaskOutputMissing, taskID)
	}
	value, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: output of '%s' is %T, not %T", errors.ErrTaskOutputMissing, taskID, raw, zero)
	}
	return value, nil
}

type outputStore struct {
	mu     sync.RWMutex
	values map[string]any
}

func newOutputStore() *outputStore {
	return &outputStore{values: make(map[string]any)}
}

func (s *outputStore) get(taskID string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[taskID]
	return v, ok
}

func (s *outputStore) set(taskID string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[taskID] = value
}
