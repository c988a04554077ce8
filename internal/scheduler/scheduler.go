// Package scheduler triggers pipeline runs on a fixed schedule without catchup
package scheduler

import (
	"context"
	"sync"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
)

// RunFunc executes one pipeline run for a logical date
type RunFunc func(ctx context.Context, logicalDate time.Time) error

// Scheduler allows at most one active run at a time
type Scheduler struct {
	schedule   Schedule
	run        RunFunc
	runOnStart bool
	now        func() time.Time
	ctx        context.Context

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

type Option func(*Scheduler)

// WithRunOnStart triggers a run as soon as Start is called
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) { s.runOnStart = enabled }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. Every run, scheduled or triggered, executes under
// ctx, so cancelling it stops runs started before Start was called.
func New(ctx context.Context, schedule Schedule, run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		schedule: schedule,
		run:      run,
		now:      time.Now,
		ctx:      ctx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start fires runs at each schedule boundary until ctx is cancelled, then
// waits for the active run to finish. Boundaries missed while the process
// was down or a run was still active are not backfilled.
func (s *Scheduler) Start(ctx context.Context) error {
	defer s.wg.Wait()

	logger.LogInfo("Scheduler started", map[string]interface{}{
		"schedule":     s.schedule.String(),
		"run_on_start": s.runOnStart,
	})

	if s.runOnStart {
		now := s.now()
		s.fire(s.schedule.LogicalDate(s.schedule.Next(now)))
	}

	for {
		next := s.schedule.Next(s.now())
		wait := next.Sub(s.now())
		logger.LogDebug("Waiting for next scheduled run", map[string]interface{}{
			"next_run": next.Format(time.RFC3339),
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.LogInfo("Scheduler stopping", nil)
			return nil
		case <-timer.C:
			s.fire(s.schedule.LogicalDate(next))
		}
	}
}

func (s *Scheduler) fire(logicalDate time.Time) {
	if err := s.Trigger(logicalDate); err != nil {
		logger.LogWarn("Skipping scheduled run", map[string]interface{}{
			"logical_date": logicalDate.Format(time.RFC3339),
			"reason":       err.Error(),
		})
	}
}

// Trigger starts a run in the background. It returns ErrRunInProgress when
// a run is already active.
func (s *Scheduler) Trigger(logicalDate time.Time) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.ErrRunInProgress
	}
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		log := logger.WithFields(map[string]interface{}{
			"logical_date": logicalDate.Format(time.RFC3339),
		})
		log.Debugw("Scheduled run starting")
		if err := s.run(s.ctx, logicalDate); err != nil {
			log.Errorw("Scheduled run failed", "error", err.Error())
		}
	}()
	return nil
}

// Running reports whether a run is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until the active run, if any, finishes
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
