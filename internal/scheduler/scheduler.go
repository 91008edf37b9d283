// Package scheduler wires up the cron jobs that periodically kick off the
// notification pipeline and drain its pending tasks. Deployments that prefer
// an external cron (calling POST /v1/scheduler) keep this disabled.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/db"
	"github.com/kbiz-labs/bizalim/internal/task"
)

// Pipeline is the orchestrator surface the scheduler drives.
type Pipeline interface {
	CreateInitTask(ctx context.Context) (*db.Task, error)
	ProcessNextTask(ctx context.Context, taskType string) task.Outcome
	ResetRetryTasks(ctx context.Context) (int, error)
}

// Scheduler wraps robfig/cron and drives the pipeline on an interval.
type Scheduler struct {
	cron     *cron.Cron
	pipeline Pipeline
	drainMax int
	spec     string
	logger   *zap.Logger
}

// New creates a Scheduler that fires every intervalMin minutes and processes
// up to drainMax tasks per tick.
func New(pipeline Pipeline, intervalMin, drainMax int, logger *zap.Logger) *Scheduler {
	if intervalMin <= 0 {
		intervalMin = 60
	}
	if drainMax <= 0 {
		drainMax = 20
	}
	return &Scheduler{
		cron:     cron.New(),
		pipeline: pipeline,
		drainMax: drainMax,
		spec:     fmt.Sprintf("@every %dm", intervalMin),
		logger:   logger,
	}
}

// Start registers the tick job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec), zap.Int("drain_max", s.drainMax))
	return nil
}

// Stop shuts the cron loop down. Jobs already running finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// tick runs one pipeline cycle: requeue stuck retries, create a fresh init
// task, then drain until the table is empty or the per-tick cap is hit.
func (s *Scheduler) tick(ctx context.Context) {
	if n, err := s.pipeline.ResetRetryTasks(ctx); err != nil {
		s.logger.Warn("retry sweep failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued retry tasks", zap.Int("count", n))
	}

	t, err := s.pipeline.CreateInitTask(ctx)
	if err != nil {
		s.logger.Error("failed to create init task", zap.Error(err))
		return
	}
	s.logger.Info("pipeline cycle started", zap.String("init_task_id", t.ID.String()))

	processed := 0
	for processed < s.drainMax {
		outcome := s.pipeline.ProcessNextTask(ctx, "")
		if !outcome.Processed {
			break
		}
		processed++
		if outcome.Err != "" {
			s.logger.Warn("task failed during scheduled drain",
				zap.String("task_id", outcome.TaskID),
				zap.String("task_type", outcome.TaskType),
				zap.String("error", outcome.Err),
			)
		}
	}
	s.logger.Info("pipeline cycle finished", zap.Int("processed", processed))
}
