package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/db"
	"github.com/kbiz-labs/bizalim/internal/task"
)

type fakePipeline struct {
	pending    int
	initErr    error
	resetErr   error
	initCalls  int
	resetCalls int
	claimCalls int
}

func (f *fakePipeline) CreateInitTask(ctx context.Context) (*db.Task, error) {
	f.initCalls++
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &db.Task{ID: uuid.New(), TaskType: db.TaskTypeInit}, nil
}

func (f *fakePipeline) ProcessNextTask(ctx context.Context, taskType string) task.Outcome {
	f.claimCalls++
	if f.pending == 0 {
		return task.Outcome{Processed: false}
	}
	f.pending--
	return task.Outcome{Processed: true, TaskID: uuid.NewString(), TaskType: db.TaskTypeFetch}
}

func (f *fakePipeline) ResetRetryTasks(ctx context.Context) (int, error) {
	f.resetCalls++
	if f.resetErr != nil {
		return 0, f.resetErr
	}
	return 0, nil
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(&fakePipeline{}, 0, 0, zap.NewNop())

	if s.spec != "@every 60m" {
		t.Errorf("spec = %s", s.spec)
	}
	if s.drainMax != 20 {
		t.Errorf("drainMax = %d", s.drainMax)
	}
}

func TestNewCustomInterval(t *testing.T) {
	s := New(&fakePipeline{}, 15, 5, zap.NewNop())

	if s.spec != "@every 15m" {
		t.Errorf("spec = %s", s.spec)
	}
}

func TestTickDrainsUntilEmpty(t *testing.T) {
	pipeline := &fakePipeline{pending: 3}
	s := New(pipeline, 60, 20, zap.NewNop())

	s.tick(context.Background())

	if pipeline.resetCalls != 1 {
		t.Errorf("resetCalls = %d", pipeline.resetCalls)
	}
	if pipeline.initCalls != 1 {
		t.Errorf("initCalls = %d", pipeline.initCalls)
	}
	// 3 processed plus the empty claim that ends the loop
	if pipeline.claimCalls != 4 {
		t.Errorf("claimCalls = %d", pipeline.claimCalls)
	}
}

func TestTickHonorsDrainMax(t *testing.T) {
	pipeline := &fakePipeline{pending: 10}
	s := New(pipeline, 60, 2, zap.NewNop())

	s.tick(context.Background())

	if pipeline.claimCalls != 2 {
		t.Errorf("claimCalls = %d, want 2", pipeline.claimCalls)
	}
	if pipeline.pending != 8 {
		t.Errorf("pending = %d, want 8", pipeline.pending)
	}
}

func TestTickStopsWhenInitFails(t *testing.T) {
	pipeline := &fakePipeline{pending: 3, initErr: errors.New("db down")}
	s := New(pipeline, 60, 20, zap.NewNop())

	s.tick(context.Background())

	if pipeline.claimCalls != 0 {
		t.Errorf("no tasks should be claimed after init failure, got %d claims", pipeline.claimCalls)
	}
}

func TestTickContinuesWhenSweepFails(t *testing.T) {
	pipeline := &fakePipeline{resetErr: errors.New("db down")}
	s := New(pipeline, 60, 20, zap.NewNop())

	s.tick(context.Background())

	if pipeline.initCalls != 1 {
		t.Error("init should still run when the retry sweep fails")
	}
}

func TestStartAndStop(t *testing.T) {
	s := New(&fakePipeline{}, 60, 20, zap.NewNop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
}
