// Package task drives the notification pipeline as a small persisted task
// graph: init -> fetch -> match -> generate -> send, plus a cleanup task
// pruning old task rows. An external scheduler calls ProcessNextTask
// repeatedly; every handler failure is converted into retry bookkeeping on
// the task row, never a crash.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/catalog"
	"github.com/kbiz-labs/bizalim/internal/db"
	"github.com/kbiz-labs/bizalim/internal/events"
	"github.com/kbiz-labs/bizalim/internal/match"
	"github.com/kbiz-labs/bizalim/internal/metrics"
	"github.com/kbiz-labs/bizalim/internal/notify"
	"github.com/kbiz-labs/bizalim/internal/worker"
)

// Store is the task persistence dependency.
type Store interface {
	CreateTask(ctx context.Context, task *db.Task) error
	ClaimOldestPending(ctx context.Context, taskType string) (*db.Task, error)
	CompleteTask(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	MarkTaskRetry(ctx context.Context, id uuid.UUID, errMsg string, maxRetries int) (string, error)
	ResetRetryTasks(ctx context.Context) (int, error)
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time, exclude uuid.UUID) (int, error)
}

// Catalog fetches candidate programs for the two check types.
type Catalog interface {
	FetchNewSince(ctx context.Context, since time.Time) ([]catalog.Program, error)
	FetchEndingSoon(ctx context.Context, days int) ([]catalog.Program, error)
}

// Checkpoints persists the last-scan checkpoint.
type Checkpoints interface {
	LastCheck(ctx context.Context, name string) (time.Time, error)
	Advance(ctx context.Context, name string, prev, next time.Time) (bool, error)
}

// Matcher runs the batch matching contract.
type Matcher interface {
	MatchAll(ctx context.Context, programs []catalog.Program, frequency string, params match.Params) map[string][]match.Result
}

// Notifier runs the generate-and-queue composite.
type Notifier interface {
	ProcessGrouped(ctx context.Context, grouped map[string][]match.Result, messageType string) notify.Outcome
}

// Drainer drains the message queue.
type Drainer interface {
	ProcessQueue(ctx context.Context, limit int) worker.Stats
}

// EventPublisher emits optional pipeline lifecycle events.
type EventPublisher interface {
	PublishTaskOutcome(ctx context.Context, eventType, taskID, taskType string, detail json.RawMessage)
}

// Config holds orchestration settings.
type Config struct {
	MaxRetries            int
	RetentionDays         int
	DrainBatchSize        int
	DeadlineLookaheadDays int
	MatchParams           match.Params
}

// Outcome reports one ProcessNextTask invocation.
type Outcome struct {
	Processed bool   `json:"processed"`
	TaskID    string `json:"task_id,omitempty"`
	TaskType  string `json:"task_type,omitempty"`
	Err       string `json:"error,omitempty"`
}

// Orchestrator owns the task graph.
type Orchestrator struct {
	store       Store
	catalog     Catalog
	checkpoints Checkpoints
	matcher     Matcher
	notifier    Notifier
	drainer     Drainer
	publisher   EventPublisher // nil when events are disabled
	config      Config
	logger      *zap.Logger
}

// New creates an orchestrator.
func New(store Store, cat Catalog, checkpoints Checkpoints, matcher Matcher, notifier Notifier, drainer Drainer, publisher EventPublisher, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 7
	}
	if cfg.DrainBatchSize == 0 {
		cfg.DrainBatchSize = 50
	}
	if cfg.DeadlineLookaheadDays == 0 {
		cfg.DeadlineLookaheadDays = 7
	}
	if cfg.MatchParams == (match.Params{}) {
		cfg.MatchParams = match.DefaultParams()
	}

	return &Orchestrator{
		store:       store,
		catalog:     cat,
		checkpoints: checkpoints,
		matcher:     matcher,
		notifier:    notifier,
		drainer:     drainer,
		publisher:   publisher,
		config:      cfg,
		logger:      logger,
	}
}

// CreateInitTask creates the root task of a new orchestration run.
func (o *Orchestrator) CreateInitTask(ctx context.Context) (*db.Task, error) {
	task := &db.Task{
		ID:       uuid.New(),
		TaskType: db.TaskTypeInit,
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ProcessNextTask claims the single oldest pending task (optionally
// filtered by type), runs its handler, and records the outcome on the task
// row. Returns Processed=false when no pending task exists.
func (o *Orchestrator) ProcessNextTask(ctx context.Context, taskType string) Outcome {
	task, err := o.store.ClaimOldestPending(ctx, taskType)
	if err != nil {
		return Outcome{Err: err.Error()}
	}
	if task == nil {
		return Outcome{Processed: false}
	}

	start := time.Now()
	result, err := o.dispatch(ctx, task)
	metrics.RecordTaskDuration(task.TaskType, time.Since(start))

	outcome := Outcome{
		Processed: true,
		TaskID:    task.ID.String(),
		TaskType:  task.TaskType,
	}

	if err != nil {
		o.logger.Error("task handler failed",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
			zap.String("task_type", task.TaskType),
			zap.Int("retry_count", task.RetryCount),
		)

		status, markErr := o.store.MarkTaskRetry(ctx, task.ID, err.Error(), o.config.MaxRetries)
		if markErr != nil {
			o.logger.Error("failed to mark task for retry", zap.Error(markErr))
			status = db.TaskStatusFailed
		}
		metrics.RecordTaskProcessed(task.TaskType, status)
		if status == db.TaskStatusFailed && o.publisher != nil {
			o.publisher.PublishTaskOutcome(ctx, events.TypeTaskFailed, task.ID.String(), task.TaskType, nil)
		}

		outcome.Err = err.Error()
		return outcome
	}

	if err := o.store.CompleteTask(ctx, task.ID, result); err != nil {
		o.logger.Error("failed to complete task",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
		)
		outcome.Err = err.Error()
		return outcome
	}

	metrics.RecordTaskProcessed(task.TaskType, db.TaskStatusCompleted)
	if o.publisher != nil {
		o.publisher.PublishTaskOutcome(ctx, events.TypeTaskCompleted, task.ID.String(), task.TaskType, result)
	}

	return outcome
}

// ResetRetryTasks sweeps retry tasks back to pending.
func (o *Orchestrator) ResetRetryTasks(ctx context.Context) (int, error) {
	return o.store.ResetRetryTasks(ctx)
}

// dispatch routes a claimed task to its handler. A panic inside a handler
// is recovered here and treated as a handler error.
func (o *Orchestrator) dispatch(ctx context.Context, task *db.Task) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", task.TaskType, r)
		}
	}()

	switch task.TaskType {
	case db.TaskTypeInit:
		return o.handleInit(ctx, task)
	case db.TaskTypeFetch:
		return o.handleFetch(ctx, task)
	case db.TaskTypeMatch:
		return o.handleMatch(ctx, task)
	case db.TaskTypeGenerate:
		return o.handleGenerate(ctx, task)
	case db.TaskTypeSend:
		return o.handleSend(ctx, task)
	case db.TaskTypeCleanup:
		return o.handleCleanup(ctx, task)
	default:
		return nil, fmt.Errorf("unknown task type: %s", task.TaskType)
	}
}

// handleInit spawns the fixed children of a run: one fetch per check type
// plus one cleanup.
func (o *Orchestrator) handleInit(ctx context.Context, task *db.Task) (json.RawMessage, error) {
	children := []struct {
		taskType string
		params   interface{}
	}{
		{db.TaskTypeFetch, FetchParams{CheckType: CheckTypeNew}},
		{db.TaskTypeFetch, FetchParams{CheckType: CheckTypeDeadline}},
		{db.TaskTypeCleanup, nil},
	}

	var childIDs []string
	for _, child := range children {
		created, err := o.spawnChild(ctx, task.ID, child.taskType, child.params)
		if err != nil {
			return nil, fmt.Errorf("spawn %s child: %w", child.taskType, err)
		}
		childIDs = append(childIDs, created.ID.String())
	}

	return json.Marshal(InitResult{ChildTaskIDs: childIDs})
}

// handleFetch resolves the check type to a catalog query and spawns a
// match child when anything was found. The new-programs checkpoint is only
// advanced after a successful fetch.
func (o *Orchestrator) handleFetch(ctx context.Context, task *db.Task) (json.RawMessage, error) {
	var params FetchParams
	if err := json.Unmarshal(task.Parameters, &params); err != nil {
		return nil, fmt.Errorf("parse fetch parameters: %w", err)
	}

	var programs []catalog.Program
	switch params.CheckType {
	case CheckTypeNew:
		prev, err := o.checkpoints.LastCheck(ctx, db.CheckpointLastCheck)
		if err != nil {
			return nil, fmt.Errorf("read checkpoint: %w", err)
		}
		now := time.Now()

		programs, err = o.catalog.FetchNewSince(ctx, prev)
		if err != nil {
			return nil, fmt.Errorf("fetch new programs: %w", err)
		}

		if _, err := o.checkpoints.Advance(ctx, db.CheckpointLastCheck, prev, now); err != nil {
			// The sent ledger absorbs any duplicate detection caused by a
			// stale checkpoint, so a failed advance is not fatal.
			o.logger.Warn("failed to advance checkpoint", zap.Error(err))
		}

	case CheckTypeDeadline:
		var err error
		programs, err = o.catalog.FetchEndingSoon(ctx, o.config.DeadlineLookaheadDays)
		if err != nil {
			return nil, fmt.Errorf("fetch ending-soon programs: %w", err)
		}

	default:
		return nil, fmt.Errorf("unknown check type: %s", params.CheckType)
	}

	metrics.RecordProgramsFetched(params.CheckType, len(programs))

	result := FetchResult{
		CheckType:    params.CheckType,
		ProgramCount: len(programs),
	}

	if len(programs) > 0 {
		child, err := o.spawnChild(ctx, task.ID, db.TaskTypeMatch, MatchParams{
			CheckType: params.CheckType,
			Programs:  programs,
		})
		if err != nil {
			return nil, fmt.Errorf("spawn match child: %w", err)
		}
		result.MatchTaskID = child.ID.String()
	}

	return json.Marshal(result)
}

// handleMatch scores the carried programs for every eligible user and
// spawns a generate child when anyone matched.
func (o *Orchestrator) handleMatch(ctx context.Context, task *db.Task) (json.RawMessage, error) {
	var params MatchParams
	if err := json.Unmarshal(task.Parameters, &params); err != nil {
		return nil, fmt.Errorf("parse match parameters: %w", err)
	}

	grouped := o.matcher.MatchAll(ctx, params.Programs, frequencyFor(params.CheckType), o.config.MatchParams)

	total := 0
	for _, results := range grouped {
		for _, r := range results {
			if !r.AlreadySent {
				total++
			}
		}
	}
	metrics.RecordMatchesComputed(total)

	result := MatchTaskResult{
		CheckType:    params.CheckType,
		MatchedUsers: len(grouped),
		TotalMatches: total,
	}

	if total > 0 {
		child, err := o.spawnChild(ctx, task.ID, db.TaskTypeGenerate, GenerateParams{
			CheckType: params.CheckType,
			Matches:   grouped,
		})
		if err != nil {
			return nil, fmt.Errorf("spawn generate child: %w", err)
		}
		result.GenerateTaskID = child.ID.String()
	}

	return json.Marshal(result)
}

// handleGenerate queues messages for the carried matches and spawns a send
// child when anything was queued.
func (o *Orchestrator) handleGenerate(ctx context.Context, task *db.Task) (json.RawMessage, error) {
	var params GenerateParams
	if err := json.Unmarshal(task.Parameters, &params); err != nil {
		return nil, fmt.Errorf("parse generate parameters: %w", err)
	}

	messageType := messageTypeFor(params.CheckType)
	outcome := o.notifier.ProcessGrouped(ctx, params.Matches, messageType)
	metrics.RecordMessagesQueued(messageType, outcome.Queued)

	result := GenerateResult{Outcome: outcome}

	if outcome.Queued > 0 {
		child, err := o.spawnChild(ctx, task.ID, db.TaskTypeSend, SendParams{CheckType: params.CheckType})
		if err != nil {
			return nil, fmt.Errorf("spawn send child: %w", err)
		}
		result.SendTaskID = child.ID.String()
	}

	return json.Marshal(result)
}

// handleSend drains the message queue. The chain ends here: send tasks
// never spawn children.
func (o *Orchestrator) handleSend(ctx context.Context, task *db.Task) (json.RawMessage, error) {
	stats := o.drainer.ProcessQueue(ctx, o.config.DrainBatchSize)
	return json.Marshal(SendTaskResult{Stats: stats})
}

// handleCleanup prunes terminal tasks past the retention window, sparing
// its own row.
func (o *Orchestrator) handleCleanup(ctx context.Context, task *db.Task) (json.RawMessage, error) {
	cutoff := time.Now().AddDate(0, 0, -o.config.RetentionDays)

	deleted, err := o.store.DeleteTerminalOlderThan(ctx, cutoff, task.ID)
	if err != nil {
		return nil, fmt.Errorf("delete old tasks: %w", err)
	}

	return json.Marshal(CleanupResult{Deleted: deleted})
}

func (o *Orchestrator) spawnChild(ctx context.Context, parentID uuid.UUID, taskType string, params interface{}) (*db.Task, error) {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s parameters: %w", taskType, err)
		}
		raw = encoded
	}

	child := &db.Task{
		ID:           uuid.New(),
		TaskType:     taskType,
		Parameters:   raw,
		ParentTaskID: &parentID,
	}
	if err := o.store.CreateTask(ctx, child); err != nil {
		return nil, err
	}

	return child, nil
}

func frequencyFor(checkType string) string {
	if checkType == CheckTypeDeadline {
		return db.FrequencyDeadline
	}
	return db.FrequencyNew
}

func messageTypeFor(checkType string) string {
	if checkType == CheckTypeDeadline {
		return db.MessageTypeDeadline
	}
	return db.MessageTypeNewProgram
}
