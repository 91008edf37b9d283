package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/db"
	"github.com/kbiz-labs/bizalim/internal/task"
)

// Pipeline defines the orchestrator operations the API triggers.
type Pipeline interface {
	CreateInitTask(ctx context.Context) (*db.Task, error)
	ProcessNextTask(ctx context.Context, taskType string) task.Outcome
	ResetRetryTasks(ctx context.Context) (int, error)
}

// TaskReader defines read access to the task table.
type TaskReader interface {
	GetTask(ctx context.Context, id uuid.UUID) (*db.Task, error)
	ListTasksByParent(ctx context.Context, parentID uuid.UUID) ([]*db.Task, error)
}

// QueueStats exposes queue depth per status.
type QueueStats interface {
	Stats(ctx context.Context) (map[string]int, error)
}

// SchedulerRequest is the body of POST /v1/scheduler.
type SchedulerRequest struct {
	Action   string `json:"action"`
	TaskType string `json:"task_type,omitempty"`
	MaxTasks int    `json:"max_tasks,omitempty"`
}

// SchedulerResponse reports what the scheduler action did.
type SchedulerResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Results   []task.Outcome `json:"results,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	pipeline Pipeline
	tasks    TaskReader
	queue    QueueStats
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, pipeline Pipeline, tasks TaskReader, queue QueueStats) *Handler {
	return &Handler{
		logger:   logger,
		pipeline: pipeline,
		tasks:    tasks,
		queue:    queue,
	}
}

const maxDrainPerRequest = 50

// RunScheduler handles POST /v1/scheduler.
//
// Actions:
//
//	init    - create a new pipeline init task
//	process - process the single oldest pending task (optional task_type filter)
//	drain   - process pending tasks until the table is empty or max_tasks is hit
//	sweep   - move tasks stuck in retry back to pending
func (h *Handler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SchedulerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	switch req.Action {
	case "init":
		t, err := h.pipeline.CreateInitTask(ctx)
		if err != nil {
			h.logger.Error("failed to create init task", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create init task", "")
			return
		}
		h.logger.Info("init task created", zap.String("task_id", t.ID.String()))
		h.writeScheduler(w, SchedulerResponse{
			Success:   true,
			Message:   "init task created: " + t.ID.String(),
			Timestamp: time.Now().UTC(),
		})

	case "process":
		if req.TaskType != "" && !validTaskType(req.TaskType) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid task_type",
				"task_type must be one of: init, fetch, match, generate, send, cleanup")
			return
		}
		outcome := h.pipeline.ProcessNextTask(ctx, req.TaskType)
		msg := "no pending tasks"
		if outcome.Processed {
			msg = "processed 1 task"
		}
		h.writeScheduler(w, SchedulerResponse{
			Success:   true,
			Message:   msg,
			Results:   []task.Outcome{outcome},
			Timestamp: time.Now().UTC(),
		})

	case "drain":
		max := req.MaxTasks
		if max <= 0 || max > maxDrainPerRequest {
			max = maxDrainPerRequest
		}
		results := make([]task.Outcome, 0, max)
		for i := 0; i < max; i++ {
			outcome := h.pipeline.ProcessNextTask(ctx, req.TaskType)
			if !outcome.Processed {
				break
			}
			results = append(results, outcome)
		}
		h.logger.Info("scheduler drain finished", zap.Int("processed", len(results)))
		h.writeScheduler(w, SchedulerResponse{
			Success:   true,
			Message:   "processed " + strconv.Itoa(len(results)) + " tasks",
			Results:   results,
			Timestamp: time.Now().UTC(),
		})

	case "sweep":
		n, err := h.pipeline.ResetRetryTasks(ctx)
		if err != nil {
			h.logger.Error("failed to sweep retry tasks", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to sweep retry tasks", "")
			return
		}
		h.writeScheduler(w, SchedulerResponse{
			Success:   true,
			Message:   "requeued " + strconv.Itoa(n) + " retry tasks",
			Timestamp: time.Now().UTC(),
		})

	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid action",
			"action must be one of: init, process, drain, sweep")
	}
}

// GetTask handles GET /v1/tasks/{id}. The response includes direct children
// so a caller can follow the pipeline fan-out from the init task.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid task ID", "ID must be a valid UUID")
		return
	}

	t, err := h.tasks.GetTask(ctx, id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			h.writeError(w, http.StatusNotFound, "not_found", "Task not found", "")
			return
		}
		h.logger.Error("failed to get task", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get task", "")
		return
	}

	children, err := h.tasks.ListTasksByParent(ctx, id)
	if err != nil {
		h.logger.Error("failed to list child tasks", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list child tasks", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"task":     t,
		"children": children,
	})
}

// GetQueueStats handles GET /v1/queue/stats
func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get queue stats", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get queue stats", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"queue":     stats,
		"timestamp": time.Now().UTC(),
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) writeScheduler(w http.ResponseWriter, resp SchedulerResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func validTaskType(t string) bool {
	switch t {
	case db.TaskTypeInit, db.TaskTypeFetch, db.TaskTypeMatch,
		db.TaskTypeGenerate, db.TaskTypeSend, db.TaskTypeCleanup:
		return true
	}
	return false
}
