package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/db"
	"github.com/kbiz-labs/bizalim/internal/task"
)

var errDatabase = errors.New("database error")

// fakePipeline is a scriptable Pipeline.
type fakePipeline struct {
	initTask   *db.Task
	outcomes   []task.Outcome
	next       int
	resetCount int
	shouldFail bool

	processedTypes []string
}

func (f *fakePipeline) CreateInitTask(ctx context.Context) (*db.Task, error) {
	if f.shouldFail {
		return nil, errDatabase
	}
	if f.initTask == nil {
		f.initTask = &db.Task{ID: uuid.New(), TaskType: db.TaskTypeInit}
	}
	return f.initTask, nil
}

func (f *fakePipeline) ProcessNextTask(ctx context.Context, taskType string) task.Outcome {
	f.processedTypes = append(f.processedTypes, taskType)
	if f.next >= len(f.outcomes) {
		return task.Outcome{Processed: false}
	}
	outcome := f.outcomes[f.next]
	f.next++
	return outcome
}

func (f *fakePipeline) ResetRetryTasks(ctx context.Context) (int, error) {
	if f.shouldFail {
		return 0, errDatabase
	}
	f.resetCount++
	return 4, nil
}

// fakeTaskReader serves tasks from a map.
type fakeTaskReader struct {
	tasks    map[uuid.UUID]*db.Task
	children map[uuid.UUID][]*db.Task
}

func (f *fakeTaskReader) GetTask(ctx context.Context, id uuid.UUID) (*db.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, errors.New("task not found: " + id.String())
	}
	return t, nil
}

func (f *fakeTaskReader) ListTasksByParent(ctx context.Context, parentID uuid.UUID) ([]*db.Task, error) {
	return f.children[parentID], nil
}

type fakeQueueStats struct {
	stats      map[string]int
	shouldFail bool
}

func (f *fakeQueueStats) Stats(ctx context.Context) (map[string]int, error) {
	if f.shouldFail {
		return nil, errDatabase
	}
	return f.stats, nil
}

func newTestHandler(pipeline *fakePipeline, tasks *fakeTaskReader, queue *fakeQueueStats) *Handler {
	if pipeline == nil {
		pipeline = &fakePipeline{}
	}
	if tasks == nil {
		tasks = &fakeTaskReader{tasks: map[uuid.UUID]*db.Task{}}
	}
	if queue == nil {
		queue = &fakeQueueStats{stats: map[string]int{}}
	}
	return NewHandler(zap.NewNop(), pipeline, tasks, queue)
}

func postScheduler(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/scheduler", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.RunScheduler(rec, req)
	return rec
}

func decodeScheduler(t *testing.T, rec *httptest.ResponseRecorder) SchedulerResponse {
	t.Helper()
	var resp SchedulerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestRunSchedulerInit(t *testing.T) {
	pipeline := &fakePipeline{}
	h := newTestHandler(pipeline, nil, nil)

	rec := postScheduler(t, h, `{"action":"init"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	resp := decodeScheduler(t, rec)
	if !resp.Success {
		t.Error("expected success")
	}
	if pipeline.initTask == nil {
		t.Fatal("init task not created")
	}
}

func TestRunSchedulerProcess(t *testing.T) {
	pipeline := &fakePipeline{outcomes: []task.Outcome{
		{Processed: true, TaskID: uuid.NewString(), TaskType: db.TaskTypeFetch},
	}}
	h := newTestHandler(pipeline, nil, nil)

	rec := postScheduler(t, h, `{"action":"process"}`)
	resp := decodeScheduler(t, rec)

	if len(resp.Results) != 1 || !resp.Results[0].Processed {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
}

func TestRunSchedulerProcessTypeFilter(t *testing.T) {
	pipeline := &fakePipeline{outcomes: []task.Outcome{{Processed: true, TaskType: db.TaskTypeCleanup}}}
	h := newTestHandler(pipeline, nil, nil)

	rec := postScheduler(t, h, `{"action":"process","task_type":"cleanup"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(pipeline.processedTypes) != 1 || pipeline.processedTypes[0] != db.TaskTypeCleanup {
		t.Errorf("type filter not forwarded: %v", pipeline.processedTypes)
	}
}

func TestRunSchedulerProcessInvalidType(t *testing.T) {
	h := newTestHandler(nil, nil, nil)

	rec := postScheduler(t, h, `{"action":"process","task_type":"banana"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRunSchedulerDrainStopsWhenEmpty(t *testing.T) {
	pipeline := &fakePipeline{outcomes: []task.Outcome{
		{Processed: true, TaskType: db.TaskTypeInit},
		{Processed: true, TaskType: db.TaskTypeFetch},
		{Processed: true, TaskType: db.TaskTypeFetch},
	}}
	h := newTestHandler(pipeline, nil, nil)

	rec := postScheduler(t, h, `{"action":"drain","max_tasks":10}`)
	resp := decodeScheduler(t, rec)

	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	// 3 processed + 1 empty claim that ended the loop
	if len(pipeline.processedTypes) != 4 {
		t.Errorf("expected 4 claim attempts, got %d", len(pipeline.processedTypes))
	}
}

func TestRunSchedulerDrainHonorsMaxTasks(t *testing.T) {
	var outcomes []task.Outcome
	for i := 0; i < 10; i++ {
		outcomes = append(outcomes, task.Outcome{Processed: true, TaskType: db.TaskTypeFetch})
	}
	pipeline := &fakePipeline{outcomes: outcomes}
	h := newTestHandler(pipeline, nil, nil)

	rec := postScheduler(t, h, `{"action":"drain","max_tasks":2}`)
	resp := decodeScheduler(t, rec)

	if len(resp.Results) != 2 {
		t.Fatalf("expected max_tasks to cap at 2, got %d", len(resp.Results))
	}
}

func TestRunSchedulerSweep(t *testing.T) {
	pipeline := &fakePipeline{}
	h := newTestHandler(pipeline, nil, nil)

	rec := postScheduler(t, h, `{"action":"sweep"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if pipeline.resetCount != 1 {
		t.Errorf("expected one sweep call, got %d", pipeline.resetCount)
	}
}

func TestRunSchedulerInvalidAction(t *testing.T) {
	h := newTestHandler(nil, nil, nil)

	rec := postScheduler(t, h, `{"action":"reboot"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("error content type = %s", ct)
	}
}

func TestRunSchedulerMalformedBody(t *testing.T) {
	h := newTestHandler(nil, nil, nil)

	rec := postScheduler(t, h, `{"action":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRunSchedulerInitError(t *testing.T) {
	pipeline := &fakePipeline{shouldFail: true}
	h := newTestHandler(pipeline, nil, nil)

	rec := postScheduler(t, h, `{"action":"init"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func getWithChiParam(t *testing.T, h http.HandlerFunc, param, value, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(param, value)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestGetTaskWithChildren(t *testing.T) {
	parent := &db.Task{ID: uuid.New(), TaskType: db.TaskTypeInit, Status: db.TaskStatusCompleted}
	child := &db.Task{ID: uuid.New(), TaskType: db.TaskTypeFetch, ParentTaskID: &parent.ID}

	tasks := &fakeTaskReader{
		tasks:    map[uuid.UUID]*db.Task{parent.ID: parent},
		children: map[uuid.UUID][]*db.Task{parent.ID: {child}},
	}
	h := newTestHandler(nil, tasks, nil)

	rec := getWithChiParam(t, h.GetTask, "id", parent.ID.String(), "/v1/tasks/"+parent.ID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Task     *db.Task   `json:"task"`
		Children []*db.Task `json:"children"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Task == nil || body.Task.ID != parent.ID {
		t.Error("parent task missing from response")
	}
	if len(body.Children) != 1 || body.Children[0].ID != child.ID {
		t.Errorf("children missing: %+v", body.Children)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	h := newTestHandler(nil, nil, nil)

	rec := getWithChiParam(t, h.GetTask, "id", uuid.NewString(), "/v1/tasks/x")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetTaskInvalidID(t *testing.T) {
	h := newTestHandler(nil, nil, nil)

	rec := getWithChiParam(t, h.GetTask, "id", "not-a-uuid", "/v1/tasks/not-a-uuid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetQueueStats(t *testing.T) {
	queue := &fakeQueueStats{stats: map[string]int{"pending": 3, "sent": 12}}
	h := newTestHandler(nil, nil, queue)

	req := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
	rec := httptest.NewRecorder()
	h.GetQueueStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Queue map[string]int `json:"queue"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Queue["pending"] != 3 || body.Queue["sent"] != 12 {
		t.Errorf("unexpected stats: %v", body.Queue)
	}
}

func TestGetQueueStatsError(t *testing.T) {
	h := newTestHandler(nil, nil, &fakeQueueStats{shouldFail: true})

	req := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
	rec := httptest.NewRecorder()
	h.GetQueueStats(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
