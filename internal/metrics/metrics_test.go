package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/health", 200, 100*time.Millisecond)
	RecordRequest("POST", "/v1/scheduler", 200, 50*time.Millisecond)
	RecordRequest("GET", "/v1/tasks/abc", 404, 10*time.Millisecond)
}

func TestRecordTaskProcessed(t *testing.T) {
	RecordTaskProcessed("fetch", "completed")
	RecordTaskProcessed("match", "retry")
	RecordTaskProcessed("send", "failed")
}

func TestRecordTaskDuration(t *testing.T) {
	RecordTaskDuration("fetch", 500*time.Millisecond)
	RecordTaskDuration("cleanup", 2*time.Second)
}

func TestRecordProgramsFetched(t *testing.T) {
	RecordProgramsFetched("new", 12)
	RecordProgramsFetched("deadline", 0)
}

func TestRecordMatchesComputed(t *testing.T) {
	RecordMatchesComputed(3)
	RecordMatchesComputed(0)
}

func TestRecordMessagesQueued(t *testing.T) {
	RecordMessagesQueued("new_program", 5)
	RecordMessagesQueued("deadline", 2)
}

func TestRecordMessageProcessed(t *testing.T) {
	RecordMessageProcessed("sent", "new_program")
	RecordMessageProcessed("failed", "deadline")
}

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Error("Handler should not return nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if len(body) == 0 {
		t.Error("metrics response should not be empty")
	}
}

func TestMiddleware(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	handler := Middleware(inner)
	req := httptest.NewRequest("POST", "/v1/scheduler", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !innerCalled {
		t.Error("inner handler should have been called")
	}

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Write([]byte("test"))

	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
