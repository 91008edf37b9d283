package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestEvent_Marshal(t *testing.T) {
	detail := json.RawMessage(`{"programs":3}`)
	event := Event{
		Type:       TypeTaskCompleted,
		TaskID:     uuid.NewString(),
		TaskType:   "fetch",
		Detail:     detail,
		OccurredAt: 1234567890,
	}

	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Type != event.Type {
		t.Errorf("type mismatch: got %s, want %s", decoded.Type, event.Type)
	}
	if decoded.TaskID != event.TaskID {
		t.Errorf("task id mismatch: got %s, want %s", decoded.TaskID, event.TaskID)
	}
	if string(decoded.Detail) != string(detail) {
		t.Errorf("detail mismatch: got %s, want %s", string(decoded.Detail), string(detail))
	}
}

func TestEvent_OmitsEmptyFields(t *testing.T) {
	event := Event{
		Type:       TypeMessageDelivered,
		UserID:     "U1",
		ProgramID:  "PBLN_001",
		OccurredAt: 1234567890,
	}

	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if _, ok := raw["task_id"]; ok {
		t.Error("empty task_id should be omitted")
	}
	if _, ok := raw["detail"]; ok {
		t.Error("empty detail should be omitted")
	}
	if _, ok := raw["user_id"]; !ok {
		t.Error("user_id should be present")
	}
}
