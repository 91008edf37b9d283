package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task is one node in the persisted orchestration task graph.
type Task struct {
	ID           uuid.UUID       `json:"id"`
	TaskType     string          `json:"task_type"`
	Status       string          `json:"status"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *string         `json:"error,omitempty"`
	RetryCount   int             `json:"retry_count"`
	ParentTaskID *uuid.UUID      `json:"parent_task_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Task type constants
const (
	TaskTypeInit     = "init"
	TaskTypeFetch    = "fetch"
	TaskTypeMatch    = "match"
	TaskTypeGenerate = "generate"
	TaskTypeSend     = "send"
	TaskTypeCleanup  = "cleanup"
)

// Task status constants
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusRetry      = "retry"
	TaskStatusCanceled   = "canceled"
)

// QueuedMessage is one row in the outbound message queue.
type QueuedMessage struct {
	ID           uuid.UUID  `json:"id"`
	UserID       string     `json:"user_id"`
	ProgramID    string     `json:"program_id"`
	Content      string     `json:"content"`
	ProgramURL   string     `json:"program_url"`
	MessageType  string     `json:"message_type"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

// Message status constants
const (
	MessageStatusPending = "pending"
	MessageStatusSent    = "sent"
	MessageStatusFailed  = "failed"
)

// Message type constants
const (
	MessageTypeNewProgram = "new_program"
	MessageTypeDeadline   = "deadline"
)

// Notification frequency constants for the sent ledger
const (
	FrequencyNew      = "new"
	FrequencyDeadline = "deadline"
)

// SentNotification records that a (user, program) pair was notified once
// for a given frequency.
type SentNotification struct {
	UserID        string    `json:"user_id"`
	OpportunityID string    `json:"opportunity_id"`
	Frequency     string    `json:"frequency"`
	SentAt        time.Time `json:"sent_at"`
}

// NotificationSettings holds one user's notification preferences.
// Empty Regions or Categories means "any value matches" on that axis.
type NotificationSettings struct {
	UserID               string    `json:"user_id"`
	KakaoLinked          bool      `json:"kakao_linked"`
	KakaoAccessToken     *string   `json:"-"`
	NewProgramsAlert     bool      `json:"new_programs_alert"`
	DeadlineNotification bool      `json:"deadline_notification"`
	DeadlineDays         int       `json:"deadline_days"`
	Regions              []string  `json:"regions"`
	Categories           []string  `json:"categories"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
