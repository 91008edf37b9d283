package task

import (
	"github.com/kbiz-labs/bizalim/internal/catalog"
	"github.com/kbiz-labs/bizalim/internal/match"
	"github.com/kbiz-labs/bizalim/internal/notify"
	"github.com/kbiz-labs/bizalim/internal/worker"
)

// Check type constants carried through fetch/match/generate parameters.
const (
	CheckTypeNew      = "new"
	CheckTypeDeadline = "deadline"
)

// Task parameters and results are stored as JSON in the task row. One
// payload shape per task type keeps the handler dispatch exhaustive.

// InitResult records the children spawned by an init task.
type InitResult struct {
	ChildTaskIDs []string `json:"child_task_ids"`
}

// FetchParams selects which catalog check a fetch task runs.
type FetchParams struct {
	CheckType string `json:"check_type"`
}

// FetchResult summarizes a fetch task.
type FetchResult struct {
	CheckType    string `json:"check_type"`
	ProgramCount int    `json:"program_count"`
	MatchTaskID  string `json:"match_task_id,omitempty"`
}

// MatchParams carries the fetched programs into a match task.
type MatchParams struct {
	CheckType string            `json:"check_type"`
	Programs  []catalog.Program `json:"programs"`
}

// MatchTaskResult summarizes a match task.
type MatchTaskResult struct {
	CheckType      string `json:"check_type"`
	MatchedUsers   int    `json:"matched_users"`
	TotalMatches   int    `json:"total_matches"`
	GenerateTaskID string `json:"generate_task_id,omitempty"`
}

// GenerateParams carries grouped match results into a generate task.
type GenerateParams struct {
	CheckType string                    `json:"check_type"`
	Matches   map[string][]match.Result `json:"matches"`
}

// GenerateResult summarizes a generate task.
type GenerateResult struct {
	notify.Outcome
	SendTaskID string `json:"send_task_id,omitempty"`
}

// SendParams is carried by a send task.
type SendParams struct {
	CheckType string `json:"check_type,omitempty"`
}

// SendTaskResult summarizes a send task's queue drain.
type SendTaskResult struct {
	worker.Stats
}

// CleanupResult summarizes a cleanup task.
type CleanupResult struct {
	Deleted int `json:"deleted"`
}
