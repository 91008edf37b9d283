// Package notify turns match results into human-readable KakaoTalk message
// payloads and queues them for delivery.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/db"
	"github.com/kbiz-labs/bizalim/internal/match"
)

// programURLFormat is the canonical announcement URL used when a program
// carries no application URL of its own.
const programURLFormat = "https://www.bizinfo.go.kr/web/lay1/bbs/S1T122C128/AS/74/view.do?pblancId=%s"

// Options tunes message generation.
type Options struct {
	MaxMessagesPerUser   int
	MaxDescriptionLength int
	HighlightMatches     bool
}

// DefaultOptions returns the standard generation options.
func DefaultOptions() Options {
	return Options{
		MaxMessagesPerUser:   5,
		MaxDescriptionLength: 100,
		HighlightMatches:     true,
	}
}

// Message is one generated notification payload. MessageType is
// provisional: generation is type-agnostic and the queueing step decides
// the final type.
type Message struct {
	UserID      string `json:"user_id"`
	ProgramID   string `json:"program_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ProgramURL  string `json:"program_url"`
	MessageType string `json:"message_type"`
}

// Outcome reports the counts of a generate-and-queue run.
type Outcome struct {
	Generated int `json:"generated"`
	Queued    int `json:"queued"`
	Failed    int `json:"failed"`
}

// QueueStore is the queue insert dependency.
type QueueStore interface {
	InsertMessage(ctx context.Context, msg *db.QueuedMessage) error
}

// Generator builds and queues notification messages.
type Generator struct {
	queue  QueueStore
	logger *zap.Logger
}

// NewGenerator creates a generator backed by the given queue store.
func NewGenerator(queue QueueStore, logger *zap.Logger) *Generator {
	return &Generator{
		queue:  queue,
		logger: logger,
	}
}

// Generate converts match results into messages: per user, the highest
// scoring matches win up to MaxMessagesPerUser. Already-sent entries are
// dropped. Empty input returns an empty slice.
func (g *Generator) Generate(matches []match.Result, opts Options) []Message {
	if len(matches) == 0 {
		return []Message{}
	}
	if opts.MaxMessagesPerUser <= 0 {
		opts.MaxMessagesPerUser = 5
	}

	byUser := make(map[string][]match.Result)
	var order []string
	for _, m := range matches {
		if m.AlreadySent || m.UserID == "" || m.ProgramID == "" {
			continue
		}
		if _, ok := byUser[m.UserID]; !ok {
			order = append(order, m.UserID)
		}
		byUser[m.UserID] = append(byUser[m.UserID], m)
	}

	var messages []Message
	for _, userID := range order {
		userMatches := byUser[userID]
		sort.SliceStable(userMatches, func(i, j int) bool {
			return userMatches[i].MatchScore > userMatches[j].MatchScore
		})
		if len(userMatches) > opts.MaxMessagesPerUser {
			userMatches = userMatches[:opts.MaxMessagesPerUser]
		}

		for _, m := range userMatches {
			messages = append(messages, Message{
				UserID:      m.UserID,
				ProgramID:   m.ProgramID,
				Title:       m.Program.Title,
				Description: buildDescription(&m, opts),
				ProgramURL:  programURL(&m),
				MessageType: db.MessageTypeNewProgram,
			})
		}
	}

	if messages == nil {
		return []Message{}
	}
	return messages
}

// Queue persists one queue row per message, forcing messageType on every
// row. Per-item failures are counted; one failure never aborts the batch.
func (g *Generator) Queue(ctx context.Context, messages []Message, messageType string) (queued, failed int) {
	for _, msg := range messages {
		row := &db.QueuedMessage{
			UserID:      msg.UserID,
			ProgramID:   msg.ProgramID,
			Content:     msg.Title + "\n\n" + msg.Description,
			ProgramURL:  msg.ProgramURL,
			MessageType: messageType,
		}

		if err := g.queue.InsertMessage(ctx, row); err != nil {
			g.logger.Warn("failed to queue notification",
				zap.Error(err),
				zap.String("user_id", msg.UserID),
				zap.String("program_id", msg.ProgramID),
			)
			failed++
			continue
		}
		queued++
	}

	return queued, failed
}

// ProcessMatches chains Generate and Queue. Empty input short-circuits to
// an all-zero outcome without touching storage.
func (g *Generator) ProcessMatches(ctx context.Context, matches []match.Result, messageType string) Outcome {
	if len(matches) == 0 {
		return Outcome{}
	}

	messages := g.Generate(matches, DefaultOptions())
	if len(messages) == 0 {
		return Outcome{}
	}

	queued, failed := g.Queue(ctx, messages, messageType)

	return Outcome{
		Generated: len(messages),
		Queued:    queued,
		Failed:    failed,
	}
}

// ProcessGrouped flattens per-user match groups and processes them.
func (g *Generator) ProcessGrouped(ctx context.Context, grouped map[string][]match.Result, messageType string) Outcome {
	if len(grouped) == 0 {
		return Outcome{}
	}

	users := make([]string, 0, len(grouped))
	for userID := range grouped {
		users = append(users, userID)
	}
	sort.Strings(users)

	var flat []match.Result
	for _, userID := range users {
		flat = append(flat, grouped[userID]...)
	}

	return g.ProcessMatches(ctx, flat, messageType)
}

func buildDescription(m *match.Result, opts Options) string {
	var blocks []string

	if desc := m.Program.Description; desc != "" {
		if opts.MaxDescriptionLength > 0 {
			runes := []rune(desc)
			if len(runes) > opts.MaxDescriptionLength {
				desc = string(runes[:opts.MaxDescriptionLength]) + "..."
			}
		}
		blocks = append(blocks, desc)
	}

	var details []string
	if len(m.Program.GeographicRegions) > 0 {
		details = append(details, "지역: "+strings.Join(m.Program.GeographicRegions, ", "))
	}
	if m.Program.SupportArea != "" {
		details = append(details, "분야: "+m.Program.SupportArea)
	}
	if m.Program.ApplicationDeadline != "" {
		details = append(details, "마감일: "+m.Program.ApplicationDeadline)
	}
	if m.Program.Amount != "" {
		details = append(details, "지원금: "+m.Program.Amount)
	}
	if len(details) > 0 {
		blocks = append(blocks, strings.Join(details, "\n"))
	}

	if opts.HighlightMatches {
		var matched []string
		if len(m.MatchedRegions) > 0 {
			matched = append(matched, "매칭 지역: "+strings.Join(m.MatchedRegions, ", "))
		}
		if len(m.MatchedCategories) > 0 {
			matched = append(matched, "매칭 분야: "+strings.Join(m.MatchedCategories, ", "))
		}
		matched = append(matched, fmt.Sprintf("매칭 점수: %d점", m.MatchScore))
		blocks = append(blocks, strings.Join(matched, "\n"))
	}

	return strings.Join(blocks, "\n\n")
}

func programURL(m *match.Result) string {
	if m.Program.ApplicationURL != "" {
		return m.Program.ApplicationURL
	}
	return fmt.Sprintf(programURLFormat, m.ProgramID)
}
