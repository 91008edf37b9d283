package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/catalog"
	"github.com/kbiz-labs/bizalim/internal/db"
	"github.com/kbiz-labs/bizalim/internal/match"
)

var errInsert = errors.New("insert failed")

// fakeQueue is an in-memory QueueStore. failAfter > 0 fails every insert
// from that call number on.
type fakeQueue struct {
	inserted  []*db.QueuedMessage
	calls     int
	failAfter int
}

func (f *fakeQueue) InsertMessage(ctx context.Context, msg *db.QueuedMessage) error {
	f.calls++
	if f.failAfter > 0 && f.calls >= f.failAfter {
		return errInsert
	}
	f.inserted = append(f.inserted, msg)
	return nil
}

func matchResult(userID, programID string, score int) match.Result {
	return match.Result{
		UserID:     userID,
		ProgramID:  programID,
		MatchScore: score,
		Program: catalog.Program{
			ID:                  programID,
			Title:               "지원사업 " + programID,
			Description:         "중소기업 대상 지원사업 안내",
			GeographicRegions:   []string{"서울"},
			SupportArea:         "기술개발",
			ApplicationDeadline: "2026-12-31",
			Amount:              "최대 1억원",
		},
		MatchedRegions:    []string{"서울"},
		MatchedCategories: []string{"기술개발"},
	}
}

func TestGenerateDescriptionContents(t *testing.T) {
	g := NewGenerator(&fakeQueue{}, zap.NewNop())

	messages := g.Generate([]match.Result{matchResult("U1", "P1", 100)}, DefaultOptions())
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	desc := messages[0].Description
	for _, want := range []string{
		"중소기업 대상 지원사업 안내",
		"지역: 서울",
		"분야: 기술개발",
		"마감일: 2026-12-31",
		"지원금: 최대 1억원",
		"매칭 지역: 서울",
		"매칭 분야: 기술개발",
		"매칭 점수: 100점",
	} {
		if !strings.Contains(desc, want) {
			t.Errorf("description missing %q:\n%s", want, desc)
		}
	}
}

func TestGenerateTruncatesLongDescription(t *testing.T) {
	g := NewGenerator(&fakeQueue{}, zap.NewNop())

	m := matchResult("U1", "P1", 100)
	m.Program.Description = strings.Repeat("가", 150)

	messages := g.Generate([]match.Result{m}, DefaultOptions())
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	first := strings.SplitN(messages[0].Description, "\n\n", 2)[0]
	if want := strings.Repeat("가", 100) + "..."; first != want {
		t.Errorf("expected truncation at 100 runes with ellipsis, got %d runes", len([]rune(first)))
	}
}

func TestGenerateCapsMessagesPerUser(t *testing.T) {
	g := NewGenerator(&fakeQueue{}, zap.NewNop())

	var matches []match.Result
	scores := []int{60, 90, 70, 100, 50, 80, 65}
	for i, score := range scores {
		matches = append(matches, matchResult("U1", "P"+string(rune('0'+i)), score))
	}

	messages := g.Generate(matches, DefaultOptions())
	if len(messages) != 5 {
		t.Fatalf("expected cap of 5 messages, got %d", len(messages))
	}

	// The five highest scores survive, in descending order.
	wantPrograms := []string{"P3", "P1", "P5", "P2", "P6"}
	for i, want := range wantPrograms {
		if messages[i].ProgramID != want {
			t.Errorf("message %d: expected %s, got %s", i, want, messages[i].ProgramID)
		}
	}
}

func TestGenerateDropsAlreadySent(t *testing.T) {
	g := NewGenerator(&fakeQueue{}, zap.NewNop())

	sent := matchResult("U1", "P1", 0)
	sent.AlreadySent = true

	messages := g.Generate([]match.Result{sent, matchResult("U1", "P2", 80)}, DefaultOptions())
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].ProgramID != "P2" {
		t.Errorf("expected P2, got %s", messages[0].ProgramID)
	}
}

func TestGenerateProgramURLFallback(t *testing.T) {
	g := NewGenerator(&fakeQueue{}, zap.NewNop())

	withURL := matchResult("U1", "P1", 100)
	withURL.Program.ApplicationURL = "https://example.com/apply"
	withoutURL := matchResult("U1", "P2", 90)

	messages := g.Generate([]match.Result{withURL, withoutURL}, DefaultOptions())
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].ProgramURL != "https://example.com/apply" {
		t.Errorf("expected explicit URL kept, got %s", messages[0].ProgramURL)
	}
	if !strings.Contains(messages[1].ProgramURL, "pblancId=P2") {
		t.Errorf("expected canonical announcement URL fallback, got %s", messages[1].ProgramURL)
	}
}

func TestQueueForcesMessageType(t *testing.T) {
	queue := &fakeQueue{}
	g := NewGenerator(queue, zap.NewNop())

	messages := g.Generate([]match.Result{matchResult("U1", "P1", 100)}, DefaultOptions())
	queued, failed := g.Queue(context.Background(), messages, db.MessageTypeDeadline)

	if queued != 1 || failed != 0 {
		t.Fatalf("expected queued=1 failed=0, got %d %d", queued, failed)
	}
	row := queue.inserted[0]
	if row.MessageType != db.MessageTypeDeadline {
		t.Errorf("expected forced message type %s, got %s", db.MessageTypeDeadline, row.MessageType)
	}
	if !strings.HasPrefix(row.Content, "지원사업 P1\n\n") {
		t.Errorf("expected content to open with the title, got %q", row.Content)
	}
}

func TestQueuePartialFailure(t *testing.T) {
	queue := &fakeQueue{failAfter: 2}
	g := NewGenerator(queue, zap.NewNop())

	matches := []match.Result{
		matchResult("U1", "P1", 100),
		matchResult("U2", "P2", 90),
	}

	outcome := g.ProcessMatches(context.Background(), matches, db.MessageTypeNewProgram)
	if outcome.Generated != 2 {
		t.Errorf("expected 2 generated, got %d", outcome.Generated)
	}
	if outcome.Queued != 1 || outcome.Failed != 1 {
		t.Errorf("expected queued=1 failed=1, got %d %d", outcome.Queued, outcome.Failed)
	}
}

func TestProcessMatchesEmptyInputTouchesNothing(t *testing.T) {
	queue := &fakeQueue{}
	g := NewGenerator(queue, zap.NewNop())

	outcome := g.ProcessMatches(context.Background(), nil, db.MessageTypeNewProgram)
	if outcome != (Outcome{}) {
		t.Errorf("expected zero outcome, got %+v", outcome)
	}
	if queue.calls != 0 {
		t.Errorf("empty input must not touch storage, saw %d inserts", queue.calls)
	}
}

func TestProcessGrouped(t *testing.T) {
	queue := &fakeQueue{}
	g := NewGenerator(queue, zap.NewNop())

	grouped := map[string][]match.Result{
		"U2": {matchResult("U2", "P2", 90)},
		"U1": {matchResult("U1", "P1", 100)},
	}

	outcome := g.ProcessGrouped(context.Background(), grouped, db.MessageTypeNewProgram)
	if outcome.Generated != 2 || outcome.Queued != 2 {
		t.Fatalf("expected 2 generated and queued, got %+v", outcome)
	}

	// Users flatten in sorted order so runs are deterministic.
	if queue.inserted[0].UserID != "U1" || queue.inserted[1].UserID != "U2" {
		t.Errorf("expected sorted user order, got %s then %s",
			queue.inserted[0].UserID, queue.inserted[1].UserID)
	}
}
