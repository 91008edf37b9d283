// Package match scores government support programs against user
// notification preferences.
package match

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/catalog"
	"github.com/kbiz-labs/bizalim/internal/db"
)

// Params tunes one matching run.
type Params struct {
	MinScore       int
	RegionWeight   int
	CategoryWeight int
	CheckSent      bool
	Frequency      string // ledger frequency consulted for the sent check
}

// DefaultParams returns the standard matching parameters.
func DefaultParams() Params {
	return Params{
		MinScore:       50,
		RegionWeight:   50,
		CategoryWeight: 50,
		CheckSent:      true,
		Frequency:      db.FrequencyNew,
	}
}

// Result is one scored (user, program) pair.
//
// AlreadySent entries carry a zero score and empty matched lists; they let
// the caller distinguish "not a match" from "already notified" and must be
// filtered out before generating messages.
type Result struct {
	UserID            string          `json:"user_id"`
	ProgramID         string          `json:"program_id"`
	Program           catalog.Program `json:"program"`
	MatchScore        int             `json:"match_score"`
	MatchedRegions    []string        `json:"matched_regions"`
	MatchedCategories []string        `json:"matched_categories"`
	AlreadySent       bool            `json:"is_already_sent"`
}

// SettingsSource provides read access to user notification preferences.
type SettingsSource interface {
	GetSettings(ctx context.Context, userID string) (*db.NotificationSettings, error)
	ListEligibleUsers(ctx context.Context, frequency string) ([]*db.NotificationSettings, error)
}

// LedgerSource provides the already-sent lookup.
type LedgerSource interface {
	ListSentIDs(ctx context.Context, userID, frequency string) (map[string]bool, error)
}

// Engine scores programs against stored preferences.
type Engine struct {
	settings SettingsSource
	ledger   LedgerSource
	logger   *zap.Logger
}

// NewEngine creates a matching engine.
func NewEngine(settings SettingsSource, ledger LedgerSource, logger *zap.Logger) *Engine {
	return &Engine{
		settings: settings,
		ledger:   ledger,
		logger:   logger,
	}
}

// MatchUser scores the candidate programs for one user and returns the
// results sorted by score, descending. settings may be pre-loaded; when nil
// they are read from the settings source.
//
// Storage read failures degrade to an empty result rather than an error:
// one user's broken state must not abort a whole batch.
func (e *Engine) MatchUser(ctx context.Context, userID string, programs []catalog.Program, settings *db.NotificationSettings, params Params) []Result {
	if len(programs) == 0 {
		return []Result{}
	}

	if settings == nil {
		loaded, err := e.settings.GetSettings(ctx, userID)
		if err != nil {
			e.logger.Error("failed to load settings, skipping user",
				zap.Error(err),
				zap.String("user_id", userID),
			)
			return []Result{}
		}
		settings = loaded
	}
	if settings == nil {
		return []Result{}
	}

	// A user with no preferences at all gets no matches. The per-axis
	// wildcard (empty list scores 100) only applies when the other axis
	// still constrains the result.
	if len(settings.Regions) == 0 && len(settings.Categories) == 0 {
		return []Result{}
	}

	sent := map[string]bool{}
	if params.CheckSent {
		frequency := params.Frequency
		if frequency == "" {
			frequency = db.FrequencyNew
		}
		loaded, err := e.ledger.ListSentIDs(ctx, userID, frequency)
		if err != nil {
			e.logger.Error("failed to load sent ledger, skipping user",
				zap.Error(err),
				zap.String("user_id", userID),
			)
			return []Result{}
		}
		sent = loaded
	}

	results := make([]Result, 0, len(programs))
	for _, program := range programs {
		if sent[program.ID] {
			results = append(results, Result{
				UserID:            userID,
				ProgramID:         program.ID,
				Program:           program,
				MatchScore:        0,
				MatchedRegions:    []string{},
				MatchedCategories: []string{},
				AlreadySent:       true,
			})
			continue
		}

		regionScore, matchedRegions := scoreRegions(settings.Regions, &program)
		categoryScore, matchedCategories := scoreCategories(settings.Categories, program.SupportArea)

		score := weightedScore(regionScore, categoryScore, params.RegionWeight, params.CategoryWeight)
		if score < params.MinScore {
			continue
		}

		results = append(results, Result{
			UserID:            userID,
			ProgramID:         program.ID,
			Program:           program,
			MatchScore:        score,
			MatchedRegions:    matchedRegions,
			MatchedCategories: matchedCategories,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MatchScore > results[j].MatchScore
	})

	return results
}

// MatchAll runs the single-user match for every user eligible for the given
// frequency (kakao linked and the relevant alert flag set). Only users with
// at least one fresh (non-already-sent) match appear in the result.
func (e *Engine) MatchAll(ctx context.Context, programs []catalog.Program, frequency string, params Params) map[string][]Result {
	grouped := make(map[string][]Result)
	if len(programs) == 0 {
		return grouped
	}

	users, err := e.settings.ListEligibleUsers(ctx, frequency)
	if err != nil {
		e.logger.Error("failed to list eligible users",
			zap.Error(err),
			zap.String("frequency", frequency),
		)
		return grouped
	}

	params.Frequency = frequency

	for _, settings := range users {
		results := e.MatchUser(ctx, settings.UserID, programs, settings, params)

		fresh := 0
		for _, r := range results {
			if !r.AlreadySent {
				fresh++
			}
		}
		if fresh > 0 {
			grouped[settings.UserID] = results
		}
	}

	e.logger.Info("batch match complete",
		zap.String("frequency", frequency),
		zap.Int("programs", len(programs)),
		zap.Int("eligible_users", len(users)),
		zap.Int("matched_users", len(grouped)),
	)

	return grouped
}

// scoreRegions computes the region axis. A nationwide program scores 100
// with the 전국 sentinel as sole matched region; an empty preference list
// scores 100 with nothing matched.
func scoreRegions(userRegions []string, program *catalog.Program) (int, []string) {
	if program.IsNationwide() {
		return 100, []string{catalog.Nationwide}
	}
	if len(userRegions) == 0 {
		return 100, []string{}
	}

	combined := program.CombinedRegions()
	matched := make([]string, 0, len(userRegions))
	for _, ur := range userRegions {
		for _, pr := range combined {
			if strings.Contains(pr, ur) {
				matched = append(matched, ur)
				break
			}
		}
	}

	score := int(math.Round(float64(len(matched)) / float64(len(userRegions)) * 100))
	return score, matched
}

// scoreCategories mirrors scoreRegions with the program's single support
// area as the category list. Containment runs both ways so "기술개발"
// preferences still hit the normalized "기술" label.
func scoreCategories(userCategories []string, supportArea string) (int, []string) {
	if len(userCategories) == 0 {
		return 100, []string{}
	}
	if supportArea == "" {
		return 0, []string{}
	}

	matched := make([]string, 0, len(userCategories))
	for _, uc := range userCategories {
		if strings.Contains(supportArea, uc) || strings.Contains(uc, supportArea) {
			matched = append(matched, uc)
		}
	}

	score := int(math.Round(float64(len(matched)) / float64(len(userCategories)) * 100))
	return score, matched
}

func weightedScore(regionScore, categoryScore, regionWeight, categoryWeight int) int {
	total := regionWeight + categoryWeight
	if total == 0 {
		return 0
	}
	weighted := float64(regionScore*regionWeight+categoryScore*categoryWeight) / float64(total)
	return int(math.Round(weighted))
}
