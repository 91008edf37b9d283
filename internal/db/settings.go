package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const settingsColumns = `
	user_id, kakao_linked, kakao_access_token, new_programs_alert,
	deadline_notification, deadline_days, regions, categories,
	created_at, updated_at`

const getSettingsQuery = `SELECT` + settingsColumns + `
	FROM notification_settings WHERE user_id = $1`

// SettingsStore reads per-user notification preferences. The pipeline never
// writes settings; they are owned by the user-facing settings surface.
type SettingsStore struct {
	db     *DB
	logger *zap.Logger
}

// NewSettingsStore creates a new settings store
func NewSettingsStore(db *DB, logger *zap.Logger) *SettingsStore {
	return &SettingsStore{
		db:     db,
		logger: logger,
	}
}

func scanSettings(row pgx.Row) (*NotificationSettings, error) {
	var s NotificationSettings
	err := row.Scan(
		&s.UserID,
		&s.KakaoLinked,
		&s.KakaoAccessToken,
		&s.NewProgramsAlert,
		&s.DeadlineNotification,
		&s.DeadlineDays,
		&s.Regions,
		&s.Categories,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSettings retrieves one user's settings. Returns (nil, nil) when the
// user has no settings row.
func (s *SettingsStore) GetSettings(ctx context.Context, userID string) (*NotificationSettings, error) {
	settings, err := scanSettings(s.db.Pool().QueryRow(ctx, getSettingsQuery, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}

	return settings, nil
}

// ListEligibleUsers returns every user with a linked Kakao account and the
// alert flag for the given frequency enabled.
func (s *SettingsStore) ListEligibleUsers(ctx context.Context, frequency string) ([]*NotificationSettings, error) {
	var flag string
	switch frequency {
	case FrequencyNew:
		flag = "new_programs_alert"
	case FrequencyDeadline:
		flag = "deadline_notification"
	default:
		return nil, fmt.Errorf("unknown frequency: %s", frequency)
	}

	query := `SELECT` + settingsColumns + `
		FROM notification_settings
		WHERE kakao_linked = TRUE AND ` + flag + ` = TRUE
		ORDER BY user_id`

	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query eligible users: %w", err)
	}
	defer rows.Close()

	var users []*NotificationSettings
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settings: %w", err)
		}
		users = append(users, settings)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	s.logger.Debug("eligible users loaded",
		zap.String("frequency", frequency),
		zap.Int("count", len(users)),
	)

	return users, nil
}

// KakaoToken returns the user's Kakao access token, or "" when the user has
// no linked account.
func (s *SettingsStore) KakaoToken(ctx context.Context, userID string) (string, error) {
	query := `
		SELECT kakao_access_token FROM notification_settings
		WHERE user_id = $1 AND kakao_linked = TRUE
	`

	var token *string
	err := s.db.Pool().QueryRow(ctx, query, userID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query kakao token: %w", err)
	}
	if token == nil {
		return "", nil
	}

	return *token, nil
}
