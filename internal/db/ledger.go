package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// SentLedger records which (user, program) pairs were already notified,
// per frequency. It is the idempotency backstop of the whole pipeline.
type SentLedger struct {
	db     *DB
	logger *zap.Logger
}

// NewSentLedger creates a new sent-notification ledger
func NewSentLedger(db *DB, logger *zap.Logger) *SentLedger {
	return &SentLedger{
		db:     db,
		logger: logger,
	}
}

// ListSentIDs returns the set of opportunity ids already notified to the
// user for the given frequency.
func (l *SentLedger) ListSentIDs(ctx context.Context, userID, frequency string) (map[string]bool, error) {
	query := `
		SELECT opportunity_id FROM sent_notifications
		WHERE user_id = $1 AND frequency = $2
	`

	rows, err := l.db.Pool().Query(ctx, query, userID, frequency)
	if err != nil {
		return nil, fmt.Errorf("query sent notifications: %w", err)
	}
	defer rows.Close()

	sent := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan opportunity id: %w", err)
		}
		sent[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return sent, nil
}

// HasBeenSent reports whether the pair was already notified for the frequency.
func (l *SentLedger) HasBeenSent(ctx context.Context, userID, opportunityID, frequency string) (bool, error) {
	query := `
		SELECT 1 FROM sent_notifications
		WHERE user_id = $1 AND opportunity_id = $2 AND frequency = $3
	`

	var one int
	err := l.db.Pool().QueryRow(ctx, query, userID, opportunityID, frequency).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query sent notification: %w", err)
	}

	return true, nil
}

// RecordSent inserts a ledger entry. Duplicate (user, program, frequency)
// inserts are silently ignored so the recording is idempotent.
func (l *SentLedger) RecordSent(ctx context.Context, userID, opportunityID, frequency string) error {
	query := `
		INSERT INTO sent_notifications (user_id, opportunity_id, frequency)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, opportunity_id, frequency) DO NOTHING
	`

	_, err := l.db.Pool().Exec(ctx, query, userID, opportunityID, frequency)
	if err != nil {
		l.logger.Error("failed to record sent notification",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("opportunity_id", opportunityID),
		)
		return fmt.Errorf("record sent notification: %w", err)
	}

	return nil
}
