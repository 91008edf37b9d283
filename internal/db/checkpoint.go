package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CheckpointLastCheck is the checkpoint row marking the last successful
// "new programs" scan.
const CheckpointLastCheck = "last_notification_check"

// CheckpointStore persists named scan checkpoints. Advancing is a
// compare-and-set so a stale reader can never clobber a newer checkpoint.
type CheckpointStore struct {
	db     *DB
	logger *zap.Logger
}

// NewCheckpointStore creates a new checkpoint store
func NewCheckpointStore(db *DB, logger *zap.Logger) *CheckpointStore {
	return &CheckpointStore{
		db:     db,
		logger: logger,
	}
}

// LastCheck returns the checkpoint timestamp, or the zero time when the
// checkpoint has never been written.
func (c *CheckpointStore) LastCheck(ctx context.Context, name string) (time.Time, error) {
	query := `SELECT checked_at FROM notification_checkpoints WHERE name = $1`

	var checkedAt time.Time
	err := c.db.Pool().QueryRow(ctx, query, name).Scan(&checkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query checkpoint: %w", err)
	}

	return checkedAt, nil
}

// Advance moves the checkpoint from prev to next. The update only wins when
// the stored value still equals prev (prev is the zero time for a checkpoint
// that does not exist yet). Returns false when another writer advanced it
// first.
func (c *CheckpointStore) Advance(ctx context.Context, name string, prev, next time.Time) (bool, error) {
	if prev.IsZero() {
		query := `
			INSERT INTO notification_checkpoints (name, checked_at)
			VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING
		`
		tag, err := c.db.Pool().Exec(ctx, query, name, next)
		if err != nil {
			return false, fmt.Errorf("insert checkpoint: %w", err)
		}
		return tag.RowsAffected() > 0, nil
	}

	query := `
		UPDATE notification_checkpoints
		SET checked_at = $3, updated_at = NOW()
		WHERE name = $1 AND checked_at = $2
	`

	tag, err := c.db.Pool().Exec(ctx, query, name, prev, next)
	if err != nil {
		return false, fmt.Errorf("advance checkpoint: %w", err)
	}

	advanced := tag.RowsAffected() > 0
	if !advanced {
		c.logger.Warn("checkpoint advance lost race",
			zap.String("name", name),
			zap.Time("prev", prev),
			zap.Time("next", next),
		)
	}

	return advanced, nil
}
