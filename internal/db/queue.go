package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// MessageQueue handles database operations for the outbound message queue
type MessageQueue struct {
	db     *DB
	logger *zap.Logger
}

// NewMessageQueue creates a new message queue repository
func NewMessageQueue(db *DB, logger *zap.Logger) *MessageQueue {
	return &MessageQueue{
		db:     db,
		logger: logger,
	}
}

// InsertMessage inserts a new pending queue row
func (q *MessageQueue) InsertMessage(ctx context.Context, msg *QueuedMessage) error {
	query := `
		INSERT INTO message_queue (
			id, user_id, program_id, content, program_url, message_type,
			status, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Status == "" {
		msg.Status = MessageStatusPending
	}

	err := q.db.Pool().QueryRow(
		ctx,
		query,
		msg.ID,
		msg.UserID,
		msg.ProgramID,
		msg.Content,
		msg.ProgramURL,
		msg.MessageType,
		msg.Status,
		msg.RetryCount,
	).Scan(&msg.CreatedAt)

	if err != nil {
		q.logger.Error("failed to insert queue message",
			zap.Error(err),
			zap.String("user_id", msg.UserID),
			zap.String("program_id", msg.ProgramID),
		)
		return fmt.Errorf("insert queue message: %w", err)
	}

	return nil
}

// PendingMessages retrieves up to limit pending rows, oldest first
func (q *MessageQueue) PendingMessages(ctx context.Context, limit int) ([]*QueuedMessage, error) {
	query := `
		SELECT
			id, user_id, program_id, content, program_url, message_type,
			status, error_message, retry_count, created_at, sent_at
		FROM message_queue
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := q.db.Pool().Query(ctx, query, MessageStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending messages: %w", err)
	}
	defer rows.Close()

	var messages []*QueuedMessage
	for rows.Next() {
		var msg QueuedMessage
		err := rows.Scan(
			&msg.ID,
			&msg.UserID,
			&msg.ProgramID,
			&msg.Content,
			&msg.ProgramURL,
			&msg.MessageType,
			&msg.Status,
			&msg.ErrorMessage,
			&msg.RetryCount,
			&msg.CreatedAt,
			&msg.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return messages, nil
}

// MarkSent marks a message as delivered
func (q *MessageQueue) MarkSent(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE message_queue
		SET status = $2, sent_at = NOW(), error_message = NULL
		WHERE id = $1
	`

	tag, err := q.db.Pool().Exec(ctx, query, id, MessageStatusSent)
	if err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message not found: %s", id)
	}

	return nil
}

// MarkFailed records a delivery failure: the retry counter is incremented
// and the row is reset to pending while retry_count stays under maxRetries,
// otherwise it becomes terminally failed. Returns true when the row was
// requeued rather than failed.
func (q *MessageQueue) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxRetries int) (bool, error) {
	query := `
		UPDATE message_queue
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $2 THEN $3 ELSE $4 END,
		    error_message = $5
		WHERE id = $1
		RETURNING status
	`

	var status string
	err := q.db.Pool().QueryRow(ctx, query, id, maxRetries, MessageStatusFailed, MessageStatusPending, errMsg).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("message not found: %s", id)
	}
	if err != nil {
		return false, fmt.Errorf("mark message failed: %w", err)
	}

	requeued := status == MessageStatusPending
	q.logger.Warn("message delivery failed",
		zap.String("message_id", id.String()),
		zap.String("error", errMsg),
		zap.Bool("requeued", requeued),
	)

	return requeued, nil
}

// Stats returns row counts per status for operator inspection.
func (q *MessageQueue) Stats(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM message_queue GROUP BY status`

	rows, err := q.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return stats, nil
}
