package worker

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/db"
	"github.com/kbiz-labs/bizalim/internal/metrics"
	"github.com/kbiz-labs/bizalim/internal/redis"
)

// QueueRepo is the message-queue dependency of the drain step.
type QueueRepo interface {
	PendingMessages(ctx context.Context, limit int) ([]*db.QueuedMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxRetries int) (requeued bool, err error)
}

// Ledger records confirmed deliveries.
type Ledger interface {
	RecordSent(ctx context.Context, userID, opportunityID, frequency string) error
}

// Guard is the optional short-lived duplicate-delivery guard.
type Guard interface {
	Reserve(ctx context.Context, userID, programID, messageType string) error
	Confirm(ctx context.Context, userID, programID, messageType string) error
	Release(ctx context.Context, userID, programID, messageType string) error
}

// Stats reports one drain run. The three counters are disjoint: a failed
// attempt whose row went back to pending counts as Requeued, not Failed.
type Stats struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Requeued int `json:"requeued"`
}

// Config holds drain settings.
type Config struct {
	BatchSize  int
	MaxRetries int
}

// Drainer drains the message queue through a Sender: pending rows are read
// oldest first, delivered one by one, and their status updated with retry
// bookkeeping. Delivery failures never propagate as errors; success is
// measured by counts.
type Drainer struct {
	queue  QueueRepo
	ledger Ledger
	sender Sender
	guard  Guard // nil when redis is unavailable
	config Config
	logger *zap.Logger
}

// NewDrainer creates a queue drainer.
func NewDrainer(queue QueueRepo, ledger Ledger, sender Sender, guard Guard, cfg Config, logger *zap.Logger) *Drainer {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &Drainer{
		queue:  queue,
		ledger: ledger,
		sender: sender,
		guard:  guard,
		config: cfg,
		logger: logger,
	}
}

// ProcessQueue reads up to limit pending rows (FIFO) and attempts delivery
// for each. limit <= 0 uses the configured batch size.
func (d *Drainer) ProcessQueue(ctx context.Context, limit int) Stats {
	if limit <= 0 {
		limit = d.config.BatchSize
	}

	var stats Stats

	messages, err := d.queue.PendingMessages(ctx, limit)
	if err != nil {
		d.logger.Error("failed to read pending messages", zap.Error(err))
		return stats
	}
	if len(messages) == 0 {
		return stats
	}

	for _, msg := range messages {
		d.processMessage(ctx, msg, &stats)
	}

	d.logger.Info("queue drain complete",
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("requeued", stats.Requeued),
	)

	return stats
}

func (d *Drainer) processMessage(ctx context.Context, msg *db.QueuedMessage, stats *Stats) {
	if d.guard != nil {
		err := d.guard.Reserve(ctx, msg.UserID, msg.ProgramID, msg.MessageType)
		if errors.Is(err, redis.ErrDuplicateSend) {
			// Another drain holds this row; leave it alone.
			d.logger.Debug("skipping message held by another drain",
				zap.String("message_id", msg.ID.String()),
			)
			return
		}
		if err != nil {
			d.logger.Warn("send guard unavailable, proceeding", zap.Error(err))
		}
	}

	result, err := d.sender.Send(ctx, msg)
	if err != nil {
		d.recordFailure(ctx, msg, err, stats)
		return
	}

	if err := d.queue.MarkSent(ctx, msg.ID); err != nil {
		d.logger.Error("failed to mark message sent",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
	}

	frequency := frequencyFor(msg.MessageType)
	if err := d.ledger.RecordSent(ctx, msg.UserID, msg.ProgramID, frequency); err != nil {
		d.logger.Error("failed to record sent notification",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
	}

	if d.guard != nil {
		if err := d.guard.Confirm(ctx, msg.UserID, msg.ProgramID, msg.MessageType); err != nil {
			d.logger.Warn("failed to confirm send guard", zap.Error(err))
		}
	}

	stats.Sent++
	metrics.RecordMessageProcessed("sent", msg.MessageType)

	if result.Simulated {
		d.logger.Info("message delivery was simulated",
			zap.String("message_id", msg.ID.String()),
		)
	}
}

func (d *Drainer) recordFailure(ctx context.Context, msg *db.QueuedMessage, sendErr error, stats *Stats) {
	d.logger.Error("failed to send message",
		zap.Error(sendErr),
		zap.String("message_id", msg.ID.String()),
		zap.String("user_id", msg.UserID),
		zap.Int("attempt", msg.RetryCount+1),
	)

	requeued, err := d.queue.MarkFailed(ctx, msg.ID, sendErr.Error(), d.config.MaxRetries)
	if err != nil {
		d.logger.Error("failed to mark message failed",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
		stats.Failed++
		metrics.RecordMessageProcessed("failed", msg.MessageType)
		return
	}

	if d.guard != nil {
		if err := d.guard.Release(ctx, msg.UserID, msg.ProgramID, msg.MessageType); err != nil {
			d.logger.Warn("failed to release send guard", zap.Error(err))
		}
	}

	if requeued {
		stats.Requeued++
		metrics.RecordMessageProcessed("requeued", msg.MessageType)
	} else {
		stats.Failed++
		metrics.RecordMessageProcessed("failed", msg.MessageType)
	}
}

func frequencyFor(messageType string) string {
	if messageType == db.MessageTypeDeadline {
		return db.FrequencyDeadline
	}
	return db.FrequencyNew
}
