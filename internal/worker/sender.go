package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/db"
)

// ErrNotLinked indicates the recipient has no linked Kakao account; the
// external API is never contacted for such users.
var ErrNotLinked = errors.New("user has no linked kakao account")

// SendResult reports the outcome of a single delivery attempt.
// Simulated is true for stub successes produced without external
// credentials configured; callers must not treat simulated responses as
// real deliveries in production readiness checks.
type SendResult struct {
	Simulated bool
}

// Sender delivers one queued message to one recipient.
type Sender interface {
	Send(ctx context.Context, msg *db.QueuedMessage) (*SendResult, error)
}

// LogSender is a sender that only logs messages (development mode).
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg *db.QueuedMessage) (*SendResult, error) {
	s.logger.Info("logging notification (development mode)",
		zap.String("message_id", msg.ID.String()),
		zap.String("user_id", msg.UserID),
		zap.String("program_id", msg.ProgramID),
		zap.String("message_type", msg.MessageType),
	)
	return &SendResult{Simulated: true}, nil
}
