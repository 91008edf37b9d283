package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kbiz-labs/bizalim/internal/db"
	"github.com/kbiz-labs/bizalim/internal/worker"
)

// ProtectedSender wraps a delivery Sender with a CircuitBreaker. When the
// Kakao API starts failing, the circuit opens and sends fail fast instead
// of piling up against a dead service; the drain's retry bookkeeping
// requeues the affected rows.
type ProtectedSender struct {
	sender  worker.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender worker.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts a delivery through the circuit breaker. If the circuit is
// open, returns ErrCircuitOpen immediately.
func (p *ProtectedSender) Send(ctx context.Context, msg *db.QueuedMessage) (*worker.SendResult, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery, failing fast",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("message_id", msg.ID.String()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	result, err := p.sender.Send(ctx, msg)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, err
	}

	p.breaker.RecordSuccess()
	return result, nil
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
