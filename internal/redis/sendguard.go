package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// guardTTL is how long a delivery reservation is held. Long enough to
	// cover a full drain cycle plus retries; the durable dedupe lives in
	// the sent_notifications ledger, this guard only covers the window in
	// which two drains could race on the same pending row.
	guardTTL = 10 * time.Minute

	reservedMarker  = "reserved"
	deliveredMarker = "delivered"
)

// ErrDuplicateSend indicates another drain already reserved or delivered
// this (user, program, type) triple.
var ErrDuplicateSend = errors.New("duplicate send: message already reserved")

// SendGuard is a short-lived duplicate-delivery guard on top of Redis.
// It complements the sent ledger: the ledger is written after a confirmed
// delivery, the guard is taken before the attempt.
type SendGuard struct {
	client *Client
	logger *zap.Logger
}

// NewSendGuard creates a new send guard.
func NewSendGuard(client *Client, logger *zap.Logger) *SendGuard {
	return &SendGuard{
		client: client,
		logger: logger,
	}
}

func (g *SendGuard) buildKey(userID, programID, messageType string) string {
	return fmt.Sprintf("sendguard:%s:%s:%s", userID, programID, messageType)
}

// Reserve atomically claims the triple before a delivery attempt using
// SET NX. Returns ErrDuplicateSend when the key already exists.
func (g *SendGuard) Reserve(ctx context.Context, userID, programID, messageType string) error {
	key := g.buildKey(userID, programID, messageType)

	set, err := g.client.rdb.SetNX(ctx, key, reservedMarker, guardTTL).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		g.logger.Debug("send guard rejected duplicate",
			zap.String("user_id", userID),
			zap.String("program_id", programID),
		)
		return ErrDuplicateSend
	}

	return nil
}

// Confirm marks the triple as delivered, keeping the key for the full TTL.
func (g *SendGuard) Confirm(ctx context.Context, userID, programID, messageType string) error {
	key := g.buildKey(userID, programID, messageType)

	if err := g.client.rdb.Set(ctx, key, deliveredMarker, guardTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Release drops a reservation after a failed attempt so the retry can
// reserve again. A delivered marker is never released.
func (g *SendGuard) Release(ctx context.Context, userID, programID, messageType string) error {
	key := g.buildKey(userID, programID, messageType)

	val, err := g.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if val == deliveredMarker {
		return nil
	}

	if err := g.client.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}

	return nil
}
