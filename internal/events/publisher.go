// Package events publishes pipeline lifecycle events to an SQS queue for
// downstream consumers (analytics, auditing). Publishing is best-effort:
// the pipeline never fails because an event could not be enqueued.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Event type constants
const (
	TypeTaskCompleted    = "task.completed"
	TypeTaskFailed       = "task.failed"
	TypeMessageDelivered = "message.delivered"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Event is the payload sent to SQS.
type Event struct {
	Type       string          `json:"type"`
	TaskID     string          `json:"task_id,omitempty"`
	TaskType   string          `json:"task_type,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	ProgramID  string          `json:"program_id,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	OccurredAt int64           `json:"occurred_at"`
}

// Publisher sends pipeline events to SQS.
type Publisher struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewPublisher creates a new SQS event publisher.
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs event publisher initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Publisher{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Publish enqueues one event. Failures are logged and returned but callers
// are expected to ignore them.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt == 0 {
		event.OccurredAt = time.Now().Unix()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		p.logger.Warn("failed to publish pipeline event",
			zap.Error(err),
			zap.String("type", event.Type),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	return nil
}

// PublishTaskOutcome publishes a task lifecycle event with its result
// payload as detail.
func (p *Publisher) PublishTaskOutcome(ctx context.Context, eventType, taskID, taskType string, detail json.RawMessage) {
	_ = p.Publish(ctx, Event{
		Type:     eventType,
		TaskID:   taskID,
		TaskType: taskType,
		Detail:   detail,
	})
}
