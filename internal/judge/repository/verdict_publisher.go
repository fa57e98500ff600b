package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nexoj/internal/common/mq"
	"nexoj/internal/judge/model"
	"nexoj/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TopicVerdictFinalized carries one event per finalized judge record.
// The contest side consumes it to fold the verdict into the ranklist.
const TopicVerdictFinalized = "judge.verdict.finalized"

// VerdictEvent is published exactly once per finalized record.
type VerdictEvent struct {
	EventID   string            `json:"event_id"`
	Record    model.JudgeRecord `json:"record"`
	CreatedAt time.Time         `json:"created_at"`
}

// VerdictPublisher announces finalized verdicts to downstream consumers.
type VerdictPublisher interface {
	PublishFinalized(ctx context.Context, record *model.JudgeRecord) error
}

type mqVerdictPublisher struct {
	queue mq.MessageQueue
}

// NewVerdictPublisher creates a publisher backed by the message queue.
func NewVerdictPublisher(queue mq.MessageQueue) VerdictPublisher {
	return &mqVerdictPublisher{queue: queue}
}

func (p *mqVerdictPublisher) PublishFinalized(ctx context.Context, record *model.JudgeRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	event := VerdictEvent{
		EventID:   uuid.New().String(),
		Record:    *record,
		CreatedAt: time.Now(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal verdict event failed: %w", err)
	}

	msg := mq.NewMessage(body)
	msg.ID = event.EventID
	msg.SetHeader("event_type", "verdict_finalized")
	msg.SetHeader("task_id", record.TaskID)

	if err := p.queue.Publish(ctx, TopicVerdictFinalized, msg); err != nil {
		return fmt.Errorf("publish verdict event failed: %w", err)
	}
	logger.Info(ctx, "verdict event published",
		zap.String("task_id", record.TaskID),
		zap.String("event_id", event.EventID),
		zap.String("status", record.Status))
	return nil
}

// NoopVerdictPublisher drops events. Used when no broker is configured.
type NoopVerdictPublisher struct{}

func (NoopVerdictPublisher) PublishFinalized(ctx context.Context, record *model.JudgeRecord) error {
	logger.Debug(ctx, "verdict event dropped, no publisher configured",
		zap.String("task_id", record.TaskID))
	return nil
}
