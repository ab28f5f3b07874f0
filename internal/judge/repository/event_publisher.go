package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"klausjudge/internal/common/mq"
	"klausjudge/internal/judge/model"
	appErr "klausjudge/pkg/errors"
)

// EventPublisher announces persisted verdicts to downstream consumers.
type EventPublisher interface {
	PublishVerdict(ctx context.Context, event model.VerdictEvent) error
}

// MQEventPublisher publishes verdict events through an mq.Producer.
type MQEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQEventPublisher creates a publisher bound to one topic or subject.
func NewMQEventPublisher(producer mq.Producer, topic string) *MQEventPublisher {
	return &MQEventPublisher{producer: producer, topic: topic}
}

func (p *MQEventPublisher) PublishVerdict(ctx context.Context, event model.VerdictEvent) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("event topic is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal verdict event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = event.SubmissionID.String()
	message.SetHeader("verdict", event.Verdict.String())
	message.SetHeader("content-type", "application/json")
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish verdict event failed")
	}
	return nil
}
