// Package events publishes execution outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/roach88/icm/internal/commission"
)

// ExecutionCompletedType is the event type of a persisted production run.
const ExecutionCompletedType = "commission.execution.completed"

// ExecutionCompleted is the event payload.
type ExecutionCompleted struct {
	Type            string            `json:"type"`
	ExecutionID     string            `json:"executionId"`
	PlanID          string            `json:"planId"`
	Mode            commission.Mode   `json:"mode"`
	Status          commission.Status `json:"status"`
	Currency        string            `json:"currency"`
	TotalCommission decimal.Decimal   `json:"totalCommission"`
	Participants    int               `json:"participants"`
	Period          commission.Period `json:"period"`
	Digest          string            `json:"digest,omitempty"`
	OccurredAt      time.Time         `json:"occurredAt"`
}

// NewExecutionCompleted builds the event for res.
func NewExecutionCompleted(res commission.Result) ExecutionCompleted {
	return ExecutionCompleted{
		Type:            ExecutionCompletedType,
		ExecutionID:     res.ExecutionID,
		PlanID:          res.PlanID,
		Mode:            res.Mode,
		Status:          res.Status,
		Currency:        res.Currency,
		TotalCommission: res.TotalCommission,
		Participants:    len(res.ParticipantResults),
		Period:          res.Period,
		Digest:          res.Digest,
		OccurredAt:      res.Timestamp,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes execution events keyed by plan id, so all events of
// one plan land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

// PublishExecutionCompleted sends the completion event for res.
func (p *KafkaPublisher) PublishExecutionCompleted(ctx context.Context, res commission.Result) error {
	payload, err := json.Marshal(NewExecutionCompleted(res))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ExecutionCompletedType, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(res.PlanID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ExecutionCompletedType)},
			{Key: "execution-id", Value: []byte(res.ExecutionID)},
		},
		Time: res.Timestamp.UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ExecutionCompletedType, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
