package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys of published events
const (
	RoutingRetrievalCompleted = "metering.retrieval.completed"
	RoutingBoundaryUpdated    = "metering.point.boundary_updated"
)

// Publisher emits retrieval events on a topic exchange
type Publisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher opens a dedicated channel and declares the events exchange
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Publisher{channel: ch, exchange: exchange, logger: logger}, nil
}

// RetrievalCompletedEvent is published after every orchestration run that reached upstream
type RetrievalCompletedEvent struct {
	RequestID     string   `json:"request_id"`
	PointID       string   `json:"point_id"`
	Kind          string   `json:"kind"`
	Start         string   `json:"start"`
	End           string   `json:"end"`
	Readings      int      `json:"readings"`
	UpstreamCalls int      `json:"upstream_calls"`
	MissingDates  int      `json:"missing_dates"`
	Warning       string   `json:"warning,omitempty"`
	SkippedChunks []string `json:"skipped_chunks,omitempty"`
	Blacklisted   []string `json:"blacklisted,omitempty"`
}

// BoundaryUpdatedEvent is published when a point's oldest-data boundary moves
type BoundaryUpdatedEvent struct {
	PointID        string `json:"point_id"`
	OldestDataDate string `json:"oldest_data_date"`
}

// PublishRetrievalCompleted publishes a retrieval summary
func (p *Publisher) PublishRetrievalCompleted(ctx context.Context, event RetrievalCompletedEvent) error {
	return p.publish(ctx, RoutingRetrievalCompleted, event)
}

// PublishBoundaryUpdated publishes a boundary change
func (p *Publisher) PublishBoundaryUpdated(ctx context.Context, event BoundaryUpdatedEvent) error {
	return p.publish(ctx, RoutingBoundaryUpdated, event)
}

func (p *Publisher) publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published event", zap.String("routing_key", routingKey))

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
