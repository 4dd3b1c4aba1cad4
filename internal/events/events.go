// Package events publishes a best-effort "game.settled" message to a
// RabbitMQ topic exchange after every settlement, for downstream consumers
// (analytics, balance displays). Grounded on iliyamo-cinema-seat-reservation's
// internal/service/queue_publisher.go — dial, declare, publish, log and
// swallow errors rather than interrupt the caller's main flow.
package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const exchangeName = "matchserver.events"
const routingKey = "game.settled"

// SettledEvent is the payload published for every settlement outcome.
type SettledEvent struct {
	RoomID    string    `json:"roomId"`
	GameType  string    `json:"gameType"`
	Stake     float64   `json:"stake"`
	Winner    *int      `json:"winner"`
	IsDraw    bool      `json:"isDraw"`
	Payout    float64   `json:"payout"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher dials RabbitMQ lazily on each publish, matching the teacher
// pack's dial-per-publish style rather than holding a long-lived channel
// that would need its own reconnect logic for a feature this spec marks as
// best-effort fan-out, not a durable bus.
type Publisher struct {
	url string
	log *zap.Logger
}

// New constructs a Publisher. It returns nil when url is empty (RABBITMQ_URL
// unset); a nil *Publisher is valid and every method becomes a no-op.
func New(url string, log *zap.Logger) *Publisher {
	if url == "" {
		return nil
	}
	return &Publisher{url: url, log: log}
}

// PublishSettled implements settlement.EventPublisher.
func (p *Publisher) PublishSettled(ctx context.Context, evt SettledEvent) {
	if p == nil {
		return
	}
	evt.Timestamp = time.Now().UTC()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Warn("events: rabbitmq dial failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("events: rabbitmq channel open failed", zap.Error(err))
		return
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		p.log.Warn("events: exchange declare failed", zap.Error(err))
		return
	}

	body, err := json.Marshal(evt)
	if err != nil {
		p.log.Warn("events: marshal failed", zap.Error(err))
		return
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.Timestamp,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, pub); err != nil {
		p.log.Warn("events: publish failed", zap.Error(err))
	}
}
