// Package events publishes billing state changes for downstream consumers
// such as dashboards and notification workers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Type string

const (
	ChargeAdded     Type = "charge_added"
	DiscountApplied Type = "discount_applied"
	PaymentReceived Type = "payment_received"
	BillClosed      Type = "bill_closed"
	BillCancelled   Type = "bill_cancelled"
)

// BillingEvent is published after the transaction that produced it commits.
type BillingEvent struct {
	Type       Type      `json:"type"`
	HospitalID string    `json:"hospital_id"`
	BillID     string    `json:"bill_id"`
	BillNumber string    `json:"bill_number"`
	PatientID  string    `json:"patient_id"`
	Amount     float64   `json:"amount"`
	Balance    float64   `json:"balance"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt BillingEvent) error
}

// Channel returns the pub/sub channel for a hospital.
func Channel(hospitalID string) string {
	return "billing:" + hospitalID
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, BillingEvent) error { return nil }

type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes events over Redis Pub/Sub.
type RedisPublisher struct {
	client publishClient
	logger zerolog.Logger
}

// NewRedisPublisher connects to redisURL and verifies the connection.
func NewRedisPublisher(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisPublisher, *redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisPublisher{client: client, logger: logger}, client, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, evt BillingEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	channel := Channel(evt.HospitalID)
	receivers, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	p.logger.Debug().
		Str("channel", channel).
		Str("type", string(evt.Type)).
		Str("bill_id", evt.BillID).
		Int64("receivers", receivers).
		Msg("billing event published")
	return nil
}
