package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chatrelay-backend/internal/models"
)

// ExchangeChannel is the Redis pub/sub channel relay exchanges are announced on.
const ExchangeChannel = "relay:exchanges"

type EventPublisher struct {
	redis   *redis.Client
	channel string
}

func NewEventPublisher(redisClient *redis.Client) *EventPublisher {
	return &EventPublisher{redis: redisClient, channel: ExchangeChannel}
}

func (p *EventPublisher) Name() string { return "redis" }

// RecordExchange publishes the exchange as JSON.
func (p *EventPublisher) RecordExchange(ctx context.Context, ex models.Exchange) error {
	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal exchange: %w", err)
	}
	if err := p.redis.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish exchange: %w", err)
	}
	return nil
}
