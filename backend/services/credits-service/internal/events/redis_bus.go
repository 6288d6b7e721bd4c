package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/models"
)

// DefaultChannel is the pub/sub channel balance events travel on.
const DefaultChannel = "credits:balance-events"

// RedisBus fans balance events out to every credits-service instance. Notify
// publishes; Run subscribes and hands each event to the local hub.
type RedisBus struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *zap.Logger
}

// NewRedisBus builds a bus on client.
func NewRedisBus(client *redis.Client, channel string, hub *Hub, logger *zap.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{client: client, channel: channel, hub: hub, logger: logger}
}

// Notify publishes ev. Failures are logged; the ledger write already happened.
func (b *RedisBus) Notify(ctx context.Context, ev models.BalanceEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("encode balance event", zap.Error(err))
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("publish balance event", zap.String("user_id", ev.UserID), zap.Error(err))
	}
}

// Run relays published events to the local hub until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("events: subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("balance event relay started", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.BalanceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("discarding malformed balance event", zap.Error(err))
				continue
			}
			b.hub.Deliver(ev.UserID, []byte(msg.Payload))
		}
	}
}
