package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAlerter publishes low-stock signals on a Redis pub/sub channel so the
// notification system can pick them up without coupling to this service.
type RedisAlerter struct {
	client  *redis.Client
	channel string
}

// lowStockEvent is the published payload.
type lowStockEvent struct {
	ProductID int64     `json:"product_id"`
	Remaining int64     `json:"remaining"`
	At        time.Time `json:"at"`
}

// NewRedisAlerter creates a Redis pub/sub alerter on the given channel.
func NewRedisAlerter(client *redis.Client, channel string) *RedisAlerter {
	if channel == "" {
		channel = "stockhold:lowstock"
	}
	return &RedisAlerter{client: client, channel: channel}
}

// LowStock publishes the signal.
func (a *RedisAlerter) LowStock(ctx context.Context, productID, remaining int64) error {
	payload, err := json.Marshal(lowStockEvent{
		ProductID: productID,
		Remaining: remaining,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return a.client.Publish(ctx, a.channel, payload).Err()
}

// Ensure RedisAlerter implements Alerter
var _ Alerter = (*RedisAlerter)(nil)
