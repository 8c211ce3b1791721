package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"kindred/internal/observability"
)

// UserChannel is the pub/sub channel carrying pushes for one user.
func UserChannel(userID string) string {
	return fmt.Sprintf("notifications:user:%s", userID)
}

type redisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher returns a Publisher over Redis pub/sub.
func NewRedisPublisher(rdb *redis.Client) Publisher {
	return &redisPublisher{rdb: rdb}
}

func (p *redisPublisher) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
		observability.RedisErrors.WithLabelValues("publish").Inc()
		return err
	}
	return nil
}
