package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
)

// redisClient is the part of *redis.Client the sink uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisSink publishes events on pub/sub channels named <prefix>:<event type>.
// The latest probe progress per server is also kept under
// <prefix>:probe:<server id> for observers that connect late.
type RedisSink struct {
	client   redisClient
	prefix   string
	probeTTL time.Duration
}

// NewRedisClient opens a client and checks the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisSink(client redisClient, prefix string, probeTTL time.Duration) *RedisSink {
	if prefix == "" {
		prefix = "downloads"
	}
	return &RedisSink{client: client, prefix: prefix, probeTTL: probeTTL}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Notify(ctx context.Context, evt domain.Event) error {
	data, err := encode(evt)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.Channel(evt.EventType()), data).Err(); err != nil {
		return err
	}

	if p, ok := evt.(domain.ServerProbeProgress); ok {
		key := fmt.Sprintf("%s:probe:%d", s.prefix, p.ServerID)
		if err := s.client.Set(ctx, key, data, s.probeTTL).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Channel returns the pub/sub channel of an event type.
func (s *RedisSink) Channel(t domain.EventType) string {
	return s.prefix + ":" + string(t)
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
