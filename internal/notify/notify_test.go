package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	msgs []published
	err  error
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error { return nil }

type fakeRedis struct {
	published map[string][]string
	keys      map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{published: map[string][]string{}, keys: map[string]string{}}
}

func (r *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	r.published[channel] = append(r.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (r *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	r.keys[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (r *fakeRedis) Close() error { return nil }

func TestAMQPSink_RoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	sink := &AMQPSink{channel: ch}

	err := sink.Notify(context.Background(), domain.DownloadTaskUpdated{TaskID: 4, Status: domain.DownloadStatusPaused})
	require.NoError(t, err)
	require.Len(t, ch.msgs, 1)

	msg := ch.msgs[0]
	assert.Equal(t, ExchangeEvents, msg.exchange)
	assert.Equal(t, string(domain.EventDownloadTaskUpdated), msg.key)
	assert.Equal(t, amqp.Persistent, msg.msg.DeliveryMode)

	var env struct {
		Type    domain.EventType           `json:"type"`
		Payload domain.DownloadTaskUpdated `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.msg.Body, &env))
	assert.Equal(t, domain.EventDownloadTaskUpdated, env.Type)
	assert.Equal(t, 4, env.Payload.TaskID)
	assert.Equal(t, domain.DownloadStatusPaused, env.Payload.Status)
}

func TestRedisSink_KeepsLatestProbeProgress(t *testing.T) {
	client := newFakeRedis()
	sink := NewRedisSink(client, "plex", time.Minute)
	ctx := context.Background()

	require.NoError(t, sink.Notify(ctx, domain.ServerProbeProgress{ServerID: 2, RetryAttemptIndex: 1, RetryAttemptCount: 3}))
	require.NoError(t, sink.Notify(ctx, domain.ServerProbeProgress{ServerID: 2, RetryAttemptIndex: 2, RetryAttemptCount: 3}))
	require.NoError(t, sink.Notify(ctx, domain.CheckDownloadQueue{ServerID: 2}))

	assert.Len(t, client.published["plex:server_probe_progress"], 2)
	assert.Len(t, client.published["plex:check_download_queue"], 1)
	assert.Contains(t, client.keys["plex:probe:2"], `"retry_attempt_index":2`)
}

func TestForwarder_ContinuesPastFailingSink(t *testing.T) {
	broken := &AMQPSink{channel: &fakeChannel{err: errors.New("channel closed")}}
	client := newFakeRedis()
	fwd := NewForwarder(slog.New(slog.NewTextHandler(io.Discard, nil)), broken, NewRedisSink(client, "", 0))

	err := fwd.Handle(context.Background(), domain.DownloadTaskFinished{TaskID: 1, ServerID: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amqp")
	assert.Len(t, client.published["downloads:download_task_finished"], 1)
}
