package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// defaultStreamMaxLen caps the signal log when no length is configured.
const defaultStreamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus. Signal events are appended to a
// capped stream, which websocket clients replay from on reconnect, and
// published over Pub/Sub for live fan-out.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	maxLen := c.streamMaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish sends payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel. The returned channel closes when ctx is
// cancelled or the subscription drops.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, channel)
	// Wait for the subscribe confirmation so no publish is missed after return.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()
		in := pubsub.Channel()
		for {
			var msg *redis.Message
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg = m
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to stream, trimming it to roughly maxLen
// entries, and returns the entry ID Redis assigned.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return id, nil
}

// StreamRead returns up to count entries of stream with IDs after lastID,
// oldest first. "0" reads from the start of the retained log. An empty
// result is not an error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s after %s: %w", stream, lastID, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			// go-redis decodes stream values as strings.
			v, ok := m.Values["payload"].(string)
			if !ok {
				continue
			}
			out = append(out, domain.StreamMessage{ID: m.ID, Payload: []byte(v)})
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
