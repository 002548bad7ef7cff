package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps run event streams via XADD MAXLEN ~.
const streamMaxLen int64 = 1000

// SignalBus implements domain.SignalBus using Redis Pub/Sub for live run
// events and Redis Streams for the durable, ordered run history that late
// WebSocket subscribers replay.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb}
}

// Subscribe returns the payloads published on channel until ctx is
// cancelled, when the subscription and the returned channel are closed.
// Glob patterns such as "features.*" subscribe by pattern.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern reports whether channel needs PSUBSCRIBE.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// Broadcast publishes payload on channel and appends it to stream in one
// round trip.
func (sb *SignalBus) Broadcast(ctx context.Context, channel, stream string, payload []byte) error {
	pipe := sb.rdb.Pipeline()
	pipe.Publish(ctx, channel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: broadcast %s: %w", channel, err)
	}
	return nil
}

// StreamTail returns the last count messages of a stream, oldest first.
func (sb *SignalBus) StreamTail(ctx context.Context, stream string, count int64) ([]domain.StreamMessage, error) {
	msgs, err := sb.rdb.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream tail %s: %w", stream, err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return appendMessages(nil, msgs), nil
}

// appendMessages converts stream entries carrying a "payload" field.
func appendMessages(dst []domain.StreamMessage, msgs []redis.XMessage) []domain.StreamMessage {
	for _, msg := range msgs {
		var data []byte
		switch v := msg.Values["payload"].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		dst = append(dst, domain.StreamMessage{ID: msg.ID, Payload: data})
	}
	return dst
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
