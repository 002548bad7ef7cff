package domain

import (
	"context"
	"time"
)

// RunCache keeps the most recent build run for cheap reads by the API.
type RunCache interface {
	SetLatest(ctx context.Context, run BuildRun) error
	GetLatest(ctx context.Context) (BuildRun, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries build run events. Broadcast both publishes a payload to
// live subscribers and appends it to a capped stream that StreamTail replays.
type SignalBus interface {
	Broadcast(ctx context.Context, channel, stream string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamTail(ctx context.Context, stream string, count int64) ([]StreamMessage, error)
}

// Channel and stream names used for build run events.
const (
	ChannelRuns = "features.runs"
	StreamRuns  = "stream:features.runs"
)

// RateLimiter throttles repeated requests per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
