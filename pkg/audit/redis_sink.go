package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig configures the Redis stream sink
type RedisConfig struct {
	URL    string
	Stream string // default: tenantrbac:audit
	MaxLen int64  // approximate cap on stream length; 0 keeps everything
}

// NewRedisClient parses url and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisSink appends events to a Redis stream for downstream consumers
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink wraps an existing client
func NewRedisSink(client *redis.Client, cfg RedisConfig) *RedisSink {
	stream := cfg.Stream
	if stream == "" {
		stream = "tenantrbac:audit"
	}
	return &RedisSink{client: client, stream: stream, maxLen: cfg.MaxLen}
}

func (s *RedisSink) Name() string { return "redis" }

// Write adds e to the stream as fields id, tenant, action and event (JSON)
func (s *RedisSink) Write(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"id":     strconv.FormatInt(e.ID, 10),
			"tenant": e.TenantID,
			"action": e.Action,
			"event":  string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append audit event to stream: %w", err)
	}
	return nil
}

// Read returns up to count events from the start of the stream
func (s *RedisSink) Read(ctx context.Context, count int64) ([]Event, error) {
	msgs, err := s.client.XRangeN(ctx, s.stream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit stream: %w", err)
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["event"].(string)
		if !ok {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode stream entry %s: %w", m.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Close leaves the client open; its owner closes it
func (s *RedisSink) Close() error {
	return nil
}
