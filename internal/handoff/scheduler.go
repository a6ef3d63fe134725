// Package handoff carries reply work across the fast-ack / slow-reply
// boundary. The intake handler registers a continuation on a redis stream
// and stores its payload keyed by the stream's own assigned entry ID; a
// worker consumes the entry, looks up the payload, and retires the
// registration so it can never fire twice.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream = "gembot:continuations"
	group         = "relay"

	payloadPrefix = "pending:"
)

// ErrNotFound is returned by Consume when the payload expired or was
// already consumed.
var ErrNotFound = errors.New("pending payload not found")

// store is the slice of the redis API the scheduler needs.
type store interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XDel(ctx context.Context, stream string, ids ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Scheduler struct {
	logger *slog.Logger
	store  store
	stream string
	ttl    time.Duration
}

func NewScheduler(log *slog.Logger, client *redis.Client, stream string, ttl time.Duration) *Scheduler {
	return newScheduler(log, client, stream, ttl)
}

func newScheduler(log *slog.Logger, s store, stream string, ttl time.Duration) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if stream == "" {
		stream = DefaultStream
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Scheduler{
		logger: log.With(slog.String("component", "handoff")),
		store:  s,
		stream: stream,
		ttl:    ttl,
	}
}

// Schedule registers a continuation due after delay and stores its payload
// under the registration's own identity, keeping the mapping 1:1 without a
// separate correlation id. Returns the continuation id.
func (s *Scheduler) Schedule(ctx context.Context, payload []byte, delay time.Duration) (string, error) {
	fireAt := time.Now().Add(delay)
	id, err := s.store.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"fire_at_ms": fireAt.UnixMilli()},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("register continuation: %w", err)
	}
	if err := s.store.Set(ctx, payloadPrefix+id, payload, s.ttl).Err(); err != nil {
		// A registration without a payload would fire into nothing; take it
		// back out so the worker never sees it.
		_ = s.store.XDel(ctx, s.stream, id).Err()
		return "", fmt.Errorf("store continuation payload: %w", err)
	}
	s.logger.Debug("continuation scheduled", slog.String("id", id), slog.Time("fire_at", fireAt))
	return id, nil
}

// Consume returns the payload for a continuation id exactly once. A second
// call for the same id returns ErrNotFound.
func (s *Scheduler) Consume(ctx context.Context, id string) ([]byte, error) {
	raw, err := s.store.GetDel(ctx, payloadPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume continuation payload: %w", err)
	}
	return []byte(raw), nil
}

// Retire removes the registration (and any leftover payload) so the
// continuation can never fire again. Safe to call more than once.
func (s *Scheduler) Retire(ctx context.Context, id string) {
	if err := s.store.XAck(ctx, s.stream, group, id).Err(); err != nil {
		s.logger.Warn("ack continuation failed", slog.String("id", id), slog.Any("error", err))
	}
	if err := s.store.XDel(ctx, s.stream, id).Err(); err != nil {
		s.logger.Warn("delete continuation failed", slog.String("id", id), slog.Any("error", err))
	}
	_ = s.store.Del(ctx, payloadPrefix+id).Err()
}

// Stream returns the stream name registrations are written to.
func (s *Scheduler) Stream() string {
	return s.stream
}

func fireAtFromValues(values map[string]any) time.Time {
	raw, ok := values["fire_at_ms"]
	if !ok {
		return time.Time{}
	}
	str, ok := raw.(string)
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
