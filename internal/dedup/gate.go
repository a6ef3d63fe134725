// Package dedup drops redelivered Slack events. The platform retries
// webhook deliveries it considers slow, so the same event_id can arrive
// several times within minutes.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "evt_"

// store is the slice of the redis API the gate needs.
type store interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type Gate struct {
	logger *slog.Logger
	store  store
	ttl    time.Duration
}

func NewGate(log *slog.Logger, client *redis.Client, ttl time.Duration) *Gate {
	return newGate(log, client, ttl)
}

func newGate(log *slog.Logger, s store, ttl time.Duration) *Gate {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &Gate{
		logger: log.With(slog.String("component", "dedup")),
		store:  s,
		ttl:    ttl,
	}
}

// IsDuplicate records the event id on first sight and reports whether it was
// already seen within the TTL window. An empty id disables deduplication for
// that event. A store failure fails open: losing dedup for one event is
// cheaper than dropping a legitimate question.
func (g *Gate) IsDuplicate(ctx context.Context, eventID string) bool {
	if eventID == "" {
		g.logger.Warn("event without event_id, cannot deduplicate")
		return false
	}
	fresh, err := g.store.SetNX(ctx, keyPrefix+eventID, "1", g.ttl).Result()
	if err != nil {
		g.logger.Error("dedup store unreachable, failing open", slog.String("event_id", eventID), slog.Any("error", err))
		return false
	}
	return !fresh
}
