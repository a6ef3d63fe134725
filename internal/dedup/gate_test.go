package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeStore remembers keys in memory and can simulate outage.
type fakeStore struct {
	seen map[string]bool
	down bool
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.BoolCmd {
	if f.down {
		return redis.NewBoolResult(false, errors.New("connection refused"))
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.seen[key] = true
	return redis.NewBoolResult(true, nil)
}

func TestIsDuplicate(t *testing.T) {
	t.Parallel()
	g := newGate(nil, &fakeStore{}, time.Minute)
	ctx := context.Background()

	if g.IsDuplicate(ctx, "E1") {
		t.Error("first sight of E1 must not be a duplicate")
	}
	if !g.IsDuplicate(ctx, "E1") {
		t.Error("second sight of E1 must be a duplicate")
	}
	if g.IsDuplicate(ctx, "E2") {
		t.Error("distinct id E2 must not be a duplicate")
	}
}

func TestIsDuplicateEmptyID(t *testing.T) {
	t.Parallel()
	g := newGate(nil, &fakeStore{}, time.Minute)
	if g.IsDuplicate(context.Background(), "") {
		t.Error("missing event_id must pass through")
	}
	if g.IsDuplicate(context.Background(), "") {
		t.Error("missing event_id must pass through every time")
	}
}

func TestIsDuplicateFailsOpen(t *testing.T) {
	t.Parallel()
	g := newGate(nil, &fakeStore{down: true}, time.Minute)
	if g.IsDuplicate(context.Background(), "E1") {
		t.Error("store outage must fail open")
	}
}
