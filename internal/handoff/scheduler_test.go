package handoff

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeStore backs the scheduler with in-memory maps.
type fakeStore struct {
	mu      sync.Mutex
	seq     int
	entries map[string]map[string]any
	kv      map[string]string
	setErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: map[string]map[string]any{},
		kv:      map[string]string{},
	}
}

func (f *fakeStore) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := "1700000000000-" + strconv.Itoa(f.seq)
	f.entries[id] = a.Values.(map[string]any)
	return redis.NewStringResult(id, nil)
}

func (f *fakeStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.kv[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStore) GetDel(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	delete(f.kv, key)
	return redis.NewStringResult(v, nil)
}

func (f *fakeStore) XAck(_ context.Context, _, _ string, _ ...string) *redis.IntCmd {
	return redis.NewIntResult(1, nil)
}

func (f *fakeStore) XDel(_ context.Context, _ string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.entries, id)
	}
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.kv, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestScheduleConsumeOnce(t *testing.T) {
	t.Parallel()
	s := newScheduler(nil, newFakeStore(), "", time.Minute)
	ctx := context.Background()

	id, err := s.Schedule(ctx, []byte(`{"question":"what is X?"}`), 2*time.Second)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	got, err := s.Consume(ctx, id)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if string(got) != `{"question":"what is X?"}` {
		t.Errorf("payload = %s", got)
	}
	if _, err := s.Consume(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second consume err = %v, want ErrNotFound", err)
	}
}

func TestScheduleRollsBackOnPayloadStoreFailure(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	fs.setErr = errors.New("oom")
	s := newScheduler(nil, fs, "", time.Minute)

	if _, err := s.Schedule(context.Background(), []byte("p"), 0); err == nil {
		t.Fatal("expected error")
	}
	if len(fs.entries) != 0 {
		t.Error("registration must be removed when the payload store fails")
	}
}

func TestWorkerHandleProcessesAndRetires(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	s := newScheduler(nil, fs, "", time.Minute)
	ctx := context.Background()

	id, err := s.Schedule(ctx, []byte("payload"), 0)
	if err != nil {
		t.Fatal(err)
	}

	var got []byte
	w := &Worker{scheduler: s, logger: s.logger, processor: func(_ context.Context, p []byte) error {
		got = p
		return nil
	}}
	w.handle(ctx, redis.XMessage{ID: id, Values: fs.entries[id]})

	if string(got) != "payload" {
		t.Errorf("processor got %q", got)
	}
	if len(fs.entries) != 0 {
		t.Error("registration must be retired after handling")
	}
	if len(fs.kv) != 0 {
		t.Error("payload must be gone after handling")
	}
}

func TestWorkerHandleMissingPayload(t *testing.T) {
	t.Parallel()
	s := newScheduler(nil, newFakeStore(), "", time.Minute)
	called := false
	w := &Worker{scheduler: s, logger: s.logger, processor: func(context.Context, []byte) error {
		called = true
		return nil
	}}
	w.handle(context.Background(), redis.XMessage{ID: "gone-1", Values: map[string]any{}})
	if called {
		t.Error("processor must not run without a payload")
	}
}

func TestWorkerHandleRetiresOnPanic(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	s := newScheduler(nil, fs, "", time.Minute)
	ctx := context.Background()
	id, err := s.Schedule(ctx, []byte("p"), 0)
	if err != nil {
		t.Fatal(err)
	}
	w := &Worker{scheduler: s, logger: s.logger, processor: func(context.Context, []byte) error {
		panic("boom")
	}}
	w.handle(ctx, redis.XMessage{ID: id, Values: fs.entries[id]})
	if len(fs.entries) != 0 {
		t.Error("registration must be retired even when the processor panics")
	}
}

func TestFireAtFromValues(t *testing.T) {
	t.Parallel()
	if ts := fireAtFromValues(map[string]any{"fire_at_ms": "1700000000000"}); ts.UnixMilli() != 1700000000000 {
		t.Errorf("fire_at = %v", ts)
	}
	if ts := fireAtFromValues(map[string]any{}); !ts.IsZero() {
		t.Errorf("missing field must yield zero time, got %v", ts)
	}
	if ts := fireAtFromValues(map[string]any{"fire_at_ms": "junk"}); !ts.IsZero() {
		t.Errorf("junk field must yield zero time, got %v", ts)
	}
}
