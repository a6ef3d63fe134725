package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Processor handles one consumed continuation payload.
type Processor func(ctx context.Context, payload []byte) error

// Worker drains the continuation stream. Each entry is processed by a
// single logical execution: wait until due, look up the payload, run the
// processor, retire the registration unconditionally.
type Worker struct {
	logger    *slog.Logger
	client    *redis.Client
	scheduler *Scheduler
	processor Processor
	consumer  string
	block     time.Duration
	batch     int64
}

func NewWorker(log *slog.Logger, client *redis.Client, scheduler *Scheduler, processor Processor) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		logger:    log.With(slog.String("component", "handoff_worker")),
		client:    client,
		scheduler: scheduler,
		processor: processor,
		consumer:  "gembot-" + uuid.NewString(),
		block:     5 * time.Second,
		batch:     8,
	}
}

func (w *Worker) ensureGroup(ctx context.Context) error {
	// Start the group at "0" so registrations written before the worker
	// came up are not lost across restarts.
	err := w.client.XGroupCreateMkStream(ctx, w.scheduler.Stream(), group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run blocks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.ensureGroup(ctx); err != nil {
		return err
	}
	w.logger.Info("continuation worker started", slog.String("consumer", w.consumer))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: w.consumer,
			Streams:  []string{w.scheduler.Stream(), ">"},
			Count:    w.batch,
			Block:    w.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("read continuation stream failed", slog.Any("error", err))
			_ = sleepWithContext(ctx, time.Second)
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				w.handle(ctx, msg)
			}
		}
	}
}

// handle runs one continuation to completion. Retirement happens in a defer
// so a registration is never left to fire twice, whatever the processor
// does.
func (w *Worker) handle(ctx context.Context, msg redis.XMessage) {
	defer w.scheduler.Retire(context.WithoutCancel(ctx), msg.ID)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("continuation panicked", slog.String("id", msg.ID), slog.Any("panic", r))
		}
	}()

	if fireAt := fireAtFromValues(msg.Values); !fireAt.IsZero() {
		if wait := time.Until(fireAt); wait > 0 {
			if err := sleepWithContext(ctx, wait); err != nil {
				return
			}
		}
	}

	payload, err := w.scheduler.Consume(ctx, msg.ID)
	if errors.Is(err, ErrNotFound) {
		// Expired or lost; exit without side effects rather than guess.
		w.logger.Error("continuation payload missing", slog.String("id", msg.ID))
		return
	}
	if err != nil {
		w.logger.Error("continuation payload lookup failed", slog.String("id", msg.ID), slog.Any("error", err))
		return
	}
	if w.processor == nil {
		return
	}
	if err := w.processor(ctx, payload); err != nil {
		w.logger.Error("continuation processing failed", slog.String("id", msg.ID), slog.Any("error", err))
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
