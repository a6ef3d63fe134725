package handoff

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// Reclaimer periodically claims continuation entries whose worker died
// between reading and retiring, and runs them through the normal handle
// path. Payloads carry a TTL, so a long-dead entry simply logs a miss.
type Reclaimer struct {
	logger  *slog.Logger
	client  *redis.Client
	worker  *Worker
	minIdle time.Duration
	cron    *cron.Cron
}

func NewReclaimer(log *slog.Logger, client *redis.Client, worker *Worker) *Reclaimer {
	if log == nil {
		log = slog.Default()
	}
	return &Reclaimer{
		logger:  log.With(slog.String("component", "handoff_reclaimer")),
		client:  client,
		worker:  worker,
		minIdle: 5 * time.Minute,
		cron:    cron.New(),
	}
}

// Start schedules the reclaim pass once a minute until Stop.
func (r *Reclaimer) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc("@every 1m", func() {
		if err := r.reclaimOnce(ctx); err != nil {
			r.logger.Error("reclaim cycle failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

func (r *Reclaimer) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reclaimer) reclaimOnce(ctx context.Context) error {
	start := "0-0"
	for {
		msgs, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.worker.scheduler.Stream(),
			Group:    group,
			Consumer: r.worker.consumer,
			MinIdle:  r.minIdle,
			Start:    start,
			Count:    16,
		}).Result()
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			r.logger.Warn("reclaimed stale continuation", slog.String("id", msg.ID))
			r.worker.handle(ctx, msg)
		}
		if next == "0-0" || len(msgs) == 0 {
			return nil
		}
		start = next
	}
}
