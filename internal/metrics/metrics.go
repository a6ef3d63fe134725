// Package metrics exposes prometheus instrumentation for the relay.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	EventsReceived  *prometheus.CounterVec
	EventsDuplicate prometheus.Counter
	RepliesStarted  prometheus.Counter
	RepliesDone     prometheus.Counter
	RepliesFailed   prometheus.Counter
	EditsPublished  prometheus.Counter
	ReplyDuration   prometheus.Histogram

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gembot_events_received_total",
			Help: "Inbound Slack events by type.",
		}, []string{"type"}),
		EventsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gembot_events_duplicate_total",
			Help: "Events dropped by the dedup gate.",
		}),
		RepliesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gembot_replies_started_total",
			Help: "Reply cycles that posted a placeholder.",
		}),
		RepliesDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gembot_replies_completed_total",
			Help: "Reply cycles that reached a terminal edit with an answer.",
		}),
		RepliesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gembot_replies_failed_total",
			Help: "Reply cycles that ended with an error edit.",
		}),
		EditsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gembot_edits_published_total",
			Help: "Incremental message edits published to Slack.",
		}),
		ReplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gembot_reply_duration_seconds",
			Help:    "Wall time from continuation start to terminal edit.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		registry: reg,
	}
	reg.MustRegister(
		m.EventsReceived,
		m.EventsDuplicate,
		m.RepliesStarted,
		m.RepliesDone,
		m.RepliesFailed,
		m.EditsPublished,
		m.ReplyDuration,
	)
	return m
}

// Register mounts the /metrics endpoint.
func (m *Metrics) Register(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})))
}
