package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gembotai/gembot/internal/config"
	"github.com/gembotai/gembot/internal/gemini"
	"github.com/gembotai/gembot/internal/metrics"
	"github.com/gembotai/gembot/internal/slack"
)

const defaultSystemPrompt = "You are a helpful assistant answering questions in a Slack thread. " +
	"Format replies with Slack mrkdwn: *bold*, _italic_, bullet lists with •. " +
	"Mention that answers are AI-generated and may be inaccurate, and suggest asking an instructor when unsure. " +
	"If the question is unclear, say specifically how it could be rephrased."

// messenger is the slice of the Slack client the service needs.
type messenger interface {
	PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error)
	UpdateMessage(ctx context.Context, channelID, ts, text string) error
}

type generator interface {
	GenerateChunked(ctx context.Context, req gemini.Request) ([]byte, error)
}

type continuations interface {
	Schedule(ctx context.Context, payload []byte, delay time.Duration) (string, error)
}

type duplicateGate interface {
	IsDuplicate(ctx context.Context, eventID string) bool
}

// Service orchestrates one reply cycle: the fast intake phase that posts a
// placeholder and hands off, and the slow continuation phase that asks the
// model and edits the placeholder into the answer.
type Service struct {
	logger    *slog.Logger
	slack     messenger
	gemini    generator
	gate      duplicateGate
	scheduler continuations
	builder   *ContextBuilder
	metrics   *metrics.Metrics

	cfg          config.RelayConfig
	systemPrompt string
}

func NewService(
	log *slog.Logger,
	client messenger,
	gen generator,
	gate duplicateGate,
	scheduler continuations,
	builder *ContextBuilder,
	m *metrics.Metrics,
	relayCfg config.RelayConfig,
	systemPrompt string,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &Service{
		logger:       log.With(slog.String("component", "relay")),
		slack:        client,
		gemini:       gen,
		gate:         gate,
		scheduler:    scheduler,
		builder:      builder,
		metrics:      m,
		cfg:          relayCfg,
		systemPrompt: systemPrompt,
	}
}

// HandleEvent is the fast phase. It never blocks on the model call: it
// classifies, posts the placeholder, and either schedules a continuation or
// detaches a goroutine, depending on the configured mode. Errors are logged,
// never returned to the platform.
func (s *Service) HandleEvent(ctx context.Context, env slack.EventEnvelope) {
	if env.Event == nil {
		return
	}
	ev := *env.Event
	if s.metrics != nil {
		s.metrics.EventsReceived.WithLabelValues(ev.Type).Inc()
	}

	if s.gate != nil && s.gate.IsDuplicate(ctx, env.EventID) {
		if s.metrics != nil {
			s.metrics.EventsDuplicate.Inc()
		}
		s.logger.Info("duplicate event skipped", slog.String("event_id", env.EventID))
		return
	}
	if ev.BotID != "" {
		// The bot's own messages come back through the subscription.
		s.logger.Debug("ignoring bot message", slog.String("bot_id", ev.BotID))
		return
	}
	if ev.Type != slack.EventTypeAppMention && ev.Type != slack.EventTypeMessage {
		s.logger.Debug("event ignored", slog.String("type", ev.Type))
		return
	}

	botIDs := env.BotUserIDs()
	question := StripMentions(ev.Text, botIDs)
	if question == "" && len(ev.Files) == 0 {
		s.logger.Debug("event carried no question")
		return
	}

	placeholderTS, err := s.slack.PostMessage(ctx, ev.Channel, s.cfg.PlaceholderText, ev.ThreadAnchor())
	if err != nil {
		s.logger.Error("placeholder post failed", slog.String("channel", ev.Channel), slog.Any("error", err))
		return
	}
	if s.metrics != nil {
		s.metrics.RepliesStarted.Inc()
	}

	pending := PendingReply{
		Question:      question,
		Channel:       ev.Channel,
		ThreadTS:      ev.ThreadAnchor(),
		SourceTS:      ev.TS,
		PlaceholderTS: placeholderTS,
		Files:         ev.Files,
		BotIDs:        botIDs,
	}

	if s.cfg.Inline() || s.scheduler == nil {
		detached := context.WithoutCancel(ctx)
		go func() {
			_ = s.Process(detached, pending)
		}()
		return
	}

	payload, err := json.Marshal(pending)
	if err != nil {
		s.logger.Error("marshal pending reply failed", slog.Any("error", err))
		return
	}
	if _, err := s.scheduler.Schedule(ctx, payload, s.cfg.HandoffDelay()); err != nil {
		s.logger.Error("continuation schedule failed", slog.Any("error", err))
		s.editOrPost(ctx, &pending, apologyText)
	}
}

// ProcessPayload adapts Process to the handoff worker.
func (s *Service) ProcessPayload(ctx context.Context, payload []byte) error {
	var pending PendingReply
	if err := json.Unmarshal(payload, &pending); err != nil {
		return fmt.Errorf("decode pending reply: %w", err)
	}
	return s.Process(ctx, pending)
}

// Process is the slow phase: reconstruct context, call the model, and edit
// the placeholder into the answer. Nothing escapes: any failure ends in a
// best-effort apology edit.
func (s *Service) Process(ctx context.Context, pending PendingReply) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reply processing panicked: %v", r)
		}
		if s.metrics != nil {
			s.metrics.ReplyDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				s.metrics.RepliesFailed.Inc()
			} else {
				s.metrics.RepliesDone.Inc()
			}
		}
		if err != nil {
			s.logger.Error("reply cycle failed", slog.String("channel", pending.Channel), slog.Any("error", err))
		}
	}()

	var turns []gemini.Content
	if s.builder != nil {
		history, histErr := s.builder.BuildTurns(ctx, pending.Channel, pending.ThreadTS, pending.SourceTS, pending.BotIDs)
		if histErr != nil {
			// Degrade to answering without context rather than not at all.
			s.logger.Warn("history fetch failed, continuing without context", slog.Any("error", histErr))
		} else {
			turns = history
		}
	}

	current := gemini.Content{Role: gemini.RoleUser}
	if pending.Question != "" {
		current.Parts = append(current.Parts, gemini.Part{Text: pending.Question})
	}
	if s.builder != nil {
		current.Parts = append(current.Parts, s.builder.AttachmentParts(ctx, pending.Files)...)
	}
	if current.IsEmpty() {
		s.editOrPost(ctx, &pending, apologyText)
		return fmt.Errorf("pending reply carried no usable content")
	}
	turns = append(turns, current)

	req := gemini.Request{
		Contents:          turns,
		SystemInstruction: &gemini.Content{Parts: []gemini.Part{{Text: s.systemPrompt}}},
	}
	raw, genErr := s.gemini.GenerateChunked(ctx, req)
	if genErr != nil {
		s.editOrPost(ctx, &pending, apologyText)
		return fmt.Errorf("model call failed: %w", genErr)
	}

	rsm := NewReassembler(s.logger, s.cfg.FlushThreshold, s.cfg.EditInterval())
	publish := func(ctx context.Context, text string) error {
		if s.metrics != nil {
			s.metrics.EditsPublished.Inc()
		}
		return s.editOrPostErr(ctx, &pending, text)
	}
	if _, runErr := rsm.Run(ctx, raw, publish); runErr != nil {
		return runErr
	}
	return nil
}

// editOrPostErr updates the placeholder with the full text so far. When the
// placeholder is unknown (post failed or ts lost) it falls back to posting
// a fresh thread reply once and edits that from then on.
func (s *Service) editOrPostErr(ctx context.Context, pending *PendingReply, text string) error {
	if pending.PlaceholderTS == "" {
		ts, err := s.slack.PostMessage(ctx, pending.Channel, text, pending.ThreadTS)
		if err != nil {
			return err
		}
		pending.PlaceholderTS = ts
		return nil
	}
	return s.slack.UpdateMessage(ctx, pending.Channel, pending.PlaceholderTS, text)
}

func (s *Service) editOrPost(ctx context.Context, pending *PendingReply, text string) {
	if err := s.editOrPostErr(ctx, pending, text); err != nil {
		s.logger.Error("error edit failed", slog.String("channel", pending.Channel), slog.Any("error", err))
	}
}
