package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gembotai/gembot/internal/slack"
)

// Events API deliveries are small; anything bigger is not from Slack.
const maxEventBody = 1 << 20

// EventSink consumes one decoded Events API envelope.
type EventSink interface {
	HandleEvent(ctx context.Context, env slack.EventEnvelope)
}

// SlackWebhookHandler is the HTTP intake for Events API deliveries. It
// answers every delivery with 200 so the platform never retries on our
// processing problems; retry suppression is the dedup gate's job, not a
// status code's.
type SlackWebhookHandler struct {
	sink   EventSink
	logger *slog.Logger
}

func NewSlackWebhookHandler(log *slog.Logger, sink EventSink) *SlackWebhookHandler {
	return &SlackWebhookHandler{
		sink:   sink,
		logger: log.With(slog.String("handler", "slack_webhook")),
	}
}

func (h *SlackWebhookHandler) Register(e *echo.Echo) {
	e.POST("/slack/events", h.Receive)
}

func (h *SlackWebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxEventBody))
	if err != nil {
		h.logger.Warn("read event body failed", slog.Any("error", err))
		return h.ack(c)
	}

	var env slack.EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.logger.Warn("decode event body failed", slog.Any("error", err))
		return h.ack(c)
	}

	// Endpoint ownership check during app setup: echo the challenge back
	// as plain text before anything else.
	if env.Type == slack.EnvelopeTypeURLVerification {
		return c.String(http.StatusOK, env.Challenge)
	}

	if h.sink != nil {
		h.sink.HandleEvent(c.Request().Context(), env)
	}
	return h.ack(c)
}

func (h *SlackWebhookHandler) ack(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{})
}
