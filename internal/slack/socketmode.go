package slack

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// EnvelopeHandler processes one Events API envelope delivered over Socket
// Mode. The receiver acknowledges the envelope before invoking it, so the
// handler must do its own slow-work deferral.
type EnvelopeHandler func(ctx context.Context, env EventEnvelope)

// SocketReceiver maintains a Socket Mode connection as an alternative to
// the HTTP webhook. Envelopes are acked immediately and fed to the handler.
type SocketReceiver struct {
	logger   *slog.Logger
	client   *Client
	appToken string
	handler  EnvelopeHandler
}

func NewSocketReceiver(log *slog.Logger, client *Client, appToken string, handler EnvelopeHandler) *SocketReceiver {
	if log == nil {
		log = slog.Default()
	}
	return &SocketReceiver{
		logger:   log.With(slog.String("component", "slack_socket")),
		client:   client,
		appToken: appToken,
		handler:  handler,
	}
}

type socketEnvelope struct {
	Type                   string          `json:"type"`
	EnvelopeID             string          `json:"envelope_id,omitempty"`
	Payload                json.RawMessage `json:"payload,omitempty"`
	AcceptsResponsePayload bool            `json:"accepts_response_payload,omitempty"`
}

type socketAck struct {
	EnvelopeID string `json:"envelope_id"`
}

// Run connects and processes envelopes until the context is canceled,
// reconnecting with backoff on any connection failure.
func (r *SocketReceiver) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.runConn(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn("socket connection ended, reconnecting", slog.Any("error", err), slog.Duration("backoff", backoff))
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (r *SocketReceiver) runConn(ctx context.Context) error {
	wsURL, err := r.client.OpenSocketURL(ctx, r.appToken)
	if err != nil {
		return err
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env socketEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			r.logger.Warn("undecodable socket frame", slog.Any("error", err))
			continue
		}
		switch env.Type {
		case "hello":
			r.logger.Info("socket connected")
		case "disconnect":
			// Slack asks for a fresh connection before it drops this one.
			return nil
		case "events_api":
			if env.EnvelopeID != "" {
				if err := conn.WriteJSON(socketAck{EnvelopeID: env.EnvelopeID}); err != nil {
					return err
				}
			}
			var payload EventEnvelope
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				r.logger.Warn("undecodable events_api payload", slog.Any("error", err))
				continue
			}
			if r.handler != nil {
				r.handler(ctx, payload)
			}
		default:
			r.logger.Debug("ignoring socket frame", slog.String("type", env.Type))
		}
	}
}
