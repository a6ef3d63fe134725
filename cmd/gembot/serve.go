package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/gembotai/gembot/internal/config"
	"github.com/gembotai/gembot/internal/dedup"
	"github.com/gembotai/gembot/internal/gemini"
	"github.com/gembotai/gembot/internal/handlers"
	"github.com/gembotai/gembot/internal/handoff"
	"github.com/gembotai/gembot/internal/logger"
	"github.com/gembotai/gembot/internal/metrics"
	"github.com/gembotai/gembot/internal/relay"
	"github.com/gembotai/gembot/internal/server"
	"github.com/gembotai/gembot/internal/slack"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay: webhook intake, continuation worker, and metrics",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.toml (falls back to CONFIG_PATH)")
	return cmd
}

func runServe(configPath string) {
	fx.New(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(configPath) },
			provideLogger,
			metrics.New,
			provideRedisClient,
			provideSlackClient,
			provideGeminiClient,
			provideDedupGate,
			provideScheduler,
			provideContextBuilder,
			provideRelayService,
			provideWorker,
			provideReclaimer,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideMetricsHandler),
			provideServer,
		),
		fx.Invoke(
			startWorker,
			startReclaimer,
			startSocketReceiver,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path string) (config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return client.Close() }})
	return client
}

func provideSlackClient(cfg config.Config) *slack.Client {
	return slack.New(nil, cfg.Slack.BaseURL, cfg.Slack.BotToken)
}

func provideGeminiClient(cfg config.Config) *gemini.Client {
	return gemini.NewClient(nil, cfg.Gemini.BaseURL, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Timeout())
}

func provideDedupGate(log *slog.Logger, client *redis.Client, cfg config.Config) *dedup.Gate {
	return dedup.NewGate(log, client, cfg.Relay.DedupTTL())
}

func provideScheduler(log *slog.Logger, client *redis.Client, cfg config.Config) *handoff.Scheduler {
	return handoff.NewScheduler(log, client, handoff.DefaultStream, cfg.Relay.DedupTTL())
}

func provideContextBuilder(log *slog.Logger, client *slack.Client, cfg config.Config) *relay.ContextBuilder {
	return relay.NewContextBuilder(log, client, cfg.Slack.MaxHistory)
}

func provideRelayService(log *slog.Logger, client *slack.Client, gen *gemini.Client, gate *dedup.Gate, scheduler *handoff.Scheduler, builder *relay.ContextBuilder, m *metrics.Metrics, cfg config.Config) *relay.Service {
	return relay.NewService(log, client, gen, gate, scheduler, builder, m, cfg.Relay, cfg.Gemini.SystemPrompt)
}

func provideWorker(log *slog.Logger, client *redis.Client, scheduler *handoff.Scheduler, svc *relay.Service) *handoff.Worker {
	return handoff.NewWorker(log, client, scheduler, svc.ProcessPayload)
}

func provideReclaimer(log *slog.Logger, client *redis.Client, worker *handoff.Worker) *handoff.Reclaimer {
	return handoff.NewReclaimer(log, client, worker)
}

func provideWebhookHandler(log *slog.Logger, svc *relay.Service) *handlers.SlackWebhookHandler {
	return handlers.NewSlackWebhookHandler(log, svc)
}

func provideMetricsHandler(m *metrics.Metrics) *metricsHandler {
	return &metricsHandler{metrics: m}
}

type metricsHandler struct{ metrics *metrics.Metrics }

func (h *metricsHandler) Register(e *echo.Echo) { h.metrics.Register(e) }

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startWorker(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, worker *handoff.Worker, shutdowner fx.Shutdowner) {
	if cfg.Relay.Inline() {
		logger.Info("inline mode, continuation worker disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("continuation worker failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
}

func startReclaimer(lc fx.Lifecycle, cfg config.Config, reclaimer *handoff.Reclaimer) {
	if cfg.Relay.Inline() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return reclaimer.Start(ctx) },
		OnStop: func(_ context.Context) error {
			cancel()
			reclaimer.Stop()
			return nil
		},
	})
}

func startSocketReceiver(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, client *slack.Client, svc *relay.Service) {
	if !cfg.Slack.SocketMode {
		return
	}
	receiver := slack.NewSocketReceiver(logger, client, cfg.Slack.AppToken, svc.HandleEvent)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := receiver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("socket mode receiver failed", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
