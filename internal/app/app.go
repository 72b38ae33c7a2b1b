package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tickflow/internal/alerting"
	"tickflow/internal/config"
	"tickflow/internal/forwarder"
	"tickflow/internal/parser"
	"tickflow/internal/pipeline"
	"tickflow/internal/service"
	"tickflow/internal/source"
	"tickflow/internal/storage"
	"tickflow/internal/telemetry"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// Run executes the long-running ingestion pipeline: subscribe to the tick
// channels, batch into PostgreSQL, forward to the real-time transport.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The database must be reachable before any tick is consumed.
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.Ping(ctx); err != nil {
		return err
	}

	client, err := source.NewClient(ctx, a.Config.Source)
	if err != nil {
		return err
	}
	defer client.Close()

	subscriber := source.NewSubscriber(client, a.Logger)
	subscription, err := subscriber.Subscribe(ctx, a.Config.Source.Channels()...)
	if err != nil {
		return err
	}

	sink := storage.NewSink(store, storage.SinkOptions{
		MaxAttempts: a.Config.Pipeline.RetryMaxAttempts,
		Backoff:     a.Config.Pipeline.RetryBackoff,
		MaxBackoff:  a.Config.Pipeline.RetryMaxBackoff,
	}, a.newNotifier(), a.Logger)

	emitter := telemetry.NewEmitter(a.Config.App.Name, store, a.Logger)

	buffer := pipeline.NewBuffer(pipeline.BufferOptions{
		MaxBatchSize:  a.Config.Pipeline.MaxBatchSize,
		MaxBatchAge:   a.Config.Pipeline.MaxBatchAge,
		QueueCapacity: a.Config.Pipeline.QueueCapacity,
	}, sink, emitter, a.Logger)

	centrifugo := forwarder.NewCentrifugo(forwarder.Options{
		APIURL:  a.Config.Forwarder.APIURL,
		APIKey:  a.Config.Forwarder.APIKey,
		Timeout: a.Config.Forwarder.RequestTimeout,
	}, a.Logger)
	dispatcher := pipeline.NewDispatcher(centrifugo, a.Config.Pipeline.ForwardQueueSize, a.Logger)

	tickParser := parser.New(a.Config.Source.ChannelExchanges)

	svc := service.New(subscription, tickParser, buffer, dispatcher, a.Config.Pipeline.ShutdownGrace, a.Logger)

	a.Logger.Info().Msg("starting ingestion pipeline")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("pipeline terminated with error")
		return err
	}

	a.Logger.Info().Msg("ingestion pipeline stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
