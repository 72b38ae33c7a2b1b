package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"tickflow/internal/generator"
	"tickflow/internal/source"
)

// Generate publishes random-walk ticks to the configured exchange channels.
func (a *App) Generate(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := source.NewClient(ctx, a.Config.Source)
	if err != nil {
		return err
	}
	defer client.Close()

	gen := generator.New(generator.Options{
		Interval: a.Config.Generator.Interval,
		MinMove:  a.Config.Generator.MinMove,
		MaxStep:  a.Config.Generator.MaxStep,
	}, source.NewPublisher(client), nil, a.Logger)

	err = gen.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
