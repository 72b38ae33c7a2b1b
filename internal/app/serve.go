package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"tickflow/internal/api"
)

// Serve runs the historical query API.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	server := api.NewServer(a.Config.API, store, store, a.Logger)

	err = server.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("query api terminated with error")
		return err
	}

	a.Logger.Info().Msg("query api stopped")
	return nil
}
