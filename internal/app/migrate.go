package app

import (
	"context"
)

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return store.Migrate(ctx, a.Config.Database.MigrationsPath, a.Logger)
}
