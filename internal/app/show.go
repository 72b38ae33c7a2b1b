package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent ticks.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	ticks, err := store.ListRecentTicks(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		fmt.Fprintln(os.Stdout, "no ticks found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tExchange\tPrice")

	for _, tick := range ticks {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			tick.Timestamp.UTC().Format(time.RFC3339),
			tick.Symbol,
			tick.Exchange,
			tick.Price.StringFixed(2),
		)
	}

	writer.Flush()
	return nil
}
