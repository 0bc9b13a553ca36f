package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"stockdesk/internal/live"
	"stockdesk/internal/watchlist"
)

func main() {
	addr := "localhost:50051"
	if a := os.Getenv("STREAM_ADDR"); a != "" {
		addr = a
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	model := live.NewModel()
	client := live.NewClient(addr, model, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	id, views := model.Subscribe(4)
	defer model.Unsubscribe(id)

	// Start sync in background.
	go func() {
		if err := client.Sync(ctx); err != nil && ctx.Err() == nil {
			logger.Error("sync error", "error", err)
			cancel()
		}
	}()

	for {
		select {
		case v := <-views:
			printView(v)
		case <-ctx.Done():
			fmt.Println("\nshutdown")
			return
		}
	}
}

func printView(v watchlist.View) {
	// Clear screen and print header.
	fmt.Print("\033[H\033[2J")
	fmt.Printf("watchlist generation %d, settled %s\n\n", v.Generation, v.SettledAt.Local().Format(time.TimeOnly))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tNAME\tPRICE\tCHANGE\tSTATE\tUPDATED")
	for _, e := range v.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%+.2f%%\t%s\t%s\n",
			e.Symbol, e.DisplayName, humanize.CommafWithDigits(e.Price, 2),
			e.ChangePercent, e.State, humanize.Time(e.LastUpdated))
	}
	w.Flush()
}
