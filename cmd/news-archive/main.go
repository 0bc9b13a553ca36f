// One-shot tool: archive news for every watched symbol.
//
// For each of the last -days UTC days, fetches news from Alpaca (when
// credentials are configured), Google News RSS and GlobeNewswire RSS for
// each symbol on the watchlist and merges it into the daily parquet
// archive served by /api/news.
//
// Usage:
//
//	go build -o bin/news-archive ./cmd/news-archive/
//	bin/news-archive [-days 3] [-symbols AAPL,MSFT]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/joho/godotenv"

	"stockdesk/internal/config"
	"stockdesk/internal/news"
	"stockdesk/internal/store"
	"stockdesk/internal/symbols"
	"stockdesk/internal/util"
)

func main() {
	days := flag.Int("days", 1, "number of UTC days to archive, ending today")
	only := flag.String("symbols", "", "comma-separated symbols (default: the watchlist)")
	flag.Parse()

	_ = godotenv.Load()

	cfgPath := "config/stockdesk.yaml"
	if p := os.Getenv("STOCKDESK_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var targets []string
	if *only != "" {
		for _, s := range strings.Split(*only, ",") {
			if s = symbols.Normalize(s); s != "" {
				targets = append(targets, s)
			}
		}
	} else {
		kv, err := store.OpenKV(ctx, cfg.Storage)
		if err != nil {
			log.Fatalf("opening store: %v", err)
		}
		list, err := symbols.Open(ctx, kv, symbols.Options{Log: logger})
		kv.Close()
		if err != nil {
			log.Fatalf("loading watchlist: %v", err)
		}
		for _, ws := range list.List() {
			targets = append(targets, ws.Symbol)
		}
	}
	if len(targets) == 0 {
		logger.Info("nothing to archive")
		return
	}

	opts := news.Options{Log: logger}
	if cfg.Alpaca.Configured() {
		mdOpts := marketdata.ClientOpts{APIKey: cfg.Alpaca.APIKey, APISecret: cfg.Alpaca.APISecret}
		if cfg.Alpaca.DataURL != "" {
			mdOpts.BaseURL = cfg.Alpaca.DataURL
		}
		opts.Alpaca = marketdata.NewClient(mdOpts)
	}
	fetcher := news.NewFetcher(opts)
	archive := store.NewNewsArchive(cfg.Storage.DataDir)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	total := 0
	for d := 0; d < *days; d++ {
		day := today.AddDate(0, 0, -d)
		for _, sym := range targets {
			if ctx.Err() != nil {
				logger.Info("interrupted", "archived", total)
				return
			}
			articles, err := fetcher.Fetch(ctx, sym, day, day.Add(24*time.Hour-time.Nanosecond))
			if err != nil {
				logger.Warn("fetching news", "symbol", sym, "date", day.Format("2006-01-02"), "error", err)
				continue
			}
			if err := archive.Write(ctx, articles); err != nil {
				log.Fatalf("writing archive: %v", err)
			}
			total += len(articles)
			logger.Info("archived", "symbol", sym, "date", day.Format("2006-01-02"), "articles", len(articles))
		}
	}
	logger.Info("done", "symbols", len(targets), "days", *days, "articles", total)
}
