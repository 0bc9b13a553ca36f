package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"stockdesk/internal/api"
	"stockdesk/internal/chat"
	"stockdesk/internal/config"
	"stockdesk/internal/gateway"
	"stockdesk/internal/history"
	"stockdesk/internal/httpapi"
	"stockdesk/internal/mirror"
	"stockdesk/internal/news"
	"stockdesk/internal/prefs"
	"stockdesk/internal/store"
	"stockdesk/internal/symbols"
	"stockdesk/internal/util"
	"stockdesk/internal/watchlist"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("loading .env: %v", err)
	}

	cfgPath := "config/stockdesk.yaml"
	if p := os.Getenv("STOCKDESK_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("stockdesk-server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	kv, err := store.OpenKV(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Storage.Backend, err)
	}
	defer kv.Close()

	defaults := make([]symbols.Default, 0, len(cfg.Watchlist.Defaults))
	for _, d := range cfg.Watchlist.Defaults {
		defaults = append(defaults, symbols.Default{Symbol: d.Symbol, Name: d.Name})
	}
	list, err := symbols.Open(ctx, kv, symbols.Options{Defaults: defaults, Log: logger})
	if err != nil {
		return err
	}
	if _, err := list.InitializeDefaults(ctx); err != nil {
		return err
	}

	// -- Market data --
	var (
		gw       gateway.Gateway = gateway.Unavailable{}
		search   gateway.Searcher
		bars     gateway.BarSource
		gwName   = "none"
		provider = cfg.Gateway.Provider
	)
	if provider == "" && cfg.Alpaca.Configured() {
		provider = "alpaca"
	}
	switch provider {
	case "alpaca":
		a := gateway.NewAlpaca(gateway.AlpacaOptions{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			BaseURL:         cfg.Alpaca.BaseURL,
			DataURL:         cfg.Alpaca.DataURL,
			Feed:            cfg.Alpaca.Feed,
			RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
			Log:             logger,
		})
		gw, search, bars, gwName = a, a, a, "alpaca"
	case "http":
		gw, gwName = gateway.NewHTTP(cfg.Gateway.BaseURL), "http"
	case "", "none":
	default:
		return fmt.Errorf("unknown gateway provider %q", provider)
	}
	logger.Info("market data gateway", "provider", gwName)

	var mir *mirror.Mirror
	if cfg.Alpaca.Configured() {
		trOpts := alpacaapi.ClientOpts{APIKey: cfg.Alpaca.APIKey, APISecret: cfg.Alpaca.APISecret}
		if cfg.Alpaca.BaseURL != "" {
			trOpts.BaseURL = cfg.Alpaca.BaseURL
		}
		mir = mirror.New(alpacaapi.NewClient(trOpts), cfg.Alpaca.MirrorName, logger)
	}

	// -- Watchlist --
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	calendar := util.NewTradingCalendar()
	syncOpts := watchlist.Options{
		Interval:     cfg.Watchlist.RefreshInterval,
		FetchTimeout: cfg.Watchlist.FetchTimeout,
		StaleAfter:   cfg.Watchlist.StaleAfter,
		Calendar:     calendar,
		Metrics:      watchlist.NewMetrics(reg),
		Log:          logger,
	}
	// A nil *Mirror in the interface would not compare equal to nil.
	if mir != nil {
		syncOpts.Mirror = mir
	}
	syncer := watchlist.New(list, gw, syncOpts)

	// -- History and news --
	hist := history.New(store.NewParquetStore(cfg.Storage.DataDir), bars, logger)

	newsOpts := news.Options{Log: logger}
	if cfg.Alpaca.Configured() {
		mdOpts := marketdata.ClientOpts{APIKey: cfg.Alpaca.APIKey, APISecret: cfg.Alpaca.APISecret}
		if cfg.Alpaca.DataURL != "" {
			mdOpts.BaseURL = cfg.Alpaca.DataURL
		}
		newsOpts.Alpaca = marketdata.NewClient(mdOpts)
	}

	p, err := prefs.Open(ctx, kv, logger)
	if err != nil {
		return err
	}

	// -- Chat --
	var responder chat.Responder = chat.Scripted{}
	chatName := "scripted"
	if cfg.Chat.Responder == "gemini" {
		if cfg.Chat.APIKey == "" {
			logger.Warn("gemini responder selected without GOOGLE_API_KEY, using scripted replies")
		} else {
			g, err := chat.NewGemini(ctx, cfg.Chat.APIKey, cfg.Chat.Model, logger)
			if err != nil {
				logger.Warn("gemini unavailable, using scripted replies", "error", err)
			} else {
				responder, chatName = g, "gemini"
			}
		}
	}

	assistant := chat.NewAssistant(responder, chat.NewMemory(), logger)
	if cfg.Chat.ResearchAPIKey != "" {
		assistant.WithResearcher(chat.NewExa(cfg.Chat.ResearchAPIKey, cfg.Chat.ResearchURL))
	} else {
		logger.Info("EXA_API_KEY not set, web research disabled")
	}

	rest := httpapi.NewServer(httpapi.Options{
		Watchlist:   syncer,
		Search:      search,
		History:     hist,
		News:        news.NewFetcher(newsOpts),
		Archive:     store.NewNewsArchive(cfg.Storage.DataDir),
		Prefs:       p,
		Assistant:   assistant,
		Calendar:    calendar,
		Log:         logger,
		GatewayName: gwName,
		ChatName:    chatName,
		Mirror:      mir != nil,
	})

	grpcAddr := ""
	if cfg.Server.GRPCPort > 0 {
		grpcAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	}
	srv := api.NewServer(api.Options{
		HTTPAddr:  fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		GRPCAddr:  grpcAddr,
		REST:      rest,
		Watchlist: syncer,
		Prefs:     p,
		Gatherer:  reg,
		Log:       logger,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := syncer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("watchlist synchronizer", "error", err)
		}
	}()
	if mir != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mir.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("alpaca watchlist mirror", "error", err)
			}
		}()
	}

	logger.Info("stockdesk-server starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "grpc", grpcAddr)
	err = srv.ListenAndServe(ctx)
	cancel()
	wg.Wait()
	logger.Info("stockdesk-server stopped")
	return err
}
