package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stockdesk/internal/domain"
	"stockdesk/internal/util"
)

// marketDataClient is the subset of *marketdata.Client used here.
type marketDataClient interface {
	GetSnapshot(symbol string, req marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// tradingClient is the subset of *alpacaapi.Client used here.
type tradingClient interface {
	GetAsset(symbol string) (*alpacaapi.Asset, error)
	GetAssets(req alpacaapi.GetAssetsRequest) ([]alpacaapi.Asset, error)
}

// AlpacaOptions configures an Alpaca gateway.
type AlpacaOptions struct {
	APIKey          string
	APISecret       string
	BaseURL         string // trading API, for assets
	DataURL         string // market data API
	Feed            string // "iex" or "sip"; empty uses the account default
	RateLimitPerMin int
	Log             *slog.Logger
}

// Alpaca is a Gateway, Searcher and BarSource backed by the Alpaca APIs.
// The SDK calls are not context-aware; the rate limiter honours ctx and the
// watchlist synchronizer bounds each call with its own timeout.
type Alpaca struct {
	md      marketDataClient
	trading tradingClient
	feed    marketdata.Feed
	limiter *util.RateLimiter
	log     *slog.Logger

	names sync.Map // symbol -> display name

	assetsMu sync.Mutex
	assets   []Asset
}

var (
	_ Gateway   = (*Alpaca)(nil)
	_ Searcher  = (*Alpaca)(nil)
	_ BarSource = (*Alpaca)(nil)
)

// NewAlpaca creates an Alpaca gateway from credentials.
func NewAlpaca(opts AlpacaOptions) *Alpaca {
	mdOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		mdOpts.BaseURL = opts.DataURL
	}
	trOpts := alpacaapi.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.BaseURL != "" {
		trOpts.BaseURL = opts.BaseURL
	}
	return newAlpaca(marketdata.NewClient(mdOpts), alpacaapi.NewClient(trOpts), opts)
}

func newAlpaca(md marketDataClient, trading tradingClient, opts AlpacaOptions) *Alpaca {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	var limiter *util.RateLimiter
	if opts.RateLimitPerMin > 0 {
		limiter = util.NewRateLimiter(opts.RateLimitPerMin, 10)
	}
	return &Alpaca{
		md:      md,
		trading: trading,
		feed:    marketdata.Feed(opts.Feed),
		limiter: limiter,
		log:     log.With("gateway", "alpaca"),
	}
}

// Snapshot returns the latest trade price and the change against the
// previous daily close.
func (g *Alpaca) Snapshot(ctx context.Context, symbol string) (*Quote, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, unavailable(symbol, err)
	}
	snap, err := g.md.GetSnapshot(symbol, marketdata.GetSnapshotRequest{Feed: g.feed})
	if err != nil {
		return nil, unavailable(symbol, err)
	}
	if snap == nil {
		return nil, unavailable(symbol, errors.New("empty snapshot"))
	}

	q := quoteFromSnapshot(symbol, snap)
	q.DisplayName = g.displayName(ctx, symbol)
	return q, nil
}

// quoteFromSnapshot maps an Alpaca snapshot onto a Quote. Price comes from
// the latest trade, falling back to the current daily bar's close.
func quoteFromSnapshot(symbol string, snap *marketdata.Snapshot) *Quote {
	q := &Quote{Symbol: symbol}

	switch {
	case snap.LatestTrade != nil && snap.LatestTrade.Price > 0:
		p := snap.LatestTrade.Price
		q.Price = &p
		q.AsOf = snap.LatestTrade.Timestamp
	case snap.DailyBar != nil && snap.DailyBar.Close > 0:
		p := snap.DailyBar.Close
		q.Price = &p
		q.AsOf = snap.DailyBar.Timestamp
	}

	if q.Price != nil && snap.PrevDailyBar != nil && snap.PrevDailyBar.Close > 0 {
		prev := snap.PrevDailyBar.Close
		change := round2(*q.Price - prev)
		pct := round2((*q.Price - prev) / prev * 100)
		q.Change = &change
		q.ChangePercent = &pct
	}
	return q
}

// displayName returns the cached asset name for symbol, fetching it on
// first use. Failures are not cached and return "".
func (g *Alpaca) displayName(ctx context.Context, symbol string) string {
	if v, ok := g.names.Load(symbol); ok {
		return v.(string)
	}
	if g.trading == nil {
		return ""
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return ""
	}
	asset, err := g.trading.GetAsset(symbol)
	if err != nil || asset == nil {
		g.log.Debug("asset lookup failed", "symbol", symbol, "error", err)
		return ""
	}
	g.names.Store(symbol, asset.Name)
	return asset.Name
}

// Search matches query against the active US equity catalogue, which is
// loaded once on first use.
func (g *Alpaca) Search(ctx context.Context, query string, limit int) ([]Asset, error) {
	assets, err := g.loadAssets(ctx)
	if err != nil {
		return nil, err
	}
	return rankAssets(assets, query, limit), nil
}

func (g *Alpaca) loadAssets(ctx context.Context) ([]Asset, error) {
	g.assetsMu.Lock()
	defer g.assetsMu.Unlock()
	if g.assets != nil {
		return g.assets, nil
	}
	if g.trading == nil {
		return nil, fmt.Errorf("%w: no trading client", ErrUnavailable)
	}

	var raw []alpacaapi.Asset
	err := util.Retry(ctx, 3, 500*time.Millisecond, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		raw, err = g.trading.GetAssets(alpacaapi.GetAssetsRequest{
			Status:     "active",
			AssetClass: "us_equity",
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing assets: %v", ErrUnavailable, err)
	}

	assets := make([]Asset, 0, len(raw))
	for _, a := range raw {
		if !a.Tradable {
			continue
		}
		assets = append(assets, Asset{
			Symbol:   strings.ToUpper(a.Symbol),
			Name:     a.Name,
			Exchange: string(a.Exchange),
		})
	}
	g.assets = assets
	g.log.Info("loaded asset catalogue", "assets", len(assets))
	return assets, nil
}

// DailyBars returns daily bars for symbol within [start, end].
func (g *Alpaca) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, unavailable(symbol, err)
	}
	raw, err := g.md.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      g.feed,
	})
	if err != nil {
		return nil, unavailable(symbol, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
