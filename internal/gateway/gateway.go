// Package gateway fetches best-effort market snapshots for single symbols.
// Implementations may be slow, may fail, and may return partial data; the
// watchlist synchronizer absorbs all of that.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"stockdesk/internal/domain"
)

// ErrUnavailable is wrapped by every error a Gateway returns.
var ErrUnavailable = errors.New("market data unavailable")

// Quote is a point-in-time snapshot for one symbol. Nil pointers mean the
// provider did not supply the field.
type Quote struct {
	Symbol        string
	Price         *float64
	Change        *float64
	ChangePercent *float64
	DisplayName   string
	// AsOf is the provider's timestamp for Price; zero if unknown.
	AsOf time.Time
}

// Gateway returns a snapshot for a symbol.
type Gateway interface {
	Snapshot(ctx context.Context, symbol string) (*Quote, error)
}

// Asset is a tradable instrument returned by symbol search.
type Asset struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange,omitempty"`
}

// Searcher finds assets by symbol or name prefix.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Asset, error)
}

// BarSource returns daily bars for a symbol within [start, end].
type BarSource interface {
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func unavailable(symbol string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, symbol, err)
}

// ---------------------------------------------------------------------------
// Unavailable
// ---------------------------------------------------------------------------

// Unavailable is the Gateway used when no provider is configured. Every
// snapshot fails, so the watchlist renders synthesized data.
type Unavailable struct{}

var _ Gateway = Unavailable{}

// Snapshot always fails.
func (Unavailable) Snapshot(_ context.Context, symbol string) (*Quote, error) {
	return nil, unavailable(symbol, errors.New("no market data provider configured"))
}

// ---------------------------------------------------------------------------
// Static search
// ---------------------------------------------------------------------------

// StaticSearch searches a fixed asset list. It backs symbol search when no
// provider with an asset catalogue is configured.
type StaticSearch []Asset

var _ Searcher = StaticSearch(nil)

// PopularAssets is a small catalogue of widely held US equities.
var PopularAssets = StaticSearch{
	{Symbol: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ"},
	{Symbol: "AMD", Name: "Advanced Micro Devices, Inc.", Exchange: "NASDAQ"},
	{Symbol: "AMZN", Name: "Amazon.com, Inc.", Exchange: "NASDAQ"},
	{Symbol: "BRK.B", Name: "Berkshire Hathaway Inc.", Exchange: "NYSE"},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Exchange: "NASDAQ"},
	{Symbol: "JPM", Name: "JPMorgan Chase & Co.", Exchange: "NYSE"},
	{Symbol: "META", Name: "Meta Platforms, Inc.", Exchange: "NASDAQ"},
	{Symbol: "MSFT", Name: "Microsoft Corporation", Exchange: "NASDAQ"},
	{Symbol: "NFLX", Name: "Netflix, Inc.", Exchange: "NASDAQ"},
	{Symbol: "NVDA", Name: "NVIDIA Corporation", Exchange: "NASDAQ"},
	{Symbol: "SPY", Name: "SPDR S&P 500 ETF Trust", Exchange: "ARCA"},
	{Symbol: "TSLA", Name: "Tesla, Inc.", Exchange: "NASDAQ"},
	{Symbol: "V", Name: "Visa Inc.", Exchange: "NYSE"},
	{Symbol: "XOM", Name: "Exxon Mobil Corporation", Exchange: "NYSE"},
}

// Search matches query against symbols and names.
func (s StaticSearch) Search(_ context.Context, query string, limit int) ([]Asset, error) {
	return rankAssets(s, query, limit), nil
}

// rankAssets returns assets matching query, best matches first: exact
// symbol, then symbol prefix, then name substring. Ties sort by symbol.
func rankAssets(assets []Asset, query string, limit int) []Asset {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}

	type scored struct {
		a     Asset
		score int
	}
	var hits []scored
	for _, a := range assets {
		sym := strings.ToUpper(a.Symbol)
		switch {
		case sym == q:
			hits = append(hits, scored{a, 0})
		case strings.HasPrefix(sym, q):
			hits = append(hits, scored{a, 1})
		case strings.Contains(strings.ToUpper(a.Name), q):
			hits = append(hits, scored{a, 2})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score < hits[j].score
		}
		return hits[i].a.Symbol < hits[j].a.Symbol
	})

	out := make([]Asset, 0, min(limit, len(hits)))
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.a)
	}
	return out
}
