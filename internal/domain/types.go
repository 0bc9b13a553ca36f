// Package domain defines the core types shared across stockdesk: watched
// symbols, derived watchlist entries, daily bars and news articles.
package domain

import "time"

// DataState describes how trustworthy the data behind a WatchlistEntry is.
type DataState string

const (
	// DataFresh means the price came from the market data gateway.
	DataFresh DataState = "fresh"
	// DataStale means the gateway answered, but with a quote older than the
	// staleness threshold while the market was open.
	DataStale DataState = "stale"
	// DataFallback means the gateway answered without a usable price and
	// the displayed values were synthesized.
	DataFallback DataState = "fallback"
	// DataFailed means the gateway request failed or timed out and the
	// displayed values were synthesized.
	DataFailed DataState = "failed"
)

// Synthesized reports whether the entry's price is a placeholder.
func (s DataState) Synthesized() bool {
	return s == DataFallback || s == DataFailed
}

// WatchedSymbol is one persisted watchlist member. Identity is the
// uppercase Symbol.
type WatchedSymbol struct {
	Symbol      string    `json:"symbol"`
	DisplayName string    `json:"name"`
	AddedAt     time.Time `json:"addedAt"`
}

// WatchlistEntry is the derived, UI-facing row for a watched symbol. It is
// rebuilt on every synchronization cycle and never persisted.
type WatchlistEntry struct {
	Symbol        string    `json:"symbol"`
	DisplayName   string    `json:"name"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Sparkline     []float64 `json:"sparkline"`
	LastUpdated   time.Time `json:"lastUpdated"`
	State         DataState `json:"dataState"`
	Error         string    `json:"error,omitempty"`
}

// Bar is a single daily OHLCV bar used for price charts.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"tradeCount,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// Article is a single news item for a symbol.
type Article struct {
	Symbol   string    `json:"symbol"`
	Time     time.Time `json:"time"`
	Source   string    `json:"source"`
	Headline string    `json:"headline"`
	Content  string    `json:"content,omitempty"`
	URL      string    `json:"url,omitempty"`
}
