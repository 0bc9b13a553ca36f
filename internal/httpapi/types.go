// Package httpapi provides the REST API for the stockdesk dashboard:
// watchlist, search, history, news, preferences and the chat assistant.
package httpapi

import (
	"time"

	"stockdesk/internal/domain"
	"stockdesk/internal/gateway"
)

// WatchlistResponse is the published watchlist view.
type WatchlistResponse struct {
	Generation uint64                  `json:"generation"`
	Entries    []domain.WatchlistEntry `json:"entries"`
	SettledAt  time.Time               `json:"settledAt"`
	// Pending is true while a change has not been published yet.
	Pending bool `json:"pending"`
}

// AddRequest is the optional body of PUT /api/watchlist/{symbol}.
type AddRequest struct {
	Name string `json:"name"`
}

// AddResponse acknowledges an added symbol.
type AddResponse struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// RefreshResponse reports whether a manual refresh started a new cycle.
type RefreshResponse struct {
	Started bool `json:"started"`
}

// SearchResponse lists matching assets.
type SearchResponse struct {
	Query   string          `json:"query"`
	Results []gateway.Asset `json:"results"`
}

// NewsResponse lists a symbol's articles for one UTC day.
type NewsResponse struct {
	Symbol   string           `json:"symbol"`
	Date     string           `json:"date"`
	Articles []domain.Article `json:"articles"`
}

// SelectRequest is the body of PUT /api/preferences/selected.
type SelectRequest struct {
	Symbol string `json:"symbol"`
}

// LayoutRequest is the body of PUT /api/preferences/layout/{key}.
type LayoutRequest struct {
	Value string `json:"value"`
}

// StreamFrame is one `data:` line of the chat stream.
type StreamFrame struct {
	Type      string   `json:"type"` // "status", "token", "done", "error"
	Content   string   `json:"content"`
	Done      bool     `json:"done"`
	Progress  float64  `json:"progress,omitempty"`
	NeedInfo  bool     `json:"need_info,omitempty"`
	Question  string   `json:"question,omitempty"`
	Questions []string `json:"questions,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// HealthResponse reports service status.
type HealthResponse struct {
	Status     string    `json:"status"`
	Symbols    int       `json:"symbols"`
	Generation uint64    `json:"generation"`
	Pending    bool      `json:"pending"`
	MarketOpen bool      `json:"marketOpen"`
	Gateway    string    `json:"gateway"`
	Chat       string    `json:"chat"`
	Mirror     bool      `json:"mirror"`
	Timestamp  time.Time `json:"timestamp"`
}
