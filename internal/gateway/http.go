package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTP is a Gateway backed by a generic JSON quote endpoint:
//
//	GET {BaseURL}/quote/{SYMBOL}
//	{"price": 1.0, "change": 0.1, "changePercent": 0.5, "displayName": "...", "asOf": "RFC3339"}
//
// Every field is optional. A field that is missing or cannot be parsed is
// treated as absent; only a body that is not a JSON object is an error.
type HTTP struct {
	BaseURL    string
	HTTPClient *http.Client
}

var _ Gateway = (*HTTP)(nil)

// NewHTTP creates an HTTP gateway for baseURL.
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// quoteResponse holds the raw fields so that one malformed value does not
// discard the others.
type quoteResponse struct {
	Price         json.RawMessage `json:"price"`
	Change        json.RawMessage `json:"change"`
	ChangePercent json.RawMessage `json:"changePercent"`
	DisplayName   json.RawMessage `json:"displayName"`
	AsOf          json.RawMessage `json:"asOf"`
}

// rawFloat parses a JSON number or numeric string. Anything else is nil.
func rawFloat(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return &v
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// rawTime parses an RFC 3339 timestamp. Anything else is the zero time.
func rawTime(raw json.RawMessage) time.Time {
	t, err := time.Parse(time.RFC3339Nano, rawString(raw))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Snapshot fetches the quote for symbol.
func (g *HTTP) Snapshot(ctx context.Context, symbol string) (*Quote, error) {
	u := g.BaseURL + "/quote/" + url.PathEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, unavailable(symbol, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, unavailable(symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, unavailable(symbol, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, unavailable(symbol, fmt.Errorf("decoding quote: %w", err))
	}

	return &Quote{
		Symbol:        symbol,
		Price:         rawFloat(qr.Price),
		Change:        rawFloat(qr.Change),
		ChangePercent: rawFloat(qr.ChangePercent),
		DisplayName:   rawString(qr.DisplayName),
		AsOf:          rawTime(qr.AsOf),
	}, nil
}
