// Package stockdesk is a Go SDK for the stockdesk-server REST API.
package stockdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stockdesk/internal/chat"
	"stockdesk/internal/history"
	"stockdesk/internal/httpapi"
	"stockdesk/internal/prefs"
)

var (
	// ErrConflict is returned when adding a symbol that is already watched.
	ErrConflict = errors.New("already on the watchlist")
	// ErrNotFound is returned when removing a symbol that is not watched.
	ErrNotFound = errors.New("not on the watchlist")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stockdesk: %d %s", e.StatusCode, e.Message)
}

// Is maps 404 and 409 onto ErrNotFound and ErrConflict.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Client provides a Go SDK for interacting with the stockdesk-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new stockdesk API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Health retrieves the server status.
func (c *Client) Health(ctx context.Context) (httpapi.HealthResponse, error) {
	var out httpapi.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Watchlist retrieves the published watchlist view.
func (c *Client) Watchlist(ctx context.Context) (httpapi.WatchlistResponse, error) {
	var out httpapi.WatchlistResponse
	err := c.do(ctx, http.MethodGet, "/api/watchlist", nil, &out)
	return out, err
}

// Add puts symbol on the watchlist. name may be empty.
func (c *Client) Add(ctx context.Context, symbol, name string) (httpapi.AddResponse, error) {
	var out httpapi.AddResponse
	err := c.do(ctx, http.MethodPut, "/api/watchlist/"+url.PathEscape(symbol), httpapi.AddRequest{Name: name}, &out)
	return out, err
}

// Remove takes symbol off the watchlist.
func (c *Client) Remove(ctx context.Context, symbol string) error {
	return c.do(ctx, http.MethodDelete, "/api/watchlist/"+url.PathEscape(symbol), nil, nil)
}

// Refresh asks the server to start a fetch cycle. It reports whether a new
// cycle started.
func (c *Client) Refresh(ctx context.Context) (bool, error) {
	var out httpapi.RefreshResponse
	err := c.do(ctx, http.MethodPost, "/api/watchlist/refresh", nil, &out)
	return out.Started, err
}

// Search looks up assets by symbol or name.
func (c *Client) Search(ctx context.Context, query string) (httpapi.SearchResponse, error) {
	var out httpapi.SearchResponse
	err := c.do(ctx, http.MethodGet, "/api/search?q="+url.QueryEscape(query), nil, &out)
	return out, err
}

// History retrieves up to days daily bars. days <= 0 uses the server
// default.
func (c *Client) History(ctx context.Context, symbol string, days int) (history.Series, error) {
	path := "/api/history/" + url.PathEscape(symbol)
	if days > 0 {
		path += "?days=" + strconv.Itoa(days)
	}
	var out history.Series
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// News retrieves a symbol's articles for one UTC day. The zero day means
// today.
func (c *Client) News(ctx context.Context, symbol string, day time.Time) (httpapi.NewsResponse, error) {
	path := "/api/news/" + url.PathEscape(symbol)
	if !day.IsZero() {
		path += "?date=" + day.UTC().Format("2006-01-02")
	}
	var out httpapi.NewsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Preferences retrieves the stored dashboard preferences.
func (c *Client) Preferences(ctx context.Context) (prefs.Preferences, error) {
	var out prefs.Preferences
	err := c.do(ctx, http.MethodGet, "/api/preferences", nil, &out)
	return out, err
}

// Select sets the selected symbol; "" clears it.
func (c *Client) Select(ctx context.Context, symbol string) (prefs.Preferences, error) {
	var out prefs.Preferences
	err := c.do(ctx, http.MethodPut, "/api/preferences/selected", httpapi.SelectRequest{Symbol: symbol}, &out)
	return out, err
}

// Chat sends one message to the assistant.
func (c *Client) Chat(ctx context.Context, req chat.Request) (chat.Reply, error) {
	var out chat.Reply
	err := c.do(ctx, http.MethodPost, "/api/chat", req, &out)
	return out, err
}

// Research asks the assistant to answer with live web research.
func (c *Client) Research(ctx context.Context, req chat.Request) (chat.Report, error) {
	var out chat.Report
	err := c.do(ctx, http.MethodPost, "/api/research", req, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
