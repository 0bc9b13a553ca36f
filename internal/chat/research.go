package chat

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
)

// ErrResearchUnavailable is returned when no Researcher is configured.
var ErrResearchUnavailable = errors.New("research unavailable")

// Research statuses.
const (
	ResearchSuccess     = "success"
	ResearchNoResults   = "no_results"
	ResearchUnavailable = "unavailable"
)

// ResearchUnavailableText is shown when live web research could not run.
const ResearchUnavailableText = "Live web research is unavailable right now, so this answer uses dashboard data only."

// maxFindingText bounds the excerpt kept per finding.
const maxFindingText = 500

// Finding is one web search result.
type Finding struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	URL       string    `json:"url"`
	Published time.Time `json:"published,omitzero"`
	Source    string    `json:"source,omitempty"`
	Score     float64   `json:"relevanceScore"`
	Query     string    `json:"searchQuery"`
}

// Researcher searches the web.
type Researcher interface {
	Search(ctx context.Context, query string, limit int) ([]Finding, error)
}

// Report is the result of Assistant.Research.
type Report struct {
	Query     string    `json:"query"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Findings  []Finding `json:"findings"`
	Analysis  Reply     `json:"analysis"`
	SessionID string    `json:"sessionId"`
	Time      time.Time `json:"timestamp"`
}

// ResearchQueries expands a question into the web searches run for it.
func ResearchQueries(query string) []string {
	return []string{
		query + " stock analysis financial news",
		query + " market outlook investment research",
	}
}

// Gather runs every research query and merges the findings: duplicate URLs
// are dropped, the rest sorted by score. It fails only if every query fails.
func Gather(ctx context.Context, r Researcher, query string, limit int, log *slog.Logger) ([]Finding, error) {
	if r == nil {
		return nil, ErrResearchUnavailable
	}
	var (
		out  []Finding
		errs []error
		seen = make(map[string]bool)
	)
	queries := ResearchQueries(query)
	for _, q := range queries {
		found, err := r.Search(ctx, q, limit)
		if err != nil {
			log.Warn("research search failed", "query", q, "error", err)
			errs = append(errs, err)
			continue
		}
		for _, f := range found {
			key := f.URL
			if key == "" {
				key = strings.ToLower(f.Title)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			f.Query = q
			f.Content = excerpt(f.Content)
			out = append(out, f)
		}
	}
	if len(errs) == len(queries) {
		return nil, fmt.Errorf("research: %w", errors.Join(errs...))
	}
	slices.SortStableFunc(out, func(a, b Finding) int { return cmp.Compare(b.Score, a.Score) })
	return out, nil
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxFindingText {
		return string(r[:maxFindingText]) + "..."
	}
	return s
}

// ---------------------------------------------------------------------------
// Exa
// ---------------------------------------------------------------------------

// Exa is a Researcher backed by the Exa search API:
//
//	POST {BaseURL}/search  {"query": "...", "numResults": n, "contents": {"text": {"maxCharacters": 500}}}
type Exa struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

var _ Researcher = (*Exa)(nil)

// NewExa creates an Exa client. An empty baseURL uses the public API.
func NewExa(apiKey, baseURL string) *Exa {
	if baseURL == "" {
		baseURL = "https://api.exa.ai"
	}
	return &Exa{
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
	}
}

type exaRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
	Contents   struct {
		Text struct {
			MaxCharacters int `json:"maxCharacters"`
		} `json:"text"`
	} `json:"contents"`
}

type exaResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		PublishedDate string  `json:"publishedDate"`
		Author        string  `json:"author"`
		Score         float64 `json:"score"`
		Text          string  `json:"text"`
	} `json:"results"`
}

// Search implements Researcher.
func (e *Exa) Search(ctx context.Context, query string, limit int) ([]Finding, error) {
	if limit <= 0 {
		limit = 3
	}
	body := exaRequest{Query: query, NumResults: limit}
	body.Contents.Text.MaxCharacters = maxFindingText
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding search: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/search", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", e.APIKey)

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exa search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("exa search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var er exaResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decoding exa results: %w", err)
	}
	out := make([]Finding, 0, len(er.Results))
	for _, r := range er.Results {
		f := Finding{Title: r.Title, Content: r.Text, URL: r.URL, Source: r.Author, Score: r.Score}
		if t, err := time.Parse(time.RFC3339Nano, r.PublishedDate); err == nil {
			f.Published = t
		}
		if f.Source == "" {
			f.Source = hostOf(r.URL)
		}
		out = append(out, f)
	}
	return out, nil
}

func hostOf(u string) string {
	u = strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	host, _, _ := strings.Cut(u, "/")
	return strings.TrimPrefix(host, "www.")
}

// FindingsText renders findings as a short bulleted list.
func FindingsText(fs []Finding) string {
	var b strings.Builder
	b.WriteString("Here's what I found in recent coverage:\n")
	for _, f := range fs {
		fmt.Fprintf(&b, "\n• %s", f.Title)
		if f.Source != "" {
			fmt.Fprintf(&b, " (%s)", f.Source)
		}
	}
	return b.String()
}
