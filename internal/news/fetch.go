// Package news fetches symbol news from Alpaca and RSS feeds (Google News,
// GlobeNewswire) and merges it into one newest-first list.
package news

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stockdesk/internal/domain"
)

// AlpacaNews is the subset of *marketdata.Client used here.
type AlpacaNews interface {
	GetNews(req marketdata.GetNewsRequest) ([]marketdata.News, error)
}

const (
	googleNewsURL = "https://news.google.com/rss/search"
	globeNewsURL  = "https://www.globenewswire.com/RssFeed/keyword/"
)

// Options configures a Fetcher. Zero values select the public endpoints.
type Options struct {
	Alpaca     AlpacaNews // nil disables Alpaca
	HTTPClient *http.Client
	GoogleURL  string
	GlobeURL   string
	Limit      int
	Log        *slog.Logger
}

// Fetcher merges articles from every configured source.
type Fetcher struct {
	alpaca    AlpacaNews
	client    *http.Client
	googleURL string
	globeURL  string
	limit     int
	log       *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts Options) *Fetcher {
	f := &Fetcher{
		alpaca:    opts.Alpaca,
		client:    opts.HTTPClient,
		googleURL: opts.GoogleURL,
		globeURL:  opts.GlobeURL,
		limit:     opts.Limit,
		log:       opts.Log,
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 10 * time.Second}
	}
	if f.googleURL == "" {
		f.googleURL = googleNewsURL
	}
	if f.globeURL == "" {
		f.globeURL = globeNewsURL
	}
	if f.limit <= 0 {
		f.limit = 50
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	f.log = f.log.With("component", "news")
	return f
}

// Fetch returns articles for symbol published in [start, end], deduplicated
// by headline and sorted newest first. It fails only when every source fails.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Article, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, errors.New("news: symbol is required")
	}

	type source struct {
		name  string
		fetch func() ([]domain.Article, error)
	}
	sources := []source{
		{"google", func() ([]domain.Article, error) { return f.google(ctx, symbol, start, end) }},
		{"globenewswire", func() ([]domain.Article, error) { return f.globe(ctx, symbol, start, end) }},
	}
	if f.alpaca != nil {
		sources = append([]source{{"alpaca", func() ([]domain.Article, error) { return f.alpacaNews(ctx, symbol, start, end) }}}, sources...)
	}

	var (
		all  []domain.Article
		errs []error
	)
	for _, src := range sources {
		articles, err := src.fetch()
		if err != nil {
			f.log.Warn("news source failed", "source", src.name, "symbol", symbol, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.name, err))
			continue
		}
		all = append(all, articles...)
	}
	if len(errs) == len(sources) {
		return nil, errors.Join(errs...)
	}
	return Merge(all), nil
}

// Merge drops repeated headlines (case-insensitive, first wins) and sorts
// newest first.
func Merge(articles []domain.Article) []domain.Article {
	seen := make(map[string]bool, len(articles))
	out := make([]domain.Article, 0, len(articles))
	for _, a := range articles {
		k := strings.ToLower(strings.Join(strings.Fields(a.Headline), " "))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out
}

// --- Alpaca ---

func (f *Fetcher) alpacaNews(ctx context.Context, symbol string, start, end time.Time) ([]domain.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := f.alpaca.GetNews(marketdata.GetNewsRequest{
		Symbols:            []string{symbol},
		Start:              start,
		End:                end,
		TotalLimit:         f.limit,
		IncludeContent:     true,
		ExcludeContentless: true,
		Sort:               marketdata.SortDesc,
	})
	if err != nil {
		return nil, err
	}

	articles := make([]domain.Article, 0, len(items))
	for _, a := range items {
		body := a.Summary
		if a.Content != "" {
			body = ExtractSymbolContent(a.Content, symbol)
		}
		articles = append(articles, domain.Article{
			Symbol:   symbol,
			Time:     a.CreatedAt,
			Source:   "alpaca",
			Headline: a.Headline,
			Content:  body,
			URL:      a.URL,
		})
	}
	return articles, nil
}

// --- RSS ---

type rssResponse struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
}

var rssDateLayouts = []string{time.RFC1123Z, time.RFC1123, "Mon, 02 Jan 2006 15:04 MST"}

func parseRSSDate(s string) (time.Time, bool) {
	for _, layout := range rssDateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (f *Fetcher) google(ctx context.Context, symbol string, start, end time.Time) ([]domain.Article, error) {
	u := f.googleURL + "?q=" + url.QueryEscape(symbol+" stock") + "&hl=en-US&gl=US&ceid=US:en"
	items, err := f.fetchRSS(ctx, u)
	if err != nil {
		return nil, err
	}
	var articles []domain.Article
	for _, item := range items {
		t, ok := parseRSSDate(item.PubDate)
		if !ok || t.Before(start) || t.After(end) {
			continue
		}
		// Google appends " - Publisher" to titles.
		headline := item.Title
		if idx := strings.LastIndex(headline, " - "); idx > 0 {
			headline = headline[:idx]
		}
		articles = append(articles, domain.Article{
			Symbol:   symbol,
			Time:     t,
			Source:   "google",
			Headline: headline,
			Content:  StripHTML(item.Desc),
			URL:      item.Link,
		})
	}
	return articles, nil
}

func (f *Fetcher) globe(ctx context.Context, symbol string, start, end time.Time) ([]domain.Article, error) {
	u := f.globeURL + url.PathEscape(symbol) + "/feedTitle/GlobeNewswire.xml"
	items, err := f.fetchRSS(ctx, u)
	if err != nil {
		return nil, err
	}
	var articles []domain.Article
	for _, item := range items {
		t, ok := parseRSSDate(item.PubDate)
		if !ok || t.Before(start) || t.After(end) {
			continue
		}
		articles = append(articles, domain.Article{
			Symbol:   symbol,
			Time:     t,
			Source:   "globenewswire",
			Headline: StripHTML(item.Title),
			Content:  StripHTML(item.Desc),
			URL:      item.Link,
		})
	}
	return articles, nil
}

func (f *Fetcher) fetchRSS(ctx context.Context, u string) ([]rssItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss status %d", resp.StatusCode)
	}

	var rss rssResponse
	if err := xml.NewDecoder(resp.Body).Decode(&rss); err != nil {
		return nil, fmt.Errorf("decoding rss: %w", err)
	}
	return rss.Channel.Items, nil
}

// --- HTML helpers ---

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)
var htmlParaRe = regexp.MustCompile(`(?i)</?(p|br|div|li|h[1-6])\b[^>]*>`)

// StripHTML removes HTML tags and normalizes whitespace.
func StripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// ExtractSymbolContent keeps the paragraphs that mention symbol, or the whole
// stripped text when none do.
func ExtractSymbolContent(rawHTML, symbol string) string {
	upper := strings.ToUpper(symbol)
	var matched []string
	for _, chunk := range htmlParaRe.Split(rawHTML, -1) {
		plain := StripHTML(chunk)
		if plain != "" && strings.Contains(strings.ToUpper(plain), upper) {
			matched = append(matched, plain)
		}
	}
	if len(matched) > 0 {
		return strings.Join(matched, " ")
	}
	return StripHTML(rawHTML)
}
