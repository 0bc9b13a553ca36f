package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"stockdesk/internal/domain"
)

// ArticleRecord is the Parquet schema for archived news.
type ArticleRecord struct {
	Symbol   string `parquet:"symbol"`
	Time     int64  `parquet:"time,timestamp(millisecond)"` // Unix ms
	Source   string `parquet:"source"`
	Headline string `parquet:"headline"`
	Content  string `parquet:"content"`
	URL      string `parquet:"url"`
}

// NewsArchive stores articles as one Parquet file per UTC day:
//
//	<DataDir>/news/<YYYY-MM-DD>.parquet
type NewsArchive struct {
	DataDir string
}

// NewNewsArchive creates a NewsArchive rooted at dataDir.
func NewNewsArchive(dataDir string) *NewsArchive {
	return &NewsArchive{DataDir: dataDir}
}

// Write merges articles into their day files. Articles are deduplicated by
// symbol and headline.
func (a *NewsArchive) Write(_ context.Context, articles []domain.Article) error {
	groups := make(map[string][]ArticleRecord)
	for _, art := range articles {
		date := art.Time.UTC().Format("2006-01-02")
		groups[date] = append(groups[date], ArticleRecord{
			Symbol:   strings.ToUpper(art.Symbol),
			Time:     art.Time.UnixMilli(),
			Source:   art.Source,
			Headline: art.Headline,
			Content:  art.Content,
			URL:      art.URL,
		})
	}

	for date, records := range groups {
		path := a.path(date)
		existing, _ := readParquetFile[ArticleRecord](path)
		if err := writeParquetFile(path, mergeArticleRecords(existing, records)); err != nil {
			return fmt.Errorf("writing news for %s: %w", date, err)
		}
	}
	return nil
}

// Read returns the archived articles for symbol on the given UTC day,
// newest first. An empty symbol returns every article of the day.
func (a *NewsArchive) Read(_ context.Context, symbol string, day time.Time) ([]domain.Article, error) {
	records, err := readParquetFile[ArticleRecord](a.path(day.UTC().Format("2006-01-02")))
	if err != nil {
		// Nothing archived for this day.
		return nil, nil
	}

	symbol = strings.ToUpper(symbol)
	var out []domain.Article
	for _, r := range records {
		if symbol != "" && r.Symbol != symbol {
			continue
		}
		out = append(out, domain.Article{
			Symbol:   r.Symbol,
			Time:     time.UnixMilli(r.Time).UTC(),
			Source:   r.Source,
			Headline: r.Headline,
			Content:  r.Content,
			URL:      r.URL,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out, nil
}

func (a *NewsArchive) path(date string) string {
	return filepath.Join(a.DataDir, "news", date+".parquet")
}

// mergeArticleRecords deduplicates by (symbol, headline), preferring
// incoming records. Results are sorted by time.
func mergeArticleRecords(existing, incoming []ArticleRecord) []ArticleRecord {
	type key struct {
		symbol   string
		headline string
	}
	seen := make(map[key]ArticleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Headline}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Headline}] = r
	}

	merged := make([]ArticleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Time != merged[j].Time {
			return merged[i].Time < merged[j].Time
		}
		return merged[i].Headline < merged[j].Headline
	})
	return merged
}
