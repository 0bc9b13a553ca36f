// Package history serves daily bars for price charts. Bars come from the
// parquet cache when it is current, otherwise from the bar source (and are
// written back), otherwise from a deterministic synthetic series.
package history

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"stockdesk/internal/domain"
	"stockdesk/internal/gateway"
	"stockdesk/internal/store"
	"stockdesk/internal/util"
	"stockdesk/internal/watchlist"
)

// Day limits for Daily.
const (
	DefaultDays = 30
	MaxDays     = 365
)

// Where a Series came from.
const (
	SourceCache     = "cache"
	SourceMarket    = "market"
	SourceSynthetic = "synthetic"
)

// Series is the chart payload for one symbol.
type Series struct {
	Symbol string       `json:"symbol"`
	Source string       `json:"source"`
	Bars   []domain.Bar `json:"bars"`
}

// Service resolves daily bar history.
type Service struct {
	cache  *store.ParquetStore
	source gateway.BarSource // nil when no market data is configured
	cal    *util.TradingCalendar
	log    *slog.Logger
	now    func() time.Time
}

// New creates a Service. source may be nil.
func New(cache *store.ParquetStore, source gateway.BarSource, log *slog.Logger) *Service {
	return &Service{
		cache:  cache,
		source: source,
		cal:    util.NewTradingCalendar(),
		log:    log.With("component", "history"),
		now:    time.Now,
	}
}

// Daily returns up to days calendar days of daily bars ending now.
func (s *Service) Daily(ctx context.Context, symbol string, days int) (Series, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case days <= 0:
		days = DefaultDays
	case days > MaxDays:
		days = MaxDays
	}
	end := s.now()
	start := end.AddDate(0, 0, -days)

	cached, err := s.cache.ReadBars(ctx, symbol, start, end)
	if err != nil {
		s.log.Warn("reading bar cache", "symbol", symbol, "error", err)
	}
	if len(cached) > 0 && s.current(cached[len(cached)-1], end) {
		return Series{Symbol: symbol, Source: SourceCache, Bars: cached}, nil
	}

	if s.source != nil {
		bars, err := s.source.DailyBars(ctx, symbol, start, end)
		switch {
		case err != nil:
			s.log.Warn("fetching daily bars", "symbol", symbol, "error", err)
		case len(bars) > 0:
			if err := s.cache.WriteBars(ctx, bars); err != nil {
				s.log.Warn("writing bar cache", "symbol", symbol, "error", err)
			}
			return Series{Symbol: symbol, Source: SourceMarket, Bars: bars}, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return Series{}, err
	}

	if len(cached) > 0 {
		return Series{Symbol: symbol, Source: SourceCache, Bars: cached}, nil
	}
	return Series{Symbol: symbol, Source: SourceSynthetic, Bars: s.synthesize(symbol, start, end)}, nil
}

// current reports whether newest covers the last completed session.
func (s *Service) current(newest domain.Bar, now time.Time) bool {
	loc := s.cal.Location()
	b := newest.Timestamp.In(loc)
	return !dateOf(b, loc).Before(lastSession(now, loc))
}

// lastSession is the date of the most recent weekday session that has closed.
func lastSession(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	d := dateOf(t, loc)
	if !(weekday(d) && t.Hour() >= 16) {
		d = d.AddDate(0, 0, -1)
	}
	for !weekday(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func weekday(d time.Time) bool {
	return d.Weekday() != time.Saturday && d.Weekday() != time.Sunday
}

// synthesize builds one bar per weekday in [start, end] whose closes follow
// the watchlist sparkline walk ending at the synthetic quote.
func (s *Service) synthesize(symbol string, start, end time.Time) []domain.Bar {
	loc := s.cal.Location()
	var dates []time.Time
	for d := dateOf(start.In(loc), loc); !d.After(end); d = d.AddDate(0, 0, 1) {
		if weekday(d) {
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		return []domain.Bar{}
	}

	last, _, _ := watchlist.SynthesizeQuote(symbol)
	closes := watchlist.Sparkline(symbol, last, len(dates))

	bars := make([]domain.Bar, len(dates))
	prev := closes[0]
	for i, d := range dates {
		c := closes[i]
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: d.UTC(),
			Open:      prev,
			High:      round2(max(prev, c) * 1.005),
			Low:       round2(min(prev, c) * 0.995),
			Close:     c,
		}
		prev = c
	}
	return bars
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
