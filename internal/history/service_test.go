package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockdesk/internal/domain"
	"stockdesk/internal/store"
	"stockdesk/internal/util"
	"stockdesk/internal/watchlist"
)

type fakeBars struct {
	bars  []domain.Bar
	err   error
	calls int
}

func (f *fakeBars) DailyBars(_ context.Context, _ string, _, _ time.Time) ([]domain.Bar, error) {
	f.calls++
	return f.bars, f.err
}

// Wednesday 2026-03-04 15:00 America/New_York, market open.
var wednesday = time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC)

func newService(t *testing.T, src *fakeBars) *Service {
	t.Helper()
	var s *Service
	if src == nil {
		s = New(store.NewParquetStore(t.TempDir()), nil, util.Discard())
	} else {
		s = New(store.NewParquetStore(t.TempDir()), src, util.Discard())
	}
	s.now = func() time.Time { return wednesday }
	return s
}

func etMidnight(y int, m time.Month, d int) time.Time {
	// EST (UTC-5) before the March DST switch.
	return time.Date(y, m, d, 5, 0, 0, 0, time.UTC)
}

func TestDailyFetchesThenCaches(t *testing.T) {
	src := &fakeBars{bars: []domain.Bar{
		{Symbol: "AAPL", Timestamp: etMidnight(2026, 3, 2), Close: 190},
		{Symbol: "AAPL", Timestamp: etMidnight(2026, 3, 3), Close: 192},
	}}
	s := newService(t, src)

	got, err := s.Daily(context.Background(), "aapl", 30)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if got.Source != SourceMarket || len(got.Bars) != 2 {
		t.Fatalf("first Daily = %s with %d bars, want market with 2", got.Source, len(got.Bars))
	}

	src.err = errors.New("should not be called")
	got, err = s.Daily(context.Background(), "AAPL", 30)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if got.Source != SourceCache || len(got.Bars) != 2 {
		t.Fatalf("second Daily = %s with %d bars, want cache with 2", got.Source, len(got.Bars))
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}
}

func TestDailyStaleCacheRefetches(t *testing.T) {
	src := &fakeBars{bars: []domain.Bar{{Symbol: "MSFT", Timestamp: etMidnight(2026, 2, 27), Close: 400}}}
	s := newService(t, src)
	if _, err := s.Daily(context.Background(), "MSFT", 30); err != nil {
		t.Fatalf("Daily: %v", err)
	}

	// Friday's bar does not cover Tuesday's session: refetch, and fall back
	// to the stale cache when the source fails.
	src.bars, src.err = nil, errors.New("rate limited")
	got, err := s.Daily(context.Background(), "MSFT", 30)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("source called %d times, want 2", src.calls)
	}
	if got.Source != SourceCache || len(got.Bars) != 1 {
		t.Errorf("Daily = %s with %d bars, want stale cache", got.Source, len(got.Bars))
	}
}

func TestDailySynthetic(t *testing.T) {
	s := newService(t, nil)
	got, err := s.Daily(context.Background(), "ZZZZ", 30)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if got.Source != SourceSynthetic {
		t.Fatalf("Source = %s, want synthetic", got.Source)
	}
	// Weekdays from Mon Feb 2 through Wed Mar 4.
	if len(got.Bars) != 23 {
		t.Fatalf("len(Bars) = %d, want 23", len(got.Bars))
	}
	price, _, _ := watchlist.SynthesizeQuote("ZZZZ")
	if last := got.Bars[len(got.Bars)-1].Close; last != price {
		t.Errorf("last close = %v, want synthetic quote %v", last, price)
	}
	for i, b := range got.Bars {
		if b.Low > b.Close || b.High < b.Close || b.Low > b.Open || b.High < b.Open {
			t.Errorf("bar %d has inconsistent OHLC %+v", i, b)
		}
		if wd := b.Timestamp.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("bar %d on a weekend: %v", i, b.Timestamp)
		}
	}

	again, _ := s.Daily(context.Background(), "ZZZZ", 30)
	if again.Bars[5] != got.Bars[5] {
		t.Error("synthetic series should be deterministic")
	}
}

func TestDailyClampsDays(t *testing.T) {
	s := newService(t, nil)
	got, _ := s.Daily(context.Background(), "ZZZZ", 10_000)
	if n := len(got.Bars); n > 262 {
		t.Errorf("len(Bars) = %d, want at most a year of weekdays", n)
	}
}

func TestLastSession(t *testing.T) {
	loc := util.NewTradingCalendar().Location()
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{wednesday, time.Date(2026, 3, 3, 0, 0, 0, 0, loc)},
		{time.Date(2026, 3, 4, 22, 0, 0, 0, time.UTC), time.Date(2026, 3, 4, 0, 0, 0, 0, loc)},
		{time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC), time.Date(2026, 3, 6, 0, 0, 0, 0, loc)},
		{time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC), time.Date(2026, 3, 6, 0, 0, 0, 0, loc)},
	}
	for _, c := range cases {
		if got := lastSession(c.now, loc); !got.Equal(c.want) {
			t.Errorf("lastSession(%v) = %v, want %v", c.now, got, c.want)
		}
	}
}
