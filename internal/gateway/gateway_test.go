package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stockdesk/internal/util"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeMarketData struct {
	snaps map[string]*marketdata.Snapshot
	bars  []marketdata.Bar
	err   error
}

func (f *fakeMarketData) GetSnapshot(symbol string, _ marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snaps[symbol], nil
}

func (f *fakeMarketData) GetBars(_ string, _ marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	return f.bars, f.err
}

type fakeTrading struct {
	assets     []alpacaapi.Asset
	assetCalls int
	listCalls  int
}

func (f *fakeTrading) GetAsset(symbol string) (*alpacaapi.Asset, error) {
	f.assetCalls++
	for i := range f.assets {
		if f.assets[i].Symbol == symbol {
			return &f.assets[i], nil
		}
	}
	return nil, errors.New("asset not found")
}

func (f *fakeTrading) GetAssets(_ alpacaapi.GetAssetsRequest) ([]alpacaapi.Asset, error) {
	f.listCalls++
	return f.assets, nil
}

// ---------------------------------------------------------------------------
// Alpaca
// ---------------------------------------------------------------------------

func TestQuoteFromSnapshot(t *testing.T) {
	ts := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	snap := &marketdata.Snapshot{
		LatestTrade:  &marketdata.Trade{Price: 110, Timestamp: ts},
		DailyBar:     &marketdata.Bar{Close: 109},
		PrevDailyBar: &marketdata.Bar{Close: 100},
	}
	q := quoteFromSnapshot("AAPL", snap)
	if q.Price == nil || *q.Price != 110 {
		t.Fatalf("Price = %v, want 110", q.Price)
	}
	if q.Change == nil || *q.Change != 10 {
		t.Errorf("Change = %v, want 10", q.Change)
	}
	if q.ChangePercent == nil || *q.ChangePercent != 10 {
		t.Errorf("ChangePercent = %v, want 10", q.ChangePercent)
	}
	if !q.AsOf.Equal(ts) {
		t.Errorf("AsOf = %v, want %v", q.AsOf, ts)
	}
}

func TestQuoteFromSnapshotFallsBackToDailyBar(t *testing.T) {
	q := quoteFromSnapshot("AAPL", &marketdata.Snapshot{DailyBar: &marketdata.Bar{Close: 50}})
	if q.Price == nil || *q.Price != 50 {
		t.Fatalf("Price = %v, want 50", q.Price)
	}
	if q.Change != nil {
		t.Errorf("Change = %v, want nil without a previous close", *q.Change)
	}
}

func TestQuoteFromSnapshotEmpty(t *testing.T) {
	q := quoteFromSnapshot("AAPL", &marketdata.Snapshot{})
	if q.Price != nil {
		t.Errorf("Price = %v, want nil", *q.Price)
	}
}

func TestAlpacaSnapshotCachesName(t *testing.T) {
	md := &fakeMarketData{snaps: map[string]*marketdata.Snapshot{
		"AAPL": {LatestTrade: &marketdata.Trade{Price: 190}},
	}}
	tr := &fakeTrading{assets: []alpacaapi.Asset{{Symbol: "AAPL", Name: "Apple Inc.", Tradable: true}}}
	g := newAlpaca(md, tr, AlpacaOptions{Log: util.Discard()})

	for i := 0; i < 3; i++ {
		q, err := g.Snapshot(context.Background(), "AAPL")
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if q.DisplayName != "Apple Inc." {
			t.Errorf("DisplayName = %q, want %q", q.DisplayName, "Apple Inc.")
		}
	}
	if tr.assetCalls != 1 {
		t.Errorf("GetAsset called %d times, want 1", tr.assetCalls)
	}
}

func TestAlpacaSnapshotError(t *testing.T) {
	g := newAlpaca(&fakeMarketData{err: errors.New("boom")}, nil, AlpacaOptions{Log: util.Discard()})
	if _, err := g.Snapshot(context.Background(), "AAPL"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Snapshot error = %v, want ErrUnavailable", err)
	}

	// A nil snapshot without an error is still unavailable.
	g = newAlpaca(&fakeMarketData{}, nil, AlpacaOptions{Log: util.Discard()})
	if _, err := g.Snapshot(context.Background(), "AAPL"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("nil snapshot error = %v, want ErrUnavailable", err)
	}
}

func TestAlpacaSearch(t *testing.T) {
	tr := &fakeTrading{assets: []alpacaapi.Asset{
		{Symbol: "AAPL", Name: "Apple Inc.", Tradable: true},
		{Symbol: "AAL", Name: "American Airlines Group Inc.", Tradable: true},
		{Symbol: "APLE", Name: "Apple Hospitality REIT", Tradable: true},
		{Symbol: "ZZZ", Name: "Delisted", Tradable: false},
	}}
	g := newAlpaca(&fakeMarketData{}, tr, AlpacaOptions{Log: util.Discard()})

	got, err := g.Search(context.Background(), "aapl", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "AAPL" {
		t.Errorf("Search(aapl) = %+v, want [AAPL]", got)
	}

	got, _ = g.Search(context.Background(), "apple", 5)
	if len(got) != 2 {
		t.Errorf("Search(apple) returned %d assets, want 2", len(got))
	}
	if tr.listCalls != 1 {
		t.Errorf("GetAssets called %d times, want 1", tr.listCalls)
	}
}

func TestAlpacaDailyBars(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC)
	md := &fakeMarketData{bars: []marketdata.Bar{
		{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1000, TradeCount: 10, VWAP: 1.2},
	}}
	g := newAlpaca(md, nil, AlpacaOptions{Log: util.Discard()})

	bars, err := g.DailyBars(context.Background(), "aapl", ts.AddDate(0, 0, -1), ts)
	if err != nil {
		t.Fatalf("DailyBars: %v", err)
	}
	if len(bars) != 1 || bars[0].Symbol != "AAPL" || bars[0].Volume != 1000 || bars[0].Close != 1.5 {
		t.Errorf("DailyBars = %+v", bars)
	}
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

func TestHTTPSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote/AAPL":
			w.Write([]byte(`{"price": 190.5, "change": 1.5, "changePercent": 0.79, "displayName": "Apple Inc.", "asOf": "2026-03-04T15:00:00Z"}`))
		case "/quote/PART":
			w.Write([]byte(`{"displayName": "Partial Corp"}`))
		case "/quote/BAD":
			w.Write([]byte(`not json`))
		default:
			http.Error(w, "unknown symbol", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL + "/")
	ctx := context.Background()

	q, err := g.Snapshot(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Snapshot(AAPL): %v", err)
	}
	if q.Price == nil || *q.Price != 190.5 || q.DisplayName != "Apple Inc." {
		t.Errorf("Snapshot(AAPL) = %+v", q)
	}
	if q.AsOf.IsZero() {
		t.Error("AsOf not parsed")
	}

	q, err = g.Snapshot(ctx, "PART")
	if err != nil {
		t.Fatalf("Snapshot(PART): %v", err)
	}
	if q.Price != nil || q.Change != nil {
		t.Errorf("Snapshot(PART) price/change = %v/%v, want nil", q.Price, q.Change)
	}

	for _, sym := range []string{"BAD", "MISSING"} {
		if _, err := g.Snapshot(ctx, sym); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Snapshot(%s) error = %v, want ErrUnavailable", sym, err)
		}
	}
}

func TestHTTPSnapshotMalformedFields(t *testing.T) {
	bodies := map[string]string{
		"/quote/BADT": `{"price": 190.5, "change": null, "displayName": "Bad Time", "asOf": "2024-01-02"}`,
		"/quote/BADP": `{"price": "n/a", "changePercent": 0.4, "asOf": "2026-03-04T15:00:00Z"}`,
		"/quote/STRP": `{"price": " 42.25 ", "change": "abc", "displayName": 7}`,
		"/quote/ARR":  `[190.5]`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bodies[r.URL.Path]))
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL)
	ctx := context.Background()

	q, err := g.Snapshot(ctx, "BADT")
	if err != nil {
		t.Fatalf("Snapshot(BADT): %v", err)
	}
	if q.Price == nil || *q.Price != 190.5 {
		t.Errorf("BADT price = %v, want 190.5", q.Price)
	}
	if !q.AsOf.IsZero() || q.Change != nil || q.DisplayName != "Bad Time" {
		t.Errorf("BADT = %+v, want zero AsOf, nil change, name kept", q)
	}

	q, err = g.Snapshot(ctx, "BADP")
	if err != nil {
		t.Fatalf("Snapshot(BADP): %v", err)
	}
	if q.Price != nil {
		t.Errorf("BADP price = %v, want nil", *q.Price)
	}
	if q.ChangePercent == nil || *q.ChangePercent != 0.4 || q.AsOf.IsZero() {
		t.Errorf("BADP = %+v, want other fields kept", q)
	}

	q, err = g.Snapshot(ctx, "STRP")
	if err != nil {
		t.Fatalf("Snapshot(STRP): %v", err)
	}
	if q.Price == nil || *q.Price != 42.25 || q.Change != nil || q.DisplayName != "" {
		t.Errorf("STRP = %+v, want numeric string price only", q)
	}

	if _, err := g.Snapshot(ctx, "ARR"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Snapshot(ARR) error = %v, want ErrUnavailable", err)
	}
}

func TestHTTPSnapshotHonoursContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewHTTP(srv.URL).Snapshot(ctx, "AAPL"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Snapshot error = %v, want ErrUnavailable", err)
	}
}

// ---------------------------------------------------------------------------
// Unavailable and static search
// ---------------------------------------------------------------------------

func TestUnavailable(t *testing.T) {
	if _, err := (Unavailable{}).Snapshot(context.Background(), "AAPL"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestStaticSearchRanking(t *testing.T) {
	got, _ := PopularAssets.Search(context.Background(), "a", 3)
	if len(got) != 3 {
		t.Fatalf("Search(a) returned %d, want 3", len(got))
	}
	// Symbol prefix matches come before name matches and sort by symbol.
	want := []string{"AAPL", "AMD", "AMZN"}
	for i := range want {
		if got[i].Symbol != want[i] {
			t.Errorf("Search(a)[%d] = %s, want %s", i, got[i].Symbol, want[i])
		}
	}

	if got, _ := PopularAssets.Search(context.Background(), "  ", 5); len(got) != 0 {
		t.Errorf("blank query returned %v, want none", got)
	}
	if got, _ := PopularAssets.Search(context.Background(), "nvidia", 5); len(got) != 1 || got[0].Symbol != "NVDA" {
		t.Errorf("Search(nvidia) = %v, want [NVDA]", got)
	}
}
