package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"stockdesk/internal/chat"
	"stockdesk/internal/domain"
	"stockdesk/internal/gateway"
	"stockdesk/internal/history"
	"stockdesk/internal/prefs"
	"stockdesk/internal/store"
	"stockdesk/internal/symbols"
	"stockdesk/internal/util"
	"stockdesk/internal/watchlist"
)

type quoteGateway struct{}

func (quoteGateway) Snapshot(_ context.Context, symbol string) (*gateway.Quote, error) {
	if symbol == "FAIL" {
		return nil, gateway.ErrUnavailable
	}
	p, c := 190.5, 1.5
	return &gateway.Quote{Symbol: symbol, Price: &p, Change: &c, AsOf: time.Now()}, nil
}

// switchKV fails writes once broken is set.
type switchKV struct {
	*store.MemoryKV
	broken atomic.Bool
}

func (k *switchKV) Put(ctx context.Context, key string, value []byte) error {
	if k.broken.Load() {
		return errors.New("disk full")
	}
	return k.MemoryKV.Put(ctx, key, value)
}

type fakeNews struct{ calls atomic.Int32 }

func (f *fakeNews) Fetch(_ context.Context, symbol string, start, _ time.Time) ([]domain.Article, error) {
	f.calls.Add(1)
	return []domain.Article{{Symbol: symbol, Time: start.Add(time.Hour), Source: "test", Headline: symbol + " rallies"}}, nil
}

type harness struct {
	srv     *Server
	handler http.Handler
	syncer  *watchlist.Synchronizer
	kv      *switchKV
	news    *fakeNews
}

func newHarness(t *testing.T, syms ...string) *harness {
	t.Helper()
	ctx := context.Background()
	kv := &switchKV{MemoryKV: store.NewMemoryKV()}
	st, err := symbols.Open(ctx, kv, symbols.Options{Log: util.Discard()})
	if err != nil {
		t.Fatalf("symbols.Open: %v", err)
	}
	for _, s := range syms {
		st.Add(ctx, s, "")
	}
	syncer := watchlist.New(st, quoteGateway{}, watchlist.Options{Log: util.Discard()})

	p, err := prefs.Open(ctx, kv, util.Discard())
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	dir := t.TempDir()
	news := &fakeNews{}
	srv := NewServer(Options{
		Watchlist:   syncer,
		History:     history.New(store.NewParquetStore(dir), nil, util.Discard()),
		News:        news,
		Archive:     store.NewNewsArchive(dir),
		Prefs:       p,
		Assistant:   chat.NewAssistant(chat.Scripted{}, chat.NewMemory(), util.Discard()),
		Log:         util.Discard(),
		GatewayName: "test",
		ChatName:    "scripted",
	})
	return &harness{srv: srv, handler: srv.Handler(), syncer: syncer, kv: kv, news: news}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestWatchlistMutations(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "PUT", "/api/watchlist/nvda", `{"name":"NVIDIA"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body %s", rec.Code, rec.Body)
	}
	if got := decode[AddResponse](t, rec); got.Symbol != "NVDA" || got.Name != "NVIDIA" {
		t.Errorf("add response = %+v", got)
	}

	if rec := h.do(t, "PUT", "/api/watchlist/NVDA", ""); rec.Code != http.StatusConflict {
		t.Errorf("duplicate add status = %d, want 409", rec.Code)
	}
	if rec := h.do(t, "PUT", "/api/watchlist/NVDA", "{bad"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}
	if rec := h.do(t, "DELETE", "/api/watchlist/nvda", ""); rec.Code != http.StatusNoContent {
		t.Errorf("remove status = %d, want 204", rec.Code)
	}
	if rec := h.do(t, "DELETE", "/api/watchlist/NVDA", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second remove status = %d, want 404", rec.Code)
	}
	h.syncer.Wait()
}

func TestWatchlistPersistenceFailure(t *testing.T) {
	h := newHarness(t, "AAPL")
	h.kv.broken.Store(true)

	if rec := h.do(t, "PUT", "/api/watchlist/TSLA", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("add status = %d, want 500", rec.Code)
	}
	if rec := h.do(t, "DELETE", "/api/watchlist/AAPL", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("remove status = %d, want 500", rec.Code)
	}
	if rec := h.do(t, "PUT", "/api/preferences/selected", `{"symbol":"AAPL"}`); rec.Code != http.StatusInternalServerError {
		t.Errorf("select status = %d, want 500", rec.Code)
	}
}

func TestGetWatchlistAndRefresh(t *testing.T) {
	h := newHarness(t, "AAPL", "FAIL")

	rec := h.do(t, "POST", "/api/watchlist/refresh", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("refresh status = %d", rec.Code)
	}
	if !decode[RefreshResponse](t, rec).Started {
		t.Error("first refresh should start a cycle")
	}
	h.syncer.Wait()

	got := decode[WatchlistResponse](t, h.do(t, "GET", "/api/watchlist", ""))
	if got.Pending || len(got.Entries) != 2 {
		t.Fatalf("watchlist = %+v", got)
	}
	if got.Entries[0].Symbol != "AAPL" || got.Entries[0].State != domain.DataFresh || got.Entries[0].Price != 190.5 {
		t.Errorf("AAPL entry = %+v", got.Entries[0])
	}
	if got.Entries[1].State != domain.DataFailed || got.Entries[1].Error == "" {
		t.Errorf("FAIL entry = %+v", got.Entries[1])
	}
}

func TestSearch(t *testing.T) {
	h := newHarness(t)
	got := decode[SearchResponse](t, h.do(t, "GET", "/api/search?q=aap&limit=3", ""))
	if len(got.Results) == 0 || got.Results[0].Symbol != "AAPL" {
		t.Errorf("search results = %+v", got.Results)
	}
	empty := decode[SearchResponse](t, h.do(t, "GET", "/api/search?q=", ""))
	if empty.Results == nil || len(empty.Results) != 0 {
		t.Errorf("empty query results = %+v", empty.Results)
	}
}

func TestHistorySynthetic(t *testing.T) {
	h := newHarness(t)
	got := decode[history.Series](t, h.do(t, "GET", "/api/history/msft?days=10", ""))
	if got.Symbol != "MSFT" || got.Source != history.SourceSynthetic || len(got.Bars) == 0 {
		t.Errorf("history = %s/%s with %d bars", got.Symbol, got.Source, len(got.Bars))
	}
}

func TestNewsFetchesThenArchives(t *testing.T) {
	h := newHarness(t)

	first := decode[NewsResponse](t, h.do(t, "GET", "/api/news/aapl", ""))
	if len(first.Articles) != 1 || first.Articles[0].Headline != "AAPL rallies" {
		t.Fatalf("first news = %+v", first)
	}
	second := decode[NewsResponse](t, h.do(t, "GET", "/api/news/AAPL", ""))
	if len(second.Articles) != 1 {
		t.Fatalf("second news = %+v", second)
	}
	if n := h.news.calls.Load(); n != 1 {
		t.Errorf("news fetched %d times, want 1", n)
	}

	past := decode[NewsResponse](t, h.do(t, "GET", "/api/news/AAPL?date=2020-01-02", ""))
	if past.Articles == nil || len(past.Articles) != 0 {
		t.Errorf("past news = %+v, want empty list", past.Articles)
	}
	if rec := h.do(t, "GET", "/api/news/AAPL?date=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", rec.Code)
	}
}

func TestPreferences(t *testing.T) {
	h := newHarness(t)

	if rec := h.do(t, "PUT", "/api/preferences/selected", `{"symbol":"tsla"}`); rec.Code != http.StatusOK {
		t.Fatalf("select status = %d", rec.Code)
	}
	if rec := h.do(t, "PUT", "/api/preferences/layout/chart", `{"value":"candles"}`); rec.Code != http.StatusOK {
		t.Fatalf("layout status = %d", rec.Code)
	}
	got := decode[prefs.Preferences](t, h.do(t, "GET", "/api/preferences", ""))
	if got.SelectedSymbol != "TSLA" || got.Layout["chart"] != "candles" {
		t.Errorf("preferences = %+v", got)
	}
	if rec := h.do(t, "PUT", "/api/preferences/selected", `{"symbol":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank select status = %d, want 400", rec.Code)
	}
}

func TestChat(t *testing.T) {
	h := newHarness(t, "AAPL")
	h.syncer.Refresh()
	h.syncer.Wait()

	rec := h.do(t, "POST", "/api/chat", `{"message":"How is AAPL doing?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d, body %s", rec.Code, rec.Body)
	}
	reply := decode[chat.Reply](t, rec)
	if reply.Type != chat.TypeResponse || !strings.Contains(reply.Content, "AAPL") || reply.SessionID == "" {
		t.Errorf("reply = %+v", reply)
	}

	tr := h.srv.Prefs.Get().Transcript
	if len(tr) != 2 || tr[0].Role != "user" || tr[1].Role != "assistant" {
		t.Errorf("transcript = %+v", tr)
	}

	if rec := h.do(t, "POST", "/api/chat", `{"message":"   "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", rec.Code)
	}
	if rec := h.do(t, "DELETE", "/api/preferences/transcript", ""); rec.Code != http.StatusNoContent {
		t.Errorf("clear transcript status = %d, want 204", rec.Code)
	}
}

func TestResearch(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "POST", "/api/research", `{"message":"What is the outlook for semiconductors?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("research status = %d, body %s", rec.Code, rec.Body)
	}
	rep := decode[chat.Report](t, rec)
	if rep.Status != chat.ResearchUnavailable || rep.Note != chat.ResearchUnavailableText {
		t.Errorf("status %q note %q", rep.Status, rep.Note)
	}
	if rep.Query != "What is the outlook for semiconductors?" || rep.Analysis.Content == "" || rep.SessionID == "" {
		t.Errorf("report = %+v", rep)
	}

	tr := h.srv.Prefs.Get().Transcript
	if len(tr) != 2 || tr[0].Text != rep.Query || tr[1].Text != rep.Analysis.Content {
		t.Errorf("transcript = %+v", tr)
	}

	if rec := h.do(t, "POST", "/api/research", `{"message":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", rec.Code)
	}
}

func readFrames(t *testing.T, rec *httptest.ResponseRecorder) []StreamFrame {
	t.Helper()
	var frames []StreamFrame
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected line %q", line)
		}
		var f StreamFrame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			t.Fatalf("decoding frame %q: %v", data, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestChatStream(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "POST", "/api/chat/stream", `{"message":"tell me something interesting about the markets today please"}`)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	frames := readFrames(t, rec)
	if len(frames) < 4 || frames[0].Type != "status" {
		t.Fatalf("frames = %+v", frames)
	}
	last := frames[len(frames)-1]
	if last.Type != "done" || !last.Done || last.SessionID == "" {
		t.Errorf("last frame = %+v", last)
	}
	var tokens []StreamFrame
	for _, f := range frames {
		if f.Type == "token" {
			tokens = append(tokens, f)
		}
	}
	if len(tokens) == 0 {
		t.Fatal("no token frames")
	}
	if n := len(strings.Fields(tokens[0].Content)); n != 8 {
		t.Errorf("first token frame has %d words, want 8", n)
	}
	if tokens[len(tokens)-1].Content != last.Content || tokens[len(tokens)-1].Progress != 1 {
		t.Errorf("final token %+v does not match done %+v", tokens[len(tokens)-1], last)
	}
}

func TestChatStreamQuestions(t *testing.T) {
	h := newHarness(t)
	frames := readFrames(t, h.do(t, "POST", "/api/chat/stream", `{"message":"Is my portfolio allocation right?"}`))
	last := frames[len(frames)-1]
	if last.Type != "done" || !last.NeedInfo || len(last.Questions) < 2 {
		t.Fatalf("last frame = %+v", last)
	}
	var asked int
	for _, f := range frames {
		if f.Question != "" {
			asked++
		}
	}
	if asked != len(last.Questions) {
		t.Errorf("streamed %d questions, want %d", asked, len(last.Questions))
	}
}

func TestChatStreamBadRequest(t *testing.T) {
	h := newHarness(t)
	frames := readFrames(t, h.do(t, "POST", "/api/chat/stream", `{nope`))
	if len(frames) != 1 || frames[0].Type != "error" || !frames[0].Done {
		t.Errorf("frames = %+v", frames)
	}
}

func TestHealthAndCORS(t *testing.T) {
	h := newHarness(t, "AAPL")
	got := decode[HealthResponse](t, h.do(t, "GET", "/health", ""))
	if got.Status != "healthy" || got.Gateway != "test" || got.Chat != "scripted" || !got.Pending {
		t.Errorf("health = %+v", got)
	}

	rec := h.do(t, "OPTIONS", "/api/watchlist", "")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
}
