package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stockdesk/internal/util"
)

// mapResearcher answers a query with the findings under the key it contains;
// a nil entry fails.
type mapResearcher map[string][]Finding

func (m mapResearcher) Search(_ context.Context, query string, _ int) ([]Finding, error) {
	for prefix, fs := range m {
		if strings.Contains(query, prefix) {
			if fs == nil {
				return nil, errors.New("search quota exceeded")
			}
			return fs, nil
		}
	}
	return nil, nil
}

func TestExaSearch(t *testing.T) {
	var gotKey string
	var gotBody exaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get("x-api-key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"results": [
			{"title": "Apple reports fourth quarter results", "url": "https://www.apple.com/newsroom/q4", "publishedDate": "2024-10-31T20:30:00.000Z", "score": 0.98, "text": "Revenue up 6 percent."},
			{"title": "Where Will Apple Stock Be?", "url": "https://finance.example.com/a", "author": "Example Finance", "publishedDate": "soon", "score": 0.9}
		]}`))
	}))
	defer srv.Close()

	fs, err := NewExa("secret", srv.URL+"/").Search(context.Background(), "AAPL outlook", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotKey != "secret" || gotBody.Query != "AAPL outlook" || gotBody.NumResults != 2 || gotBody.Contents.Text.MaxCharacters != maxFindingText {
		t.Errorf("request key=%q body=%+v", gotKey, gotBody)
	}
	if len(fs) != 2 {
		t.Fatalf("got %d findings, want 2", len(fs))
	}
	if fs[0].Source != "apple.com" || fs[0].Published.IsZero() || fs[0].Content != "Revenue up 6 percent." {
		t.Errorf("finding[0] = %+v", fs[0])
	}
	if fs[1].Source != "Example Finance" || !fs[1].Published.IsZero() {
		t.Errorf("finding[1] = %+v", fs[1])
	}
}

func TestExaSearchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := NewExa("bad", srv.URL).Search(context.Background(), "AAPL", 3); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("Search error = %v, want status 401", err)
	}
}

func TestGatherMergesFindings(t *testing.T) {
	long := strings.Repeat("word ", 200)
	r := mapResearcher{
		"financial news": {
			{Title: "Low", URL: "https://a.example/low", Score: 0.2},
			{Title: "Dup", URL: "https://a.example/dup", Score: 0.5, Content: long},
		},
		"market outlook": {
			{Title: "Dup again", URL: "https://a.example/dup", Score: 0.9},
			{Title: "High", URL: "https://a.example/high", Score: 0.95},
		},
	}
	fs, err := Gather(context.Background(), r, "chips", 3, util.Discard())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var titles []string
	for _, f := range fs {
		titles = append(titles, f.Title)
	}
	if got := strings.Join(titles, ","); got != "High,Dup,Low" {
		t.Errorf("titles = %s, want High,Dup,Low", got)
	}
	if fs[1].Query != "chips stock analysis financial news" {
		t.Errorf("Query = %q", fs[1].Query)
	}
	if n := len([]rune(fs[1].Content)); n != maxFindingText+3 || !strings.HasSuffix(fs[1].Content, "...") {
		t.Errorf("excerpt has %d runes", n)
	}
}

func TestGatherFailures(t *testing.T) {
	ctx := context.Background()
	if _, err := Gather(ctx, nil, "chips", 3, util.Discard()); !errors.Is(err, ErrResearchUnavailable) {
		t.Errorf("nil researcher error = %v, want ErrResearchUnavailable", err)
	}

	all := mapResearcher{"chips": nil}
	if _, err := Gather(ctx, all, "chips", 3, util.Discard()); err == nil {
		t.Error("Gather should fail when every search fails")
	}

	partial := mapResearcher{"financial news": nil, "market outlook": {{Title: "Only", URL: "u"}}}
	fs, err := Gather(ctx, partial, "chips", 3, util.Discard())
	if err != nil || len(fs) != 1 {
		t.Errorf("partial failure = %v, %v; want one finding", fs, err)
	}
}

func TestAssistantResearch(t *testing.T) {
	ctx := context.Background()
	msg := "What is the outlook for chips?"

	a := NewAssistant(Scripted{}, NewMemory(), util.Discard())
	rep := a.Research(ctx, Request{Message: msg})
	if rep.Status != ResearchUnavailable || rep.Note != ResearchUnavailableText {
		t.Errorf("without researcher: status %q note %q", rep.Status, rep.Note)
	}
	if rep.Analysis.Content != FallbackText(msg) || rep.SessionID == "" || rep.Findings == nil {
		t.Errorf("without researcher: report = %+v", rep)
	}

	found := mapResearcher{"market outlook": {{Title: "Chip demand surges", URL: "u1", Source: "example.com", Score: 1}}}
	a = NewAssistant(Scripted{}, NewMemory(), util.Discard()).WithResearcher(found)
	rep = a.Research(ctx, Request{Message: msg})
	if rep.Status != ResearchSuccess || len(rep.Findings) != 1 {
		t.Fatalf("with researcher: report = %+v", rep)
	}
	if !strings.Contains(rep.Analysis.Content, "Chip demand surges (example.com)") {
		t.Errorf("analysis = %q", rep.Analysis.Content)
	}

	empty := NewAssistant(Scripted{}, NewMemory(), util.Discard()).WithResearcher(mapResearcher{})
	if rep := empty.Research(ctx, Request{Message: msg}); rep.Status != ResearchNoResults {
		t.Errorf("no findings: status = %q", rep.Status)
	}
}

func TestPromptIncludesResearch(t *testing.T) {
	p := Prompt(Request{
		Message: "chips?",
		Research: []Finding{{
			Title: "Chip demand surges", Source: "example.com", URL: "https://example.com/chips",
			Content: "Orders doubled.", Published: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		}},
	})
	for _, want := range []string{
		"Real-time research results:",
		"- Chip demand surges (example.com, 2026-03-02): Orders doubled.",
		"https://example.com/chips",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}
