package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"stockdesk/internal/domain"
	"stockdesk/internal/util"
)

var sampleWatchlist = []domain.WatchlistEntry{
	{Symbol: "AAPL", DisplayName: "Apple Inc.", Price: 1234.57, Change: 12.3, ChangePercent: 1.01, State: domain.DataFresh},
	{Symbol: "MSFT", DisplayName: "Microsoft Corporation", Price: 400, Change: -8, ChangePercent: -1.96, State: domain.DataFresh},
	{Symbol: "IT", DisplayName: "Gartner", Price: 300, State: domain.DataFailed},
}

func TestScriptedPriceAnswer(t *testing.T) {
	reply, err := Scripted{}.Respond(context.Background(), Request{Message: "How is AAPL doing?", Watchlist: sampleWatchlist})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Type != TypeResponse {
		t.Fatalf("Type = %q, want response", reply.Type)
	}
	if !strings.Contains(reply.Content, "AAPL (Apple Inc.) is at $1,234.57, up 1.01%") {
		t.Errorf("Content = %q", reply.Content)
	}
}

func TestScriptedIgnoresLowercaseWords(t *testing.T) {
	reply, _ := Scripted{}.Respond(context.Background(), Request{Message: "is it a good time?", Watchlist: sampleWatchlist})
	if strings.Contains(reply.Content, "Gartner") {
		t.Errorf("lower-case 'it' matched the IT symbol: %q", reply.Content)
	}
	reply, _ = Scripted{}.Respond(context.Background(), Request{Message: "what about $it", Watchlist: sampleWatchlist})
	if !strings.Contains(reply.Content, "placeholder") {
		t.Errorf("$it should match IT and flag placeholder data: %q", reply.Content)
	}
}

func TestScriptedSelectedSymbol(t *testing.T) {
	reply, _ := Scripted{}.Respond(context.Background(), Request{
		Message:        "what's the price of this stock?",
		SelectedSymbol: "MSFT",
		Watchlist:      sampleWatchlist,
	})
	if !strings.Contains(reply.Content, "MSFT") || !strings.Contains(reply.Content, "down 1.96%") {
		t.Errorf("Content = %q", reply.Content)
	}
}

func TestScriptedWatchlistSummary(t *testing.T) {
	reply, _ := Scripted{}.Respond(context.Background(), Request{Message: "summarize my watchlist", Watchlist: sampleWatchlist})
	want := "You're tracking 3 stocks. Top mover: AAPL at +1.01%. Weakest: MSFT at -1.96%."
	if reply.Content != want {
		t.Errorf("Content = %q, want %q", reply.Content, want)
	}
}

func TestPersonalQuestions(t *testing.T) {
	reply, _ := Scripted{}.Respond(context.Background(), Request{Message: "How should I plan for retirement?"})
	if reply.Type != TypeQuestions {
		t.Fatalf("Type = %q, want questions", reply.Type)
	}
	if n := len(reply.Questions); n < 2 || n > 3 {
		t.Errorf("got %d questions, want 2-3", n)
	}
	if !strings.HasPrefix(reply.Content, QuestionsIntro) || !strings.Contains(reply.Content, "• ") {
		t.Errorf("Content = %q", reply.Content)
	}

	if qs := PersonalQuestions("How should I plan for retirement?", map[string]string{"age": "30-40"}); qs != nil {
		t.Errorf("known profile should skip questions, got %v", qs)
	}
	if qs := PersonalQuestions("What is the price of AAPL?", nil); qs != nil {
		t.Errorf("general question should not need questions, got %v", qs)
	}
}

func TestScriptedFallback(t *testing.T) {
	reply, _ := Scripted{}.Respond(context.Background(), Request{Message: "tell me a joke"})
	if reply.Content != FallbackText("tell me a joke") {
		t.Errorf("Content = %q", reply.Content)
	}
}

func TestGeminiUsesPromptAndFallsBack(t *testing.T) {
	var prompt string
	g := newGemini(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "  Apple looks strong today.  ", nil
	}, util.Discard())

	req := Request{
		Message:        "Thoughts on AAPL?",
		SelectedSymbol: "AAPL",
		Watchlist:      sampleWatchlist,
		History:        []Exchange{{Time: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Query: "hi", Summary: "hello"}},
	}
	reply, err := g.Respond(context.Background(), req)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Content != "Apple looks strong today." {
		t.Errorf("Content = %q", reply.Content)
	}
	for _, want := range []string{
		"I'm currently tracking these stocks: AAPL, MSFT, IT",
		"I'm particularly interested in AAPL right now.",
		"- IT: unavailable",
		"- 2026-03-02: hi → hello",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	failing := newGemini(func(context.Context, string) (string, error) { return "", errors.New("quota") }, util.Discard())
	reply, err = failing.Respond(context.Background(), Request{Message: "How is AAPL doing?", Watchlist: sampleWatchlist})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(reply.Content, "AAPL (Apple Inc.)") {
		t.Errorf("fallback Content = %q", reply.Content)
	}
}

func TestGeminiCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := newGemini(func(ctx context.Context, _ string) (string, error) { return "", ctx.Err() }, util.Discard())
	if _, err := g.Respond(ctx, Request{Message: "hi"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Respond = %v, want context.Canceled", err)
	}
}

type errResponder struct{}

func (errResponder) Respond(context.Context, Request) (Reply, error) {
	return Reply{}, errors.New("boom")
}

func TestAssistantMemoryAndFallback(t *testing.T) {
	mem := NewMemory()
	a := NewAssistant(Scripted{}, mem, util.Discard())

	first := a.Ask(context.Background(), Request{Message: "  summarize my watchlist "})
	if first.SessionID == "" {
		t.Fatal("Ask should assign a session id")
	}
	for i := 0; i < MemoryExchanges+2; i++ {
		a.Ask(context.Background(), Request{SessionID: first.SessionID, Message: fmt.Sprintf("q%d", i)})
	}
	if got := mem.Recent(first.SessionID, 100); len(got) != MemoryExchanges {
		t.Fatalf("remembered %d exchanges, want %d", len(got), MemoryExchanges)
	}
	recent := mem.Recent(first.SessionID, ContextExchanges)
	if len(recent) != 3 || recent[2].Query != fmt.Sprintf("q%d", MemoryExchanges+1) {
		t.Errorf("Recent = %+v", recent)
	}

	failing := NewAssistant(errResponder{}, NewMemory(), util.Discard())
	reply := failing.Ask(context.Background(), Request{Message: "anything"})
	if reply.Content != FallbackText("anything") || reply.Type != TypeResponse {
		t.Errorf("reply = %+v", reply)
	}
}

func TestDescribeEmpty(t *testing.T) {
	if got := Describe(nil); got != "No previous conversation history." {
		t.Errorf("Describe(nil) = %q", got)
	}
}

func TestChunks(t *testing.T) {
	text := strings.Repeat("word ", 17)
	got := Chunks(text, 8)
	if len(got) != 3 {
		t.Fatalf("len(Chunks) = %d, want 3", len(got))
	}
	if n := len(strings.Fields(got[0])); n != 8 {
		t.Errorf("first chunk has %d words, want 8", n)
	}
	if got[2] != strings.TrimSpace(text) {
		t.Errorf("last chunk should be the full text, got %q", got[2])
	}
	if Chunks("", 8) != nil {
		t.Error("Chunks of empty text should be nil")
	}
}
