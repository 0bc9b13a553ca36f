package chat

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"stockdesk/internal/domain"
)

// QuestionsIntro precedes profile questions.
const QuestionsIntro = "I'd like to give you personalized advice. Could you help me with a few quick questions?"

// personal topics and the profile questions they need.
var personalTopics = []struct {
	keywords  []string
	questions []string
}{
	{[]string{"retire", "retirement", "pension", "401k", "ira"}, []string{"What's your age range?", "When do you plan to retire?", "What's your risk tolerance?"}},
	{[]string{"portfolio", "allocation", "diversif", "rebalance"}, []string{"What's your investment goal?", "What's your time horizon?", "What's your risk tolerance?"}},
	{[]string{"should i buy", "should i sell", "should i invest", "how much should", "risk tolerance", "my savings"}, []string{"What's your time horizon?", "What's your risk tolerance?"}},
}

// PersonalQuestions returns the profile questions a message needs, or nil
// when it is a general question or the profile is already known.
func PersonalQuestions(message string, profile map[string]string) []string {
	if len(profile) > 0 {
		return nil
	}
	lower := strings.ToLower(message)
	for _, topic := range personalTopics {
		for _, kw := range topic.keywords {
			if strings.Contains(lower, kw) {
				return slices.Clone(topic.questions)
			}
		}
	}
	return nil
}

// Scripted answers from keyword rules and the live watchlist.
type Scripted struct{}

var _ Responder = Scripted{}

var tickerRe = regexp.MustCompile(`\$?\b[A-Za-z]{1,5}\b`)

// Respond implements Responder.
func (Scripted) Respond(_ context.Context, req Request) (Reply, error) {
	if qs := PersonalQuestions(req.Message, req.Profile); qs != nil {
		return Reply{Type: TypeQuestions, Content: QuestionsText(qs), Questions: qs}, nil
	}

	lower := strings.ToLower(req.Message)
	mentioned := mentions(req.Message, req.Watchlist)
	if len(mentioned) == 0 && req.SelectedSymbol != "" && refersToSelection(lower) {
		if e, ok := find(req.Watchlist, req.SelectedSymbol); ok {
			mentioned = append(mentioned, e)
		}
	}

	switch {
	case len(mentioned) > 0:
		lines := make([]string, 0, len(mentioned))
		for _, e := range mentioned {
			lines = append(lines, describeEntry(e))
		}
		return Reply{Type: TypeResponse, Content: strings.Join(lines, "\n")}, nil

	case strings.Contains(lower, "watchlist") || strings.Contains(lower, "my stocks") || strings.Contains(lower, "movers"):
		return Reply{Type: TypeResponse, Content: summarizeWatchlist(req.Watchlist)}, nil

	case len(req.Research) > 0:
		return Reply{Type: TypeResponse, Content: FindingsText(req.Research)}, nil
	}

	return Reply{Type: TypeResponse, Content: FallbackText(req.Message)}, nil
}

// QuestionsText renders questions as a bulleted reply.
func QuestionsText(qs []string) string {
	var b strings.Builder
	b.WriteString(QuestionsIntro)
	b.WriteString("\n")
	for _, q := range qs {
		b.WriteString("\n• ")
		b.WriteString(q)
	}
	return b.String()
}

func refersToSelection(lower string) bool {
	for _, w := range []string{"this stock", "it doing", "selected", "price", "how is it"} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// mentions returns watchlist entries whose symbol appears as a word in msg.
func mentions(msg string, list []domain.WatchlistEntry) []domain.WatchlistEntry {
	var out []domain.WatchlistEntry
	seen := make(map[string]bool)
	for _, tok := range tickerRe.FindAllString(msg, -1) {
		sym := strings.ToUpper(strings.TrimPrefix(tok, "$"))
		if seen[sym] {
			continue
		}
		// Lower-case words only count with a $ prefix, so "it" never means IT.
		if tok != strings.ToUpper(tok) && !strings.HasPrefix(tok, "$") {
			continue
		}
		if e, ok := find(list, sym); ok {
			seen[sym] = true
			out = append(out, e)
		}
	}
	return out
}

func find(list []domain.WatchlistEntry, symbol string) (domain.WatchlistEntry, bool) {
	for _, e := range list {
		if e.Symbol == symbol {
			return e, true
		}
	}
	return domain.WatchlistEntry{}, false
}

func describeEntry(e domain.WatchlistEntry) string {
	direction := "up"
	if e.Change < 0 {
		direction = "down"
	}
	s := fmt.Sprintf("%s (%s) is at $%s, %s %.2f%% (%+.2f) today.",
		e.Symbol, e.DisplayName, humanize.CommafWithDigits(e.Price, 2), direction, abs(e.ChangePercent), e.Change)
	switch e.State {
	case domain.DataStale:
		s += fmt.Sprintf(" The last quote is from %s, so it may be out of date.", humanize.Time(e.LastUpdated))
	case domain.DataFallback, domain.DataFailed:
		s += " Live data is unavailable right now, so this is a placeholder value."
	}
	return s
}

func summarizeWatchlist(list []domain.WatchlistEntry) string {
	if len(list) == 0 {
		return "Your watchlist is empty. Add a symbol to start tracking it."
	}
	live := make([]domain.WatchlistEntry, 0, len(list))
	for _, e := range list {
		if !e.State.Synthesized() {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return fmt.Sprintf("You're tracking %d stocks, but live prices are unavailable right now.", len(list))
	}
	slices.SortStableFunc(live, func(a, b domain.WatchlistEntry) int {
		switch {
		case a.ChangePercent > b.ChangePercent:
			return -1
		case a.ChangePercent < b.ChangePercent:
			return 1
		}
		return 0
	})
	best, worst := live[0], live[len(live)-1]
	s := fmt.Sprintf("You're tracking %d stocks. Top mover: %s at %+.2f%%.", len(list), best.Symbol, best.ChangePercent)
	if len(live) > 1 {
		s += fmt.Sprintf(" Weakest: %s at %+.2f%%.", worst.Symbol, worst.ChangePercent)
	}
	return s
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
