// Package chat answers assistant questions about the watchlist. A Responder
// produces replies; Assistant adds session memory and a fixed fallback
// around it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"stockdesk/internal/domain"
)

// Reply types.
const (
	TypeResponse  = "response"
	TypeQuestions = "questions"
)

// Request is one user message with the dashboard context it was sent from.
type Request struct {
	SessionID      string                  `json:"sessionId,omitempty"`
	Message        string                  `json:"message"`
	SelectedSymbol string                  `json:"selectedSymbol,omitempty"`
	Profile        map[string]string       `json:"profile,omitempty"`
	Watchlist      []domain.WatchlistEntry `json:"-"`
	// History is filled by Assistant from session memory.
	History []Exchange `json:"-"`
	// Research is filled by Assistant.Research.
	Research []Finding `json:"-"`
}

// Reply is the assistant's answer. Questions is set when Type is
// TypeQuestions.
type Reply struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Questions []string  `json:"questions,omitempty"`
	SessionID string    `json:"sessionId"`
	Time      time.Time `json:"timestamp"`
}

// Responder produces a reply for a request.
type Responder interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

// Assistant wraps a Responder with session memory.
type Assistant struct {
	responder  Responder
	researcher Researcher
	memory     *Memory
	log       *slog.Logger
	now       func() time.Time
}

// NewAssistant creates an Assistant.
func NewAssistant(r Responder, mem *Memory, log *slog.Logger) *Assistant {
	return &Assistant{responder: r, memory: mem, log: log.With("component", "chat"), now: time.Now}
}

// WithResearcher enables Research. A nil r leaves research unavailable.
func (a *Assistant) WithResearcher(r Researcher) *Assistant {
	a.researcher = r
	return a
}

// Ask answers req. It never fails: responder errors produce a fallback reply.
func (a *Assistant) Ask(ctx context.Context, req Request) Reply {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	req.Message = strings.TrimSpace(req.Message)
	return a.answer(ctx, req)
}

// Research searches the web for req's message and answers it with the
// findings as extra context. It never fails: without a researcher, or when
// every search fails, the answer uses dashboard data only.
func (a *Assistant) Research(ctx context.Context, req Request) Report {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	req.Message = strings.TrimSpace(req.Message)

	rep := Report{Query: req.Message, SessionID: req.SessionID, Findings: []Finding{}}
	found, err := Gather(ctx, a.researcher, req.Message, 3, a.log)
	switch {
	case err != nil:
		if !errors.Is(err, ErrResearchUnavailable) {
			a.log.Warn("research failed", "session", req.SessionID, "error", err)
		}
		rep.Status, rep.Note = ResearchUnavailable, ResearchUnavailableText
	case len(found) == 0:
		rep.Status = ResearchNoResults
	default:
		rep.Status, rep.Findings = ResearchSuccess, found
	}

	req.Research = found
	rep.Analysis = a.answer(ctx, req)
	rep.Time = rep.Analysis.Time
	return rep
}

func (a *Assistant) answer(ctx context.Context, req Request) Reply {
	req.History = a.memory.Recent(req.SessionID, ContextExchanges)

	reply, err := a.responder.Respond(ctx, req)
	if err != nil {
		a.log.Warn("responder failed", "session", req.SessionID, "error", err)
		reply = Reply{Type: TypeResponse, Content: FallbackText(req.Message)}
	}
	reply.SessionID = req.SessionID
	if reply.Time.IsZero() {
		reply.Time = a.now()
	}

	a.memory.Save(req.SessionID, Exchange{Time: reply.Time, Query: req.Message, ReplyType: reply.Type, Summary: summarize(reply.Content)})
	return reply
}

// FallbackText is the reply used when no responder could answer.
func FallbackText(query string) string {
	return fmt.Sprintf("I understand you're asking about: %s. Let me provide a basic response while I resolve some technical issues.", query)
}

// Enhance appends watchlist and selection context to the user's message.
func Enhance(req Request) string {
	var b strings.Builder
	b.WriteString(req.Message)
	if len(req.Watchlist) > 0 {
		syms := make([]string, 0, len(req.Watchlist))
		for _, e := range req.Watchlist {
			syms = append(syms, e.Symbol)
		}
		fmt.Fprintf(&b, "\n\nFor context, I'm currently tracking these stocks: %s", strings.Join(syms, ", "))
	}
	if req.SelectedSymbol != "" {
		fmt.Fprintf(&b, "\nI'm particularly interested in %s right now.", req.SelectedSymbol)
	}
	b.WriteString("\n\nPlease provide detailed financial analysis and actionable investment insights.")
	return b.String()
}

// Chunks splits text into pieces of at most n words for streaming. Each
// chunk carries the cumulative text so far.
func Chunks(text string, n int) []string {
	if n <= 0 {
		n = 8
	}
	words := strings.Fields(text)
	var out []string
	for i := n; i < len(words)+n; i += n {
		end := min(i, len(words))
		out = append(out, strings.Join(words[:end], " "))
	}
	return out
}

func summarize(s string) string {
	if r := []rune(s); len(r) > 200 {
		return string(r[:200]) + "..."
	}
	return s
}
