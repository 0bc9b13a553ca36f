package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"google.golang.org/genai"
)

const systemPrompt = `You are a friendly financial assistant embedded in a stock watchlist dashboard.
Speak directly to the user in a conversational tone.
Use the tracked stocks and prices you are given; never invent prices.
Keep answers under 150 words, use short paragraphs or bullet points, and end with something actionable.`

// generateFunc sends one prompt and returns the model's text.
type generateFunc func(ctx context.Context, prompt string) (string, error)

// Gemini answers with a Gemini model. Personal-advice questions without a
// profile get profile questions first, as Scripted does. Model failures
// fall back to Scripted.
type Gemini struct {
	generate generateFunc
	fallback Responder
	log      *slog.Logger
}

var _ Responder = (*Gemini)(nil)

// NewGemini creates a Gemini responder using the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string, log *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
	}
	gen := func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, model, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)
		if err != nil {
			return "", err
		}
		return responseText(resp)
	}
	return newGemini(gen, log), nil
}

func newGemini(gen generateFunc, log *slog.Logger) *Gemini {
	return &Gemini{generate: gen, fallback: Scripted{}, log: log.With("responder", "gemini")}
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty response")
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New("gemini: response has no text")
	}
	return b.String(), nil
}

// Respond implements Responder.
func (g *Gemini) Respond(ctx context.Context, req Request) (Reply, error) {
	if qs := PersonalQuestions(req.Message, req.Profile); qs != nil {
		return Reply{Type: TypeQuestions, Content: QuestionsText(qs), Questions: qs}, nil
	}

	text, err := g.generate(ctx, Prompt(req))
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		g.log.Warn("generation failed, using scripted reply", "error", err)
		return g.fallback.Respond(ctx, req)
	}
	return Reply{Type: TypeResponse, Content: strings.TrimSpace(text)}, nil
}

// Prompt builds the model prompt: enhanced query, live prices, research
// findings, history and the user's profile.
func Prompt(req Request) string {
	var b strings.Builder
	b.WriteString(Enhance(req))
	if len(req.Watchlist) > 0 {
		b.WriteString("\n\nCurrent prices:\n")
		for _, e := range req.Watchlist {
			if e.State.Synthesized() {
				fmt.Fprintf(&b, "- %s: unavailable\n", e.Symbol)
				continue
			}
			fmt.Fprintf(&b, "- %s (%s): %.2f, %+.2f%%\n", e.Symbol, e.DisplayName, e.Price, e.ChangePercent)
		}
	}
	if len(req.Research) > 0 {
		b.WriteString("\nReal-time research results:\n")
		for _, f := range req.Research {
			fmt.Fprintf(&b, "- %s", f.Title)
			if f.Source != "" {
				fmt.Fprintf(&b, " (%s", f.Source)
				if !f.Published.IsZero() {
					fmt.Fprintf(&b, ", %s", f.Published.Format("2006-01-02"))
				}
				b.WriteString(")")
			}
			fmt.Fprintf(&b, ": %s\n  %s\n", f.Content, f.URL)
		}
	}
	b.WriteString("\n")
	b.WriteString(Describe(req.History))
	if len(req.Profile) > 0 {
		b.WriteString("\nUser profile:")
		for _, k := range sortedKeys(req.Profile) {
			fmt.Fprintf(&b, " %s=%s;", k, req.Profile[k])
		}
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
