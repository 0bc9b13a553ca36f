package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
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

// NewsSource fetches live articles for a symbol.
type NewsSource interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Article, error)
}

// Options wires the server to its services. News and Search may be nil.
type Options struct {
	Watchlist *watchlist.Synchronizer
	Search    gateway.Searcher
	History   *history.Service
	News      NewsSource
	Archive   *store.NewsArchive
	Prefs     *prefs.Store
	Assistant *chat.Assistant
	Calendar  *util.TradingCalendar
	Log       *slog.Logger

	// Reported by /health.
	GatewayName string
	ChatName    string
	Mirror      bool
}

// Server serves the dashboard HTTP API.
type Server struct {
	Options
	log *slog.Logger
	now func() time.Time
}

// NewServer creates a new dashboard HTTP server.
func NewServer(opts Options) *Server {
	if opts.Calendar == nil {
		opts.Calendar = util.NewTradingCalendar()
	}
	if opts.Search == nil {
		opts.Search = gateway.PopularAssets
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{Options: opts, log: log.With("component", "httpapi"), now: time.Now}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("PUT /api/watchlist/{symbol}", s.handleAddWatchlist)
	mux.HandleFunc("DELETE /api/watchlist/{symbol}", s.handleRemoveWatchlist)
	mux.HandleFunc("POST /api/watchlist/refresh", s.handleRefresh)

	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/history/{symbol}", s.handleHistory)
	mux.HandleFunc("GET /api/news/{symbol}", s.handleNews)

	mux.HandleFunc("GET /api/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /api/preferences/selected", s.handleSelect)
	mux.HandleFunc("PUT /api/preferences/layout/{key}", s.handleLayout)
	mux.HandleFunc("DELETE /api/preferences/transcript", s.handleClearTranscript)

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /api/research", s.handleResearch)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// decodeBody decodes an optional JSON body into v. An empty body is fine.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	v := s.Watchlist.View()
	now := s.now()
	writeJSON(w, HealthResponse{
		Status:     "healthy",
		Symbols:    len(v.Entries),
		Generation: v.Generation,
		Pending:    s.Watchlist.Pending(),
		MarketOpen: s.Calendar.IsMarketOpen(now),
		Gateway:    s.GatewayName,
		Chat:       s.ChatName,
		Mirror:     s.Mirror,
		Timestamp:  now,
	})
}

// ---------------------------------------------------------------------------
// Watchlist
// ---------------------------------------------------------------------------

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	v := s.Watchlist.View()
	writeJSON(w, WatchlistResponse{
		Generation: v.Generation,
		Entries:    v.Entries,
		SettledAt:  v.SettledAt,
		Pending:    s.Watchlist.Pending(),
	})
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	symbol := symbols.Normalize(r.PathValue("symbol"))
	err := s.Watchlist.AddStock(r.Context(), symbol, req.Name)
	switch {
	case err == nil:
	case errors.Is(err, watchlist.ErrDuplicateSymbol):
		writeError(w, http.StatusConflict, fmt.Sprintf("%s is already on the watchlist", symbol))
		return
	case errors.Is(err, symbols.ErrInvalidSymbol):
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	default:
		s.log.Error("adding symbol", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to add %s", symbol))
		return
	}

	name := symbol
	if ws, ok := s.Watchlist.Lookup(symbol); ok {
		name = ws.DisplayName
	}
	writeJSONStatus(w, http.StatusCreated, AddResponse{Symbol: symbol, Name: name})
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol := symbols.Normalize(r.PathValue("symbol"))
	err := s.Watchlist.RemoveStock(r.Context(), symbol)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, watchlist.ErrNotWatched), errors.Is(err, symbols.ErrInvalidSymbol):
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s is not on the watchlist", symbol))
	default:
		s.log.Error("removing symbol", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to remove %s", symbol))
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusAccepted, RefreshResponse{Started: s.Watchlist.Refresh()})
}

// ---------------------------------------------------------------------------
// Search, history, news
// ---------------------------------------------------------------------------

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := queryInt(r, "limit", 10)
	if q == "" {
		writeJSON(w, SearchResponse{Query: q, Results: []gateway.Asset{}})
		return
	}
	results, err := s.Search.Search(r.Context(), q, limit)
	if err != nil {
		s.log.Warn("searching assets", "query", q, "error", err)
		writeError(w, http.StatusBadGateway, "search unavailable")
		return
	}
	if results == nil {
		results = []gateway.Asset{}
	}
	writeJSON(w, SearchResponse{Query: q, Results: results})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := symbols.Normalize(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	series, err := s.History.Daily(r.Context(), symbol, queryInt(r, "days", history.DefaultDays))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if series.Bars == nil {
		series.Bars = []domain.Bar{}
	}
	writeJSON(w, series)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	symbol := symbols.Normalize(r.PathValue("symbol"))
	today := s.now().UTC().Format("2006-01-02")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = today
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	articles, err := s.Archive.Read(r.Context(), symbol, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read news")
		return
	}

	// Nothing archived for today yet: fetch live and archive it.
	if len(articles) == 0 && date == today && s.News != nil {
		fetched, err := s.News.Fetch(r.Context(), symbol, day, day.Add(24*time.Hour-time.Nanosecond))
		if err != nil {
			s.log.Warn("fetching news", "symbol", symbol, "error", err)
		} else {
			articles = fetched
			if err := s.Archive.Write(r.Context(), fetched); err != nil {
				s.log.Warn("archiving news", "symbol", symbol, "error", err)
			}
		}
	}
	if articles == nil {
		articles = []domain.Article{}
	}
	writeJSON(w, NewsResponse{Symbol: symbol, Date: date, Articles: articles})
}

// ---------------------------------------------------------------------------
// Preferences
// ---------------------------------------------------------------------------

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Prefs.Get())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.prefsResult(w, s.Prefs.Select(r.Context(), req.Symbol)) {
		return
	}
	writeJSON(w, s.Prefs.Get())
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	var req LayoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.prefsResult(w, s.Prefs.SetLayout(r.Context(), r.PathValue("key"), req.Value)) {
		return
	}
	writeJSON(w, s.Prefs.Get())
}

func (s *Server) handleClearTranscript(w http.ResponseWriter, r *http.Request) {
	if !s.prefsResult(w, s.Prefs.ClearTranscript(r.Context())) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// prefsResult writes an error response for err and reports whether the
// handler should continue.
func (s *Server) prefsResult(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, prefs.ErrPersistence):
		s.log.Error("saving preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save preferences")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
	return false
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

// chatRequest fills the dashboard context of a chat request.
func (s *Server) chatRequest(r *http.Request) (chat.Request, error) {
	var req chat.Request
	if err := decodeBody(r, &req); err != nil {
		return req, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return req, errors.New("message required")
	}
	req.Watchlist = s.Watchlist.View().Entries
	if req.SelectedSymbol == "" {
		req.SelectedSymbol = s.Prefs.Get().SelectedSymbol
	}
	return req, nil
}

// ask answers req and records both turns in the transcript.
func (s *Server) ask(ctx context.Context, req chat.Request) chat.Reply {
	asked := s.now()
	reply := s.Assistant.Ask(ctx, req)
	err := s.Prefs.AppendTurn(ctx,
		prefs.ChatTurn{Role: "user", Text: strings.TrimSpace(req.Message), Time: asked},
		prefs.ChatTurn{Role: "assistant", Text: reply.Content, Time: reply.Time},
	)
	if err != nil {
		s.log.Warn("saving chat transcript", "error", err)
	}
	return reply
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := s.chatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, s.ask(r.Context(), req))
}

// handleResearch answers with web research findings as extra context. The
// exchange is recorded in the transcript like a chat message.
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	req, err := s.chatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asked := s.now()
	rep := s.Assistant.Research(r.Context(), req)
	err = s.Prefs.AppendTurn(r.Context(),
		prefs.ChatTurn{Role: "user", Text: rep.Query, Time: asked},
		prefs.ChatTurn{Role: "assistant", Text: rep.Analysis.Content, Time: rep.Time},
	)
	if err != nil {
		s.log.Warn("saving chat transcript", "error", err)
	}
	writeJSON(w, rep)
}

// handleChatStream streams the reply as `data: {json}\n\n` frames: status
// frames, then cumulative token chunks of eight words, then a done frame.
// Failures are reported as an error frame.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	send := func(f StreamFrame) {
		data, _ := json.Marshal(f)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	req, err := s.chatRequest(r)
	if err != nil {
		send(StreamFrame{Type: "error", Content: "Research error: " + err.Error(), Done: true})
		return
	}

	send(StreamFrame{Type: "status", Content: "Analyzing your request..."})
	send(StreamFrame{Type: "status", Content: fmt.Sprintf("Reading %d watchlist prices...", len(req.Watchlist))})
	reply := s.ask(r.Context(), req)
	send(StreamFrame{Type: "status", Content: "Analysis complete, streaming response..."})

	stamp := reply.Time.Format(time.RFC3339)
	if reply.Type == chat.TypeQuestions {
		send(StreamFrame{Type: "token", Content: "need_info: true", NeedInfo: true})
		send(StreamFrame{Type: "token", Content: chat.QuestionsIntro})
		for i, q := range reply.Questions {
			send(StreamFrame{Type: "token", Content: fmt.Sprintf("Question %d: %s", i+1, q), Question: q})
		}
		send(StreamFrame{
			Type: "done", Content: reply.Content, Done: true, NeedInfo: true,
			Questions: reply.Questions, SessionID: reply.SessionID, Timestamp: stamp,
		})
		return
	}

	chunks := chat.Chunks(reply.Content, 8)
	for i, c := range chunks {
		send(StreamFrame{Type: "token", Content: c, Progress: float64(i+1) / float64(len(chunks))})
	}
	send(StreamFrame{Type: "done", Content: strings.Join(strings.Fields(reply.Content), " "), Done: true, SessionID: reply.SessionID, Timestamp: stamp})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
