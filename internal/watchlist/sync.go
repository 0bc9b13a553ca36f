// Package watchlist reconciles the persisted symbol list with per-symbol
// market snapshots and publishes the result as an atomic, read-only view.
//
// Fetch cycles are keyed by the symbol store's generation. A cycle is
// started by the timer, by a manual refresh, or by a mutation; a trigger
// for a generation that already has a batch in flight is coalesced. Each
// batch fans out one goroutine per symbol and publishes only once every
// symbol has resolved, and only if its generation is still current.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"stockdesk/internal/domain"
	"stockdesk/internal/gateway"
	"stockdesk/internal/symbols"
	"stockdesk/internal/util"
)

var (
	// ErrDuplicateSymbol is returned by AddStock for a watched symbol.
	ErrDuplicateSymbol = errors.New("symbol already watched")
	// ErrNotWatched is returned by RemoveStock for an unwatched symbol.
	ErrNotWatched = errors.New("symbol not watched")
)

// View is a published, point-in-time watchlist. Entries follow the symbol
// store's order at the time the batch was triggered.
type View struct {
	Generation uint64                  `json:"generation"`
	Entries    []domain.WatchlistEntry `json:"entries"`
	SettledAt  time.Time               `json:"settledAt"`
}

// Clone returns a deep copy of v.
func (v View) Clone() View {
	out := View{Generation: v.Generation, SettledAt: v.SettledAt, Entries: make([]domain.WatchlistEntry, len(v.Entries))}
	for i, e := range v.Entries {
		e.Sparkline = append([]float64(nil), e.Sparkline...)
		out.Entries[i] = e
	}
	return out
}

// Symbols returns the entry symbols in order.
func (v View) Symbols() []string {
	out := make([]string, len(v.Entries))
	for i, e := range v.Entries {
		out[i] = e.Symbol
	}
	return out
}

// Mirror receives successful watchlist mutations. Implementations must not
// block.
type Mirror interface {
	Added(symbol string)
	Removed(symbol string)
}

// Options configures a Synchronizer. Zero values pick the defaults.
type Options struct {
	Interval        time.Duration // default 60s
	FetchTimeout    time.Duration // default 8s
	StaleAfter      time.Duration // default 15m
	SparklinePoints int           // default 20
	Calendar        *util.TradingCalendar
	Metrics         *Metrics
	Mirror          Mirror
	Log             *slog.Logger
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Synchronizer owns the published watchlist view.
type Synchronizer struct {
	store *symbols.Store
	gw    gateway.Gateway

	interval     time.Duration
	fetchTimeout time.Duration
	staleAfter   time.Duration
	points       int
	cal          *util.TradingCalendar
	metrics      *Metrics
	mirror       Mirror
	now          func() time.Time
	log          *slog.Logger

	mu        sync.Mutex
	view      View
	published bool
	inflight  map[uint64]bool
	baseCtx   context.Context
	stopped   bool // set by Run on shutdown; no batch starts afterwards
	batches   sync.WaitGroup

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan View
}

// New creates a Synchronizer over store and gw. Call Run to start the
// timer; mutations and Refresh work without it.
func New(store *symbols.Store, gw gateway.Gateway, opts Options) *Synchronizer {
	s := &Synchronizer{
		store:        store,
		gw:           gw,
		interval:     opts.Interval,
		fetchTimeout: opts.FetchTimeout,
		staleAfter:   opts.StaleAfter,
		points:       opts.SparklinePoints,
		cal:          opts.Calendar,
		metrics:      opts.Metrics,
		mirror:       opts.Mirror,
		now:          opts.Now,
		log:          opts.Log,
		view:         View{Entries: []domain.WatchlistEntry{}},
		inflight:     make(map[uint64]bool),
		baseCtx:      context.Background(),
		subs:         make(map[int]chan View),
	}
	if s.interval <= 0 {
		s.interval = 60 * time.Second
	}
	if s.fetchTimeout <= 0 {
		s.fetchTimeout = 8 * time.Second
	}
	if s.staleAfter <= 0 {
		s.staleAfter = 15 * time.Minute
	}
	if s.points <= 0 {
		s.points = SparklinePoints
	}
	if s.cal == nil {
		s.cal = util.NewTradingCalendar()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "watchlist")
	return s
}

// Run starts a cycle immediately and then one per interval until ctx is
// cancelled. In-flight fetches observe ctx; Run waits for their batches to
// finish before returning.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.trigger("startup")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			s.batches.Wait()
			return nil
		case <-ticker.C:
			s.trigger("timer")
		}
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// AddStock adds symbol to the store and starts a cycle for the new
// generation. It returns ErrDuplicateSymbol if already watched, and store
// errors (symbols.ErrInvalidSymbol, symbols.ErrPersistence) unchanged.
func (s *Synchronizer) AddStock(ctx context.Context, symbol, name string) error {
	added, err := s.store.Add(ctx, symbol, name)
	if err != nil {
		return err
	}
	sym := symbols.Normalize(symbol)
	if !added {
		return fmt.Errorf("%w: %s", ErrDuplicateSymbol, sym)
	}
	s.trigger("add")
	if s.mirror != nil {
		s.mirror.Added(sym)
	}
	return nil
}

// RemoveStock removes symbol from the store and starts a cycle for the new
// generation. It returns ErrNotWatched if the symbol was not present.
func (s *Synchronizer) RemoveStock(ctx context.Context, symbol string) error {
	removed, err := s.store.Remove(ctx, symbol)
	if err != nil {
		return err
	}
	sym := symbols.Normalize(symbol)
	if !removed {
		return fmt.Errorf("%w: %s", ErrNotWatched, sym)
	}
	s.trigger("remove")
	if s.mirror != nil {
		s.mirror.Removed(sym)
	}
	return nil
}

// Refresh starts a cycle for the current generation. It returns false if
// one is already in flight or Run has shut down.
func (s *Synchronizer) Refresh() bool {
	return s.trigger("manual")
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// View returns a copy of the published view.
func (s *Synchronizer) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Clone()
}

// Lookup returns the stored entry for symbol.
func (s *Synchronizer) Lookup(symbol string) (domain.WatchedSymbol, bool) {
	return s.store.Lookup(symbol)
}

// Pending reports whether the store has changed since the published view.
func (s *Synchronizer) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.published || s.view.Generation != s.store.Generation()
}

// Wait blocks until no batch is in flight.
func (s *Synchronizer) Wait() {
	s.batches.Wait()
}

// Subscribe returns a channel that receives every published view. bufSize
// controls the channel buffer; slow consumers will have views dropped.
func (s *Synchronizer) Subscribe(bufSize int) (int, <-chan View) {
	ch := make(chan View, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Synchronizer) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

// broadcast sends v to all subscribers non-blocking (drop on full).
func (s *Synchronizer) broadcast(v View) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v.Clone():
		default:
			// Slow consumer, drop view.
		}
	}
}

// ---------------------------------------------------------------------------
// Cycle
// ---------------------------------------------------------------------------

// trigger is the single entry point for starting a batch. It snapshots the
// store and starts a batch unless one is already in flight for that
// generation.
func (s *Synchronizer) trigger(reason string) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.log.Debug("cycle not started after shutdown", "reason", reason)
		return false
	}
	gen, list := s.store.Snapshot()
	if s.inflight[gen] {
		s.mu.Unlock()
		s.metrics.cycle(outcomeCoalesced)
		s.log.Debug("cycle coalesced", "reason", reason, "generation", gen)
		return false
	}
	s.inflight[gen] = true
	ctx := s.baseCtx
	s.batches.Add(1)
	s.mu.Unlock()

	s.metrics.cycle(outcomeStarted)
	s.log.Debug("cycle started", "reason", reason, "generation", gen, "symbols", len(list))
	go s.runBatch(ctx, gen, list)
	return true
}

func (s *Synchronizer) runBatch(ctx context.Context, gen uint64, list []domain.WatchedSymbol) {
	defer s.batches.Done()

	entries := make([]domain.WatchlistEntry, len(list))
	var wg sync.WaitGroup
	for i, ws := range list {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries[i] = s.fetchEntry(ctx, ws)
		}()
	}
	wg.Wait()

	s.settle(ctx, gen, entries)
}

// settle publishes entries for gen if gen is still the store's generation
// and not older than the published view. A discarded batch restarts the
// current generation when nothing else will.
func (s *Synchronizer) settle(ctx context.Context, gen uint64, entries []domain.WatchlistEntry) {
	s.mu.Lock()
	delete(s.inflight, gen)

	if ctx.Err() != nil {
		s.mu.Unlock()
		s.metrics.cycle(outcomeCancelled)
		return
	}

	current := s.store.Generation()
	if gen != current || (s.published && gen < s.view.Generation) {
		restart := (!s.published || s.view.Generation != current) && !s.inflight[current]
		s.mu.Unlock()

		s.metrics.cycle(outcomeDiscarded)
		s.log.Debug("stale batch discarded", "generation", gen, "current", current)
		if restart {
			s.trigger("superseded")
		}
		return
	}

	s.view = View{Generation: gen, Entries: entries, SettledAt: s.now().UTC()}
	s.published = true
	// Broadcast under mu so subscribers see views in publish order.
	s.broadcast(s.view)
	s.mu.Unlock()

	s.metrics.cycle(outcomePublished)
	s.metrics.published(gen)
	s.log.Info("watchlist published", "generation", gen, "symbols", len(entries))
}

// ---------------------------------------------------------------------------
// Per-symbol fetch
// ---------------------------------------------------------------------------

func (s *Synchronizer) fetchEntry(ctx context.Context, ws domain.WatchedSymbol) domain.WatchlistEntry {
	start := time.Now()
	q, err := s.snapshot(ctx, ws.Symbol)
	e := s.resolve(ws, q, err)
	s.metrics.fetch(e.State, time.Since(start))
	if err != nil {
		s.log.Warn("snapshot failed", "symbol", ws.Symbol, "error", err)
	}
	return e
}

// snapshot calls the gateway bounded by fetchTimeout. A gateway that
// ignores its context is abandoned; its result is discarded.
func (s *Synchronizer) snapshot(ctx context.Context, symbol string) (*gateway.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	type result struct {
		q   *gateway.Quote
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("%w: %s: gateway panic: %v", gateway.ErrUnavailable, symbol, r)}
			}
		}()
		q, err := s.gw.Snapshot(ctx, symbol)
		ch <- result{q, err}
	}()

	select {
	case r := <-ch:
		return r.q, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", gateway.ErrUnavailable, symbol, ctx.Err())
	}
}

// resolve turns a gateway outcome into an entry. Every outcome yields a
// displayable price.
func (s *Synchronizer) resolve(ws domain.WatchedSymbol, q *gateway.Quote, err error) domain.WatchlistEntry {
	now := s.now().UTC()
	e := domain.WatchlistEntry{
		Symbol:      ws.Symbol,
		DisplayName: ws.DisplayName,
		LastUpdated: now,
	}
	if q != nil && q.DisplayName != "" {
		e.DisplayName = q.DisplayName
	}
	if e.DisplayName == "" {
		e.DisplayName = ws.Symbol
	}

	switch {
	case err != nil:
		e.State = domain.DataFailed
		e.Error = err.Error()
		e.Price, e.Change, e.ChangePercent = SynthesizeQuote(ws.Symbol)
	case q == nil || !usable(q.Price):
		e.State = domain.DataFallback
		e.Error = "snapshot has no usable price"
		e.Price, e.Change, e.ChangePercent = SynthesizeQuote(ws.Symbol)
	default:
		e.State = domain.DataFresh
		e.Price = *q.Price
		e.Change, e.ChangePercent = changes(e.Price, q.Change, q.ChangePercent)
		if !q.AsOf.IsZero() {
			e.LastUpdated = q.AsOf.UTC()
			if now.Sub(q.AsOf) > s.staleAfter && s.cal.IsMarketOpen(now) {
				e.State = domain.DataStale
			}
		}
	}

	e.Sparkline = Sparkline(ws.Symbol, e.Price, s.points)
	return e
}

func usable(p *float64) bool {
	return p != nil && finite(*p) && *p > 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// changes fills whichever of change and percent is missing from the other.
// Both missing gives zero.
func changes(price float64, change, pct *float64) (float64, float64) {
	hasChange := change != nil && finite(*change)
	hasPct := pct != nil && finite(*pct)

	switch {
	case hasChange && hasPct:
		return *change, *pct
	case hasChange:
		prev := price - *change
		if prev == 0 {
			return *change, 0
		}
		return *change, roundPrice(*change / prev * 100)
	case hasPct:
		if *pct <= -100 {
			return 0, *pct
		}
		prev := price / (1 + *pct/100)
		return roundPrice(price - prev), *pct
	default:
		return 0, 0
	}
}
