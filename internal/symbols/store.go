// Package symbols holds the durable, ordered list of watched ticker symbols
// together with a generation counter that advances on every committed
// mutation.
package symbols

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"stockdesk/internal/domain"
	"stockdesk/internal/store"
)

// Key is the KV key holding the persisted list.
const Key = "watchlist/symbols"

var (
	// ErrInvalidSymbol is returned for an empty or blank symbol.
	ErrInvalidSymbol = errors.New("invalid symbol")
	// ErrPersistence wraps failures of the durable backend.
	ErrPersistence = errors.New("watchlist persistence failed")
)

// Default is a symbol seeded into an empty store.
type Default struct {
	Symbol string
	Name   string
}

// DefaultSymbols is the bootstrap list used when Options.Defaults is empty.
var DefaultSymbols = []Default{
	{Symbol: "AAPL", Name: "Apple Inc."},
	{Symbol: "GOOGL", Name: "Alphabet Inc."},
	{Symbol: "MSFT", Name: "Microsoft Corporation"},
}

// Options configures a Store.
type Options struct {
	Defaults []Default
	Log      *slog.Logger
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Store is the ordered, unique, durable set of watched symbols. All methods
// are safe for concurrent use; mutations are serialized and persisted
// before they become visible.
type Store struct {
	mu         sync.RWMutex
	kv         store.KV
	list       []domain.WatchedSymbol
	generation uint64

	defaults []Default
	now      func() time.Time
	log      *slog.Logger
}

// Normalize trims and uppercases a ticker symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Open loads the persisted list from kv. A missing key yields an empty
// store; a corrupt document is an error.
func Open(ctx context.Context, kv store.KV, opts Options) (*Store, error) {
	s := &Store{
		kv:       kv,
		defaults: opts.Defaults,
		now:      opts.Now,
		log:      opts.Log,
	}
	if len(s.defaults) == 0 {
		s.defaults = DefaultSymbols
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	data, err := kv.Get(ctx, Key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("%w: loading %s: %v", ErrPersistence, Key, err)
	}

	var loaded []domain.WatchedSymbol
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrPersistence, Key, err)
	}

	// Repair anything a hand-edited document may contain.
	seen := make(map[string]bool, len(loaded))
	for _, ws := range loaded {
		ws.Symbol = Normalize(ws.Symbol)
		if ws.Symbol == "" || seen[ws.Symbol] {
			continue
		}
		seen[ws.Symbol] = true
		s.list = append(s.list, ws)
	}
	s.log.Info("loaded watchlist", "symbols", len(s.list))
	return s, nil
}

// List returns a copy of the watched symbols in insertion order.
func (s *Store) List() []domain.WatchedSymbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.WatchedSymbol(nil), s.list...)
}

// Snapshot returns the generation and the list read atomically together.
func (s *Store) Snapshot() (uint64, []domain.WatchedSymbol) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation, append([]domain.WatchedSymbol(nil), s.list...)
}

// Generation returns the current generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Has reports whether symbol (normalized) is watched.
func (s *Store) Has(symbol string) bool {
	symbol = Normalize(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(symbol) >= 0
}

// Lookup returns the watched symbol record for symbol.
func (s *Store) Lookup(symbol string) (domain.WatchedSymbol, bool) {
	symbol = Normalize(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(symbol); i >= 0 {
		return s.list[i], true
	}
	return domain.WatchedSymbol{}, false
}

// Add appends symbol with displayName. It returns false without mutating
// anything when the symbol is already present.
func (s *Store) Add(ctx context.Context, symbol, displayName string) (bool, error) {
	symbol = Normalize(symbol)
	if symbol == "" {
		return false, ErrInvalidSymbol
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = symbol
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(symbol) >= 0 {
		return false, nil
	}

	next := make([]domain.WatchedSymbol, len(s.list), len(s.list)+1)
	copy(next, s.list)
	next = append(next, domain.WatchedSymbol{
		Symbol:      symbol,
		DisplayName: displayName,
		AddedAt:     s.now().UTC(),
	})
	if err := s.commit(ctx, next); err != nil {
		return false, err
	}
	s.log.Info("symbol added", "symbol", symbol, "generation", s.generation)
	return true, nil
}

// Remove deletes symbol. It returns false when the symbol was not present.
func (s *Store) Remove(ctx context.Context, symbol string) (bool, error) {
	symbol = Normalize(symbol)
	if symbol == "" {
		return false, ErrInvalidSymbol
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(symbol)
	if i < 0 {
		return false, nil
	}

	next := make([]domain.WatchedSymbol, 0, len(s.list)-1)
	next = append(next, s.list[:i]...)
	next = append(next, s.list[i+1:]...)
	if err := s.commit(ctx, next); err != nil {
		return false, err
	}
	s.log.Info("symbol removed", "symbol", symbol, "generation", s.generation)
	return true, nil
}

// InitializeDefaults seeds the default symbols into an empty store. It
// returns true if it seeded, false if the store already had symbols.
func (s *Store) InitializeDefaults(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.list) > 0 {
		return false, nil
	}

	now := s.now().UTC()
	next := make([]domain.WatchedSymbol, 0, len(s.defaults))
	seen := make(map[string]bool, len(s.defaults))
	for _, d := range s.defaults {
		sym := Normalize(d.Symbol)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		name := d.Name
		if name == "" {
			name = sym
		}
		next = append(next, domain.WatchedSymbol{Symbol: sym, DisplayName: name, AddedAt: now})
	}
	if len(next) == 0 {
		return false, nil
	}
	if err := s.commit(ctx, next); err != nil {
		return false, err
	}
	s.log.Info("seeded default watchlist", "symbols", len(next))
	return true, nil
}

// commit persists next and, only on success, makes it the current list and
// advances the generation. Must be called with mu held.
func (s *Store) commit(ctx context.Context, next []domain.WatchedSymbol) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("%w: encoding: %v", ErrPersistence, err)
	}
	if err := s.kv.Put(ctx, Key, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.list = next
	s.generation++
	return nil
}

// indexOf returns the position of symbol or -1. Must be called with mu held.
func (s *Store) indexOf(symbol string) int {
	for i, ws := range s.list {
		if ws.Symbol == symbol {
			return i
		}
	}
	return -1
}
