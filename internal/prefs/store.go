// Package prefs holds UI preferences (selected symbol, panel layout, chat
// transcript) as one JSON document in the key-value store, with pub/sub for
// push updates.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"stockdesk/internal/store"
	"stockdesk/internal/symbols"
)

// Key is the KV key holding the preferences document.
const Key = "preferences"

// MaxTranscript is the number of chat turns retained.
const MaxTranscript = 50

// ErrPersistence wraps failures of the durable backend.
var ErrPersistence = errors.New("preferences persistence failed")

// ChatTurn is one message in the assistant transcript.
type ChatTurn struct {
	Role string    `json:"role"` // "user" or "assistant"
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Preferences is the persisted document.
type Preferences struct {
	SelectedSymbol string            `json:"selectedSymbol,omitempty"`
	Layout         map[string]string `json:"layout,omitempty"`
	Transcript     []ChatTurn        `json:"transcript,omitempty"`
}

func (p Preferences) clone() Preferences {
	p.Layout = maps.Clone(p.Layout)
	p.Transcript = slices.Clone(p.Transcript)
	return p
}

// Event is pushed to subscribers after every successful change.
type Event struct {
	Type  string      `json:"type"` // "select", "layout", "transcript"
	Prefs Preferences `json:"prefs"`
}

// Store holds preferences in memory backed by a KV.
type Store struct {
	mu    sync.RWMutex
	prefs Preferences
	kv    store.KV
	log   *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// Open loads persisted preferences. A missing or unreadable document starts
// empty. Only backend read errors fail.
func Open(ctx context.Context, kv store.KV, log *slog.Logger) (*Store, error) {
	s := &Store{
		kv:   kv,
		log:  log.With("component", "prefs"),
		subs: make(map[int]chan Event),
	}
	data, err := kv.Get(ctx, Key)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("loading preferences: %w", err)
	default:
		if err := json.Unmarshal(data, &s.prefs); err != nil {
			s.log.Warn("discarding unreadable preferences", "error", err)
			s.prefs = Preferences{}
		}
	}
	return s, nil
}

// Get returns a copy of the current preferences.
func (s *Store) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.clone()
}

// Select sets the selected symbol. An empty symbol clears the selection.
func (s *Store) Select(ctx context.Context, symbol string) error {
	sym := symbols.Normalize(symbol)
	if symbol != "" && sym == "" {
		return symbols.ErrInvalidSymbol
	}
	return s.update(ctx, "select", func(p *Preferences) { p.SelectedSymbol = sym })
}

// SetLayout sets one layout key. An empty value deletes the key.
func (s *Store) SetLayout(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("layout key is required")
	}
	return s.update(ctx, "layout", func(p *Preferences) {
		if value == "" {
			delete(p.Layout, key)
			return
		}
		if p.Layout == nil {
			p.Layout = make(map[string]string)
		}
		p.Layout[key] = value
	})
}

// AppendTurn appends to the transcript, keeping the newest MaxTranscript turns.
func (s *Store) AppendTurn(ctx context.Context, turns ...ChatTurn) error {
	return s.update(ctx, "transcript", func(p *Preferences) {
		p.Transcript = append(p.Transcript, turns...)
		if n := len(p.Transcript); n > MaxTranscript {
			p.Transcript = slices.Clone(p.Transcript[n-MaxTranscript:])
		}
	})
}

// ClearTranscript removes all chat turns.
func (s *Store) ClearTranscript(ctx context.Context) error {
	return s.update(ctx, "transcript", func(p *Preferences) { p.Transcript = nil })
}

// update applies fn to a copy, persists it and only then swaps it in.
func (s *Store) update(ctx context.Context, kind string, fn func(*Preferences)) error {
	s.mu.Lock()
	next := s.prefs.clone()
	fn(&next)
	data, err := json.Marshal(next)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("encoding preferences: %w", err)
	}
	if err := s.kv.Put(ctx, Key, data); err != nil {
		s.mu.Unlock()
		s.log.Error("writing preferences", "error", err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.prefs = next
	out := next.clone()
	s.mu.Unlock()

	s.broadcast(Event{Type: kind, Prefs: out})
	return nil
}

// Subscribe returns a channel that receives events. bufSize controls the
// channel buffer; slow consumers will have events dropped.
func (s *Store) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

func (s *Store) broadcast(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			// Slow consumer, drop.
		}
	}
}
