// Package live streams published watchlist views over gRPC and mirrors them
// into a local model on the client side.
package live

import (
	"sync"

	"stockdesk/internal/watchlist"
)

// Model holds the most recent watchlist view received from a stream, with
// pub/sub for local consumers such as a console renderer.
type Model struct {
	mu       sync.RWMutex
	view     watchlist.View
	received int

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan watchlist.View
}

// NewModel creates an empty Model.
func NewModel() *Model {
	return &Model{subs: make(map[int]chan watchlist.View)}
}

// Set replaces the current view and notifies subscribers. Views older than
// the current generation are ignored; it returns false for those.
func (m *Model) Set(v watchlist.View) bool {
	m.mu.Lock()
	if m.received > 0 && v.Generation < m.view.Generation {
		m.mu.Unlock()
		return false
	}
	m.view = v.Clone()
	m.received++
	m.mu.Unlock()

	m.subsMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- v.Clone():
		default:
			// Slow consumer, drop view.
		}
	}
	m.subsMu.Unlock()
	return true
}

// View returns a copy of the current view.
func (m *Model) View() watchlist.View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view.Clone()
}

// Received returns how many views have been accepted.
func (m *Model) Received() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.received
}

// Subscribe returns a channel that receives every accepted view. bufSize
// controls the channel buffer; slow consumers will have views dropped.
func (m *Model) Subscribe(bufSize int) (int, <-chan watchlist.View) {
	ch := make(chan watchlist.View, bufSize)
	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = ch
	m.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *Model) Unsubscribe(id int) {
	m.subsMu.Lock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
	m.subsMu.Unlock()
}
