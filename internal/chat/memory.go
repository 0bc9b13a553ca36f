package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// MemoryExchanges is how many exchanges are kept per session.
	MemoryExchanges = 10
	// ContextExchanges is how many recent exchanges are passed to a Responder.
	ContextExchanges = 3
)

// Exchange is one remembered question and a summary of its answer.
type Exchange struct {
	Time      time.Time
	Query     string
	ReplyType string
	Summary   string
}

// Memory keeps the recent exchanges of each session in process memory.
type Memory struct {
	mu       sync.Mutex
	sessions map[string][]Exchange
}

// NewMemory creates an empty Memory.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]Exchange)}
}

// Save appends e to session, keeping the newest MemoryExchanges.
func (m *Memory) Save(session string, e Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.sessions[session], e)
	if len(list) > MemoryExchanges {
		list = append([]Exchange(nil), list[len(list)-MemoryExchanges:]...)
	}
	m.sessions[session] = list
}

// Recent returns up to n of the newest exchanges for session, oldest first.
func (m *Memory) Recent(session string, n int) []Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.sessions[session]
	if len(list) > n {
		list = list[len(list)-n:]
	}
	return append([]Exchange(nil), list...)
}

// Forget drops a session.
func (m *Memory) Forget(session string) {
	m.mu.Lock()
	delete(m.sessions, session)
	m.mu.Unlock()
}

// Describe renders history as prompt context.
func Describe(history []Exchange) string {
	if len(history) == 0 {
		return "No previous conversation history."
	}
	var b strings.Builder
	b.WriteString("Previous conversation context:\n")
	for _, e := range history {
		fmt.Fprintf(&b, "- %s: %s → %s\n", e.Time.Format("2006-01-02"), e.Query, e.Summary)
	}
	return b.String()
}
