// Package mirror copies local watchlist mutations into a named Alpaca
// watchlist. It is best effort: failures are logged and never reach the
// local store.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"stockdesk/internal/util"
)

type opKind int

const (
	opAdd opKind = iota
	opRemove
)

type op struct {
	kind   opKind
	symbol string
}

// Mirror queues adds and removes and applies them in order from Run.
type Mirror struct {
	client *alpacaapi.Client
	name   string
	log    *slog.Logger
	ops    chan op

	// id is only touched by the Run goroutine.
	id string
}

// New creates a Mirror writing to the Alpaca watchlist called name.
func New(client *alpacaapi.Client, name string, log *slog.Logger) *Mirror {
	return &Mirror{
		client: client,
		name:   name,
		log:    log.With("component", "mirror", "watchlist", name),
		ops:    make(chan op, 256),
	}
}

// Added queues symbol for addition. Never blocks; drops when the queue is full.
func (m *Mirror) Added(symbol string) { m.enqueue(op{opAdd, symbol}) }

// Removed queues symbol for removal. Never blocks; drops when the queue is full.
func (m *Mirror) Removed(symbol string) { m.enqueue(op{opRemove, symbol}) }

func (m *Mirror) enqueue(o op) {
	select {
	case m.ops <- o:
	default:
		m.log.Warn("mirror queue full, dropping", "symbol", o.symbol)
	}
}

// Run applies queued operations until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-m.ops:
			if err := m.apply(ctx, o); err != nil {
				m.log.Warn("mirroring watchlist change", "symbol", o.symbol, "error", err)
			}
		}
	}
}

func (m *Mirror) apply(ctx context.Context, o op) error {
	if err := m.ensure(ctx); err != nil {
		return err
	}
	return util.Retry(ctx, 3, 500*time.Millisecond, func(context.Context) error {
		switch o.kind {
		case opAdd:
			_, err := m.client.AddSymbolToWatchlist(m.id, alpacaapi.AddSymbolToWatchlistRequest{Symbol: o.symbol})
			if err == nil {
				m.log.Info("mirrored add", "symbol", o.symbol)
			}
			return err
		default:
			err := m.client.RemoveSymbolFromWatchlist(m.id, alpacaapi.RemoveSymbolFromWatchlistRequest{Symbol: o.symbol})
			if err == nil {
				m.log.Info("mirrored remove", "symbol", o.symbol)
			}
			return err
		}
	})
}

// ensure finds or creates the named watchlist.
func (m *Mirror) ensure(ctx context.Context) error {
	if m.id != "" {
		return nil
	}
	return util.Retry(ctx, 3, 500*time.Millisecond, func(context.Context) error {
		lists, err := m.client.GetWatchlists()
		if err != nil {
			return fmt.Errorf("listing watchlists: %w", err)
		}
		for _, w := range lists {
			if w.Name == m.name {
				m.id = w.ID
				m.log.Info("watchlist found", "id", w.ID)
				return nil
			}
		}
		w, err := m.client.CreateWatchlist(alpacaapi.CreateWatchlistRequest{Name: m.name})
		if err != nil {
			return fmt.Errorf("creating watchlist: %w", err)
		}
		m.id = w.ID
		m.log.Info("watchlist created", "id", w.ID)
		return nil
	})
}
