package watchlist

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockdesk/internal/domain"
)

// Cycle outcomes recorded by Metrics.
const (
	outcomeStarted   = "started"
	outcomeCoalesced = "coalesced"
	outcomePublished = "published"
	outcomeDiscarded = "discarded"
	outcomeCancelled = "cancelled"
)

// Metrics are the synchronizer's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	Cycles        *prometheus.CounterVec
	Fetches       *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	Generation    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockdesk_sync_cycles_total",
				Help: "Watchlist fetch cycles by outcome",
			},
			[]string{"outcome"}, // started|coalesced|published|discarded|cancelled
		),
		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockdesk_sync_symbol_fetch_total",
				Help: "Per-symbol snapshot fetches by resulting data state",
			},
			[]string{"state"},
		),
		FetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stockdesk_sync_symbol_fetch_duration_seconds",
				Help:    "Per-symbol snapshot fetch latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		Generation: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockdesk_sync_published_generation",
				Help: "Symbol-set generation of the currently published view",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Cycles, m.Fetches, m.FetchDuration, m.Generation)
	}
	return m
}

func (m *Metrics) cycle(outcome string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) fetch(state domain.DataState, d time.Duration) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(string(state)).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) published(gen uint64) {
	if m == nil {
		return
	}
	m.Generation.Set(float64(gen))
}
