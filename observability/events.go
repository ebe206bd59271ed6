package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"lendify/core/events"
	"lendify/native/lending"
)

type loanMetrics struct {
	lifecycle   *prometheus.CounterVec
	volume      *prometheus.CounterVec
	outstanding prometheus.Gauge
	dropped     prometheus.Gauge
	sweeps      *prometheus.CounterVec
}

var (
	loanMetricsOnce sync.Once
	loanRegistry    *loanMetrics
)

// Loans returns the metrics registry tracking loan lifecycle events. The
// registry doubles as an events.Emitter.
func Loans() *loanMetrics {
	loanMetricsOnce.Do(func() {
		loanRegistry = &loanMetrics{
			lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendify",
				Subsystem: "loans",
				Name:      "events_total",
				Help:      "Count of loan lifecycle events segmented by kind.",
			}, []string{"kind"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendify",
				Subsystem: "loans",
				Name:      "amount_total",
				Help:      "Token base units moved by loan lifecycle events segmented by kind.",
			}, []string{"kind"}),
			outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendify",
				Subsystem: "loans",
				Name:      "outstanding_principal",
				Help:      "Principal of active loans in token base units.",
			}),
			dropped: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendify",
				Subsystem: "events",
				Name:      "dropped",
				Help:      "Lifecycle events discarded because subscribers were slow.",
			}),
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendify",
				Subsystem: "accrual",
				Name:      "sweeps_total",
				Help:      "Accrual sweeper passes segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			loanRegistry.lifecycle,
			loanRegistry.volume,
			loanRegistry.outstanding,
			loanRegistry.dropped,
			loanRegistry.sweeps,
		)
	})
	return loanRegistry
}

var _ events.Emitter = (*loanMetrics)(nil)

// Emit implements events.Emitter.
func (m *loanMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	loanEvt, ok := evt.(lending.LoanEvent)
	if !ok {
		m.lifecycle.WithLabelValues(labelKind(evt.EventType())).Inc()
		return
	}
	kind := labelKind(loanEvt.Kind)
	m.lifecycle.WithLabelValues(kind).Inc()
	m.volume.WithLabelValues(kind).Add(bigToFloat(loanEvt.Amount))
}

// SetOutstanding records the principal of all active loans.
func (m *loanMetrics) SetOutstanding(principal *big.Int) {
	if m == nil {
		return
	}
	m.outstanding.Set(bigToFloat(principal))
}

// SetDropped records the cumulative number of dropped events.
func (m *loanMetrics) SetDropped(n uint64) {
	if m == nil {
		return
	}
	m.dropped.Set(float64(n))
}

// RecordSweep counts an accrual sweeper pass.
func (m *loanMetrics) RecordSweep(failed bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.sweeps.WithLabelValues(outcome).Inc()
}
