package streamrouter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lrtsys/streamrouter/internal/metrics"
)

// Observer is the instrumentation surface the dispatch loop calls into.
// See internal/metrics for the concrete Collector and the drop-reason
// constants (ReasonPoolExhausted, ReasonRingFull).
type Observer = metrics.Observer

// Collector is a Prometheus-backed Observer.
type Collector = metrics.Collector

// NewCollector registers the router's collectors against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	return metrics.NewCollector(reg)
}

// NoOpObserver satisfies Observer without recording anything, for
// callers that construct a Router without a metrics sink.
type NoOpObserver = metrics.NoOp
