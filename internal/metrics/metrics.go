// Package metrics instruments the router's dispatch loop: messages
// routed, fan-out multiplicity, per-application drops, and dispatch
// latency. The shape — an Observer interface the caller is free to wire
// to any sink, plus one concrete implementation — is grounded on an
// Observer/MetricsObserver split seen elsewhere in the corpus; the
// concrete sink here is Prometheus collectors instead of raw atomics,
// since the router's control plane needs something a monitoring system
// can scrape.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons recorded against the dropped counter's "reason" label.
const (
	ReasonPoolExhausted = "pool_exhausted"
	ReasonRingFull      = "ring_full"
)

// Observer is the instrumentation surface the dispatch loop calls into.
// A nil-safe NoOp implementation is provided for callers that run
// without a metrics sink configured.
type Observer interface {
	// ObserveDispatch records one inbound message being matched and
	// fanned out to fanOut applications (0 if nothing matched).
	ObserveDispatch(latency time.Duration, fanOut int)
	// ObserveDrop records a message that could not be delivered to one
	// application because its pool or ring was exhausted.
	ObserveDrop(appID int, reason string)
	// ObserveSubscriptionCount records the current number of live
	// (appID, pattern) subscription pairs.
	ObserveSubscriptionCount(n int)
}

// Collector implements Observer over prometheus/client_golang
// collectors.
type Collector struct {
	dispatched      prometheus.Counter
	fanOut          prometheus.Histogram
	dispatchLatency prometheus.Histogram
	dropped         *prometheus.CounterVec
	subscriptions   prometheus.Gauge
}

// NewCollector registers the router's collectors against reg and
// returns a Collector ready to observe. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global
// DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamrouter",
			Name:      "messages_dispatched_total",
			Help:      "Total inbound messages processed by the dispatch loop.",
		}),
		fanOut: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamrouter",
			Name:      "fan_out_applications",
			Help:      "Number of applications a single dispatched message was delivered to.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamrouter",
			Name:      "dispatch_latency_seconds",
			Help:      "Time to perform one masked lookup and fan-out.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamrouter",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped for one application, by reason.",
		}, []string{"app_id", "reason"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamrouter",
			Name:      "subscriptions",
			Help:      "Current number of live (app, pattern) subscription pairs.",
		}),
	}
	reg.MustRegister(c.dispatched, c.fanOut, c.dispatchLatency, c.dropped, c.subscriptions)
	return c
}

func (c *Collector) ObserveDispatch(latency time.Duration, fanOut int) {
	c.dispatched.Inc()
	c.fanOut.Observe(float64(fanOut))
	c.dispatchLatency.Observe(latency.Seconds())
}

func (c *Collector) ObserveDrop(appID int, reason string) {
	c.dropped.WithLabelValues(strconv.Itoa(appID), reason).Inc()
}

func (c *Collector) ObserveSubscriptionCount(n int) {
	c.subscriptions.Set(float64(n))
}

// NoOp is a zero-cost Observer for callers that don't configure a
// metrics sink.
type NoOp struct{}

func (NoOp) ObserveDispatch(time.Duration, int) {}
func (NoOp) ObserveDrop(int, string)            {}
func (NoOp) ObserveSubscriptionCount(int)       {}

var _ Observer = (*Collector)(nil)
var _ Observer = NoOp{}
