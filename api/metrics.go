// Package api provides the HTTP command surface and Prometheus metrics for
// the PBFT simulator.
package api

import (
	"net/http"

	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/VanDung-dev/PBFT-Simulator/engine"
	"github.com/VanDung-dev/PBFT-Simulator/network"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the simulator. It is also an
// event sink, so it can be fanned in next to the other observers.
type Metrics struct {
	// Run metrics
	RunsStarted    prometheus.Counter
	RunsCompleted  *prometheus.CounterVec
	RunBroadcasts  prometheus.Histogram
	ConsensusTotal prometheus.Counter
	LastConsensus  prometheus.Gauge

	// Message metrics
	MessagesTotal *prometheus.CounterVec
	TicksTotal    prometheus.Counter

	// Node metrics
	NodesTotal     prometheus.Gauge
	NodesByzantine prometheus.Gauge
	NodesDecided   prometheus.Gauge

	// System metrics
	WorkerPoolActive  prometheus.Gauge
	WorkerPoolPending prometheus.Gauge

	// Event hub metrics, mirrored from network.HubStats
	HubPublished prometheus.Gauge
	HubDropped   prometheus.Gauge
	HubInjected  prometheus.Gauge
	HubRejected  prometheus.Gauge
	HubQueued    prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates metrics under namespace registered on reg. A nil reg
// uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of simulation runs initialized",
		}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Completed broadcast loops by result",
		}, []string{"result"}),
		RunBroadcasts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_broadcasts",
			Help:      "Messages delivered per broadcast loop",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 1000, 10000},
		}),
		ConsensusTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_reached_total",
			Help:      "Total number of runs where honest nodes agreed",
		}),
		LastConsensus: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_consensus_value",
			Help:      "Value agreed by the most recent converged run",
		}),

		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Protocol messages delivered by type",
		}, []string{"type"}),
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Weighted pacing ticks spent by nodes",
		}),

		NodesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Number of nodes in the current run",
		}),
		NodesByzantine: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_byzantine",
			Help:      "Number of byzantine nodes in the current run",
		}),
		NodesDecided: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_decided",
			Help:      "Number of nodes in the DECIDED phase",
		}),

		WorkerPoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active",
			Help:      "Number of commands currently running",
		}),
		WorkerPoolPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_pending",
			Help:      "Number of commands waiting for the worker",
		}),

		HubPublished: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_published",
			Help:      "Events published on the hub PUB socket",
		}),
		HubDropped: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_dropped",
			Help:      "Events dropped because the hub queue was full",
		}),
		HubInjected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_injected",
			Help:      "Inject requests accepted from the hub PULL socket",
		}),
		HubRejected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_rejected",
			Help:      "Inject requests rejected by the hub",
		}),
		HubQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_queued",
			Help:      "Events waiting to be published",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status",
		}, []string{"route", "status"}),
	}
}

// Emit updates metrics from a simulation event.
func (m *Metrics) Emit(ev consensus.Event) {
	switch p := ev.Payload.(type) {
	case consensus.RunStartedPayload:
		m.RunsStarted.Inc()
		m.NodesTotal.Set(float64(p.Nodes))
		m.NodesByzantine.Set(float64(p.Byzantine))
		m.NodesDecided.Set(0)
	case consensus.MessagePayload:
		m.MessagesTotal.WithLabelValues(p.Type.String()).Inc()
	case consensus.TickPayload:
		m.TicksTotal.Add(float64(p.Weight))
	case consensus.NodeUpdatePayload:
		decided := 0
		for _, n := range p.Nodes {
			if n.Phase == consensus.PhaseDecided {
				decided++
			}
		}
		m.NodesDecided.Set(float64(decided))
	case consensus.ConsensusPayload:
		m.ConsensusTotal.Inc()
		m.LastConsensus.Set(float64(p.Value))
	case consensus.Outcome:
		m.RunBroadcasts.Observe(float64(p.Broadcasts))
		m.RunsCompleted.WithLabelValues(outcomeResult(p)).Inc()
	}
}

func outcomeResult(out consensus.Outcome) string {
	switch {
	case out.Converged:
		return "converged"
	case out.Truncated:
		return "truncated"
	default:
		return "stalled"
	}
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(route string, status int) {
	m.HTTPRequestsTotal.WithLabelValues(route, http.StatusText(status)).Inc()
}

// UpdateWorkerPool updates worker pool gauges.
func (m *Metrics) UpdateWorkerPool(stats engine.PoolStats) {
	m.WorkerPoolActive.Set(float64(stats.Active))
	m.WorkerPoolPending.Set(float64(stats.Pending))
}

// UpdateHub mirrors event hub statistics.
func (m *Metrics) UpdateHub(stats network.HubStats) {
	m.HubPublished.Set(float64(stats.Published))
	m.HubDropped.Set(float64(stats.Dropped))
	m.HubInjected.Set(float64(stats.Injected))
	m.HubRejected.Set(float64(stats.Rejected))
	m.HubQueued.Set(float64(stats.QueueSize))
}

// MetricsHandler returns the /metrics handler for gatherer. A nil gatherer
// uses the default registry.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
