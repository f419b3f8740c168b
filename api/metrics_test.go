package api

import (
	"testing"

	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/VanDung-dev/PBFT-Simulator/engine"
	"github.com/VanDung-dev/PBFT-Simulator/network"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEmit(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	decided := consensus.PhaseDecided
	events := []consensus.Event{
		{Kind: consensus.EventRunStarted, Payload: consensus.RunStartedPayload{Nodes: 3, Byzantine: 1}},
		{Kind: consensus.EventNewMessage, Payload: consensus.MessagePayload{Type: consensus.MsgPrepare}},
		{Kind: consensus.EventNewMessage, Payload: consensus.MessagePayload{Type: consensus.MsgPrepare}},
		{Kind: consensus.EventTick, Payload: consensus.TickPayload{Weight: 1}},
		{Kind: consensus.EventTick, Payload: consensus.TickPayload{Weight: 2}},
		{Kind: consensus.EventNodeUpdate, Payload: consensus.NodeUpdatePayload{Nodes: []consensus.NodeState{
			{ID: 0, Phase: decided},
			{ID: 1, Phase: consensus.PhaseCommit},
			{ID: 2, Phase: decided},
		}}},
		{Kind: consensus.EventConsensusReached, Payload: consensus.ConsensusPayload{Value: 17}},
		{Kind: consensus.EventRunComplete, Payload: consensus.Outcome{Converged: true, Value: 17, Broadcasts: 9}},
		{Kind: consensus.EventRunComplete, Payload: consensus.Outcome{Truncated: true}},
		{Kind: consensus.EventRunComplete, Payload: consensus.Outcome{}},
	}
	for _, ev := range events {
		m.Emit(ev)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"runs started", testutil.ToFloat64(m.RunsStarted), 1},
		{"nodes", testutil.ToFloat64(m.NodesTotal), 3},
		{"byzantine", testutil.ToFloat64(m.NodesByzantine), 1},
		{"prepare messages", testutil.ToFloat64(m.MessagesTotal.WithLabelValues("PREPARE")), 2},
		{"ticks", testutil.ToFloat64(m.TicksTotal), 3},
		{"decided", testutil.ToFloat64(m.NodesDecided), 2},
		{"consensus", testutil.ToFloat64(m.ConsensusTotal), 1},
		{"last value", testutil.ToFloat64(m.LastConsensus), 17},
		{"converged", testutil.ToFloat64(m.RunsCompleted.WithLabelValues("converged")), 1},
		{"truncated", testutil.ToFloat64(m.RunsCompleted.WithLabelValues("truncated")), 1},
		{"stalled", testutil.ToFloat64(m.RunsCompleted.WithLabelValues("stalled")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
}

func TestMetricsWorkerPool(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.UpdateWorkerPool(engine.PoolStats{Active: 1, Pending: 5})

	if got := testutil.ToFloat64(m.WorkerPoolActive); got != 1 {
		t.Errorf("Expected 1 active, got %v", got)
	}
	if got := testutil.ToFloat64(m.WorkerPoolPending); got != 5 {
		t.Errorf("Expected 5 pending, got %v", got)
	}
}

func TestMetricsHub(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.UpdateHub(network.HubStats{Published: 12, Dropped: 1, Injected: 3, Rejected: 2, QueueSize: 4})

	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"published", testutil.ToFloat64(m.HubPublished), 12},
		{"dropped", testutil.ToFloat64(m.HubDropped), 1},
		{"injected", testutil.ToFloat64(m.HubInjected), 3},
		{"rejected", testutil.ToFloat64(m.HubRejected), 2},
		{"queued", testutil.ToFloat64(m.HubQueued), 4},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
}

func TestMetricsSeparateRegistries(t *testing.T) {
	// Registering the same namespace twice must not panic across registries.
	NewMetrics("pbft", prometheus.NewRegistry())
	NewMetrics("pbft", prometheus.NewRegistry())
}
