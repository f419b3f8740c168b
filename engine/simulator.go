package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
)

// MaxProposalValue is the upper bound of randomly proposed values.
const MaxProposalValue = 100

// SimulatorConfig holds configuration for the simulator.
type SimulatorConfig struct {
	Consensus consensus.Config

	// QueueSize is the number of commands that may wait for the worker
	QueueSize int

	// Seed for the random source; 0 picks a time-based seed
	Seed uint64

	// RealTimePacing turns tick events into real sleeps before they reach
	// the sink, so live observers see the run at the requested pace
	RealTimePacing bool
}

// DefaultSimulatorConfig returns default configuration.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Consensus:      consensus.DefaultConfig(),
		QueueSize:      64,
		RealTimePacing: true,
	}
}

// StartResult is returned by Simulator.Start.
type StartResult struct {
	ProposedValue int               `json:"proposed_value"`
	Outcome       consensus.Outcome `json:"outcome"`
}

// Simulator is the command surface of the simulation. Every command runs
// on a single worker goroutine, which is the only owner of the
// orchestrator and the random source.
type Simulator struct {
	pool *WorkerPool
	orch *consensus.Orchestrator
	rng  *rand.Rand
	log  zerolog.Logger

	taskSeq uint64
}

// NewSimulator creates a simulator emitting run events to sink.
func NewSimulator(cfg SimulatorConfig, sink consensus.EventSink, logger zerolog.Logger) (*Simulator, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewSource(seed))

	if sink != nil && cfg.RealTimePacing {
		sink = consensus.NewPacedSink(sink, nil)
	}

	orch, err := consensus.NewOrchestrator(cfg.Consensus, sink, rng, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return &Simulator{
		pool: NewWorkerPool("simulator", 1, cfg.QueueSize),
		orch: orch,
		rng:  rng,
		log:  logger.With().Str("component", "simulator").Uint64("seed", seed).Logger(),
	}, nil
}

// exec runs fn on the simulator worker and waits for it.
func (s *Simulator) exec(ctx context.Context, name string, fn func() (interface{}, error)) (interface{}, error) {
	id := fmt.Sprintf("%s-%d", name, atomic.AddUint64(&s.taskSeq, 1))
	task := NewTask(ctx, id, func(context.Context) (interface{}, error) {
		return fn()
	})

	result, err := s.pool.SubmitAndWait(ctx, task)
	if err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return result.Data, nil
}

// Start initializes a new run, proposes a random value in
// [1, MaxProposalValue] and drives it to completion.
func (s *Simulator) Start(ctx context.Context, params consensus.RunParams) (StartResult, error) {
	data, err := s.exec(ctx, "start", func() (interface{}, error) {
		if err := s.orch.Initialize(params); err != nil {
			return nil, err
		}
		value := 1 + s.rng.Intn(MaxProposalValue)
		s.log.Info().Int("value", value).Msg("starting simulation")

		out, err := s.orch.Propose(value)
		if err != nil {
			return nil, err
		}
		return StartResult{ProposedValue: value, Outcome: out}, nil
	})
	if err != nil {
		return StartResult{}, err
	}
	return data.(StartResult), nil
}

// Reset discards the current run.
func (s *Simulator) Reset(ctx context.Context) error {
	_, err := s.exec(ctx, "reset", func() (interface{}, error) {
		s.orch.Reset()
		return nil, nil
	})
	return err
}

// Inject delivers an external message into the current run.
func (s *Simulator) Inject(ctx context.Context, req consensus.InjectRequest) (consensus.Outcome, error) {
	data, err := s.exec(ctx, "inject", func() (interface{}, error) {
		s.log.Debug().
			Int("from", req.From).
			Stringer("to", req.To).
			Stringer("type", req.Type).
			Int("value", req.Value).
			Msg("injecting message")
		return s.orch.Inject(req)
	})
	if err != nil {
		return consensus.Outcome{}, err
	}
	return data.(consensus.Outcome), nil
}

// Nodes returns a snapshot of the current run's nodes.
func (s *Simulator) Nodes(ctx context.Context) ([]consensus.NodeState, error) {
	data, err := s.exec(ctx, "nodes", func() (interface{}, error) {
		return s.orch.Snapshot(), nil
	})
	if err != nil {
		return nil, err
	}
	return data.([]consensus.NodeState), nil
}

// Stats returns statistics of the command worker.
func (s *Simulator) Stats() PoolStats {
	return s.pool.GetStats()
}

// Close stops the command worker.
func (s *Simulator) Close() {
	s.pool.Shutdown()
}
