package engine

import (
	"context"
	"fmt"

	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
)

// SweepConfig describes a batch of independent simulation runs.
type SweepConfig struct {
	Nodes        int
	MinByzantine int
	MaxByzantine int
	Trials       int
	Seed         uint64
	Workers      int
	Consensus    consensus.Config
}

// DefaultSweepConfig returns default configuration.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Nodes:        4,
		MinByzantine: 0,
		MaxByzantine: 1,
		Trials:       100,
		Seed:         1,
		Workers:      4,
		Consensus:    consensus.DefaultConfig(),
	}
}

// Validate checks the sweep bounds.
func (c SweepConfig) Validate() error {
	if c.Nodes < 1 {
		return fmt.Errorf("%w: need at least one node", consensus.ErrInvalidRunParams)
	}
	if c.Trials < 1 {
		return fmt.Errorf("%w: trials must be positive", consensus.ErrInvalidRunParams)
	}
	if c.MinByzantine < 0 || c.MinByzantine > c.MaxByzantine || c.MaxByzantine > c.Nodes {
		return fmt.Errorf("%w: byzantine range [%d, %d] invalid for %d nodes",
			consensus.ErrInvalidRunParams, c.MinByzantine, c.MaxByzantine, c.Nodes)
	}
	return c.Consensus.ValidateBasic()
}

// SweepPoint aggregates the trials of one byzantine count.
type SweepPoint struct {
	Byzantine       int     `json:"byzantine"`
	Trials          int     `json:"trials"`
	Converged       int     `json:"converged"`
	Truncated       int     `json:"truncated"`
	AvgBroadcasts   float64 `json:"avg_broadcasts"`
	ConvergenceRate float64 `json:"convergence_rate"`
}

type trialResult struct {
	byzantine int
	outcome   consensus.Outcome
}

// RunSweep runs cfg.Trials seeded simulations for every byzantine count in
// [MinByzantine, MaxByzantine], spread over a worker pool. Results are
// reproducible for a given seed regardless of worker count.
func RunSweep(ctx context.Context, cfg SweepConfig, logger zerolog.Logger) ([]SweepPoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	counts := cfg.MaxByzantine - cfg.MinByzantine + 1
	pool := NewWorkerPool("sweep", cfg.Workers, counts*cfg.Trials)
	defer pool.Shutdown()

	tasks := make([]*Task, 0, counts*cfg.Trials)
	for byz := cfg.MinByzantine; byz <= cfg.MaxByzantine; byz++ {
		for trial := 0; trial < cfg.Trials; trial++ {
			seed := cfg.Seed + uint64((byz-cfg.MinByzantine)*cfg.Trials+trial)
			params := consensus.RunParams{Nodes: cfg.Nodes, Byzantine: byz}
			task := NewTask(ctx, fmt.Sprintf("trial-%d-%d", byz, trial), runTrial(cfg.Consensus, params, seed))
			if err := pool.Submit(task); err != nil {
				return nil, fmt.Errorf("failed to submit trial: %w", err)
			}
			tasks = append(tasks, task)
		}
	}

	points := make([]SweepPoint, counts)
	broadcasts := make([]int, counts)
	for i := range points {
		points[i].Byzantine = cfg.MinByzantine + i
	}

	for _, task := range tasks {
		var result *Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result = <-task.Done():
		}
		if result.Error != nil {
			return nil, fmt.Errorf("trial %s failed: %w", result.TaskID, result.Error)
		}

		tr := result.Data.(trialResult)
		p := &points[tr.byzantine-cfg.MinByzantine]
		p.Trials++
		broadcasts[tr.byzantine-cfg.MinByzantine] += tr.outcome.Broadcasts
		if tr.outcome.Converged {
			p.Converged++
		}
		if tr.outcome.Truncated {
			p.Truncated++
		}
	}

	for i := range points {
		p := &points[i]
		p.AvgBroadcasts = float64(broadcasts[i]) / float64(p.Trials)
		p.ConvergenceRate = float64(p.Converged) / float64(p.Trials)
		logger.Info().
			Int("nodes", cfg.Nodes).
			Int("byzantine", p.Byzantine).
			Float64("convergence_rate", p.ConvergenceRate).
			Msg("sweep point complete")
	}

	return points, nil
}

// runTrial returns a task running one independent simulation.
func runTrial(cfg consensus.Config, params consensus.RunParams, seed uint64) TaskFunc {
	return func(context.Context) (interface{}, error) {
		rng := rand.New(rand.NewSource(seed))
		orch, err := consensus.NewOrchestrator(cfg, nil, rng, zerolog.Nop())
		if err != nil {
			return nil, err
		}
		if err := orch.Initialize(params); err != nil {
			return nil, err
		}
		out, err := orch.Propose(1 + rng.Intn(MaxProposalValue))
		if err != nil {
			return nil, err
		}
		return trialResult{byzantine: params.Byzantine, outcome: out}, nil
	}
}
