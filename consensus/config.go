package consensus

import (
	"fmt"
	"time"
)

// DefaultQuorum is the number of matching acknowledgments needed to advance a
// phase. It is fixed rather than derived from 2f+1.
const DefaultQuorum = 2

// Config holds configuration for the orchestrator.
type Config struct {
	// Quorum is the ack count required to move to COMMIT and DECIDED
	Quorum int

	// MaxBroadcasts bounds the messages delivered by a single Propose,
	// Broadcast or Inject call
	MaxBroadcasts int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Quorum:        DefaultQuorum,
		MaxBroadcasts: 10000,
	}
}

// ValidateBasic performs basic validation of the config.
func (cfg Config) ValidateBasic() error {
	if cfg.Quorum < 1 {
		return fmt.Errorf("%w: quorum must be positive, got %d", ErrInvalidRunParams, cfg.Quorum)
	}
	if cfg.MaxBroadcasts < 1 {
		return fmt.Errorf("%w: max broadcasts must be positive, got %d", ErrInvalidRunParams, cfg.MaxBroadcasts)
	}
	return nil
}

// RunParams describes one simulation run.
type RunParams struct {
	Nodes     int
	Byzantine int
	// Pace is the simulated processing time of one message. It is only
	// carried on tick events; the engine itself never sleeps.
	Pace time.Duration
}

// Validate checks that the run can be built.
func (p RunParams) Validate() error {
	if p.Nodes < 1 {
		return fmt.Errorf("%w: need at least one node, got %d", ErrInvalidRunParams, p.Nodes)
	}
	if p.Byzantine < 0 || p.Byzantine > p.Nodes {
		return fmt.Errorf("%w: byzantine count %d outside [0, %d]", ErrInvalidRunParams, p.Byzantine, p.Nodes)
	}
	if p.Pace < 0 {
		return fmt.Errorf("%w: negative pace %v", ErrInvalidRunParams, p.Pace)
	}
	return nil
}
