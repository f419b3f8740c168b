package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VanDung-dev/PBFT-Simulator/engine"
	"github.com/rs/zerolog"
)

func main() {
	config := parseFlags()

	fmt.Println("=== PBFT Convergence Sweep ===")
	fmt.Printf("Nodes: %d\n", config.Nodes)
	fmt.Printf("Byzantine: %d..%d\n", config.MinByzantine, config.MaxByzantine)
	fmt.Printf("Trials: %d per point, %d workers\n", config.Trials, config.Workers)
	fmt.Printf("Quorum: %d\n", config.Consensus.Quorum)
	fmt.Println()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	points, err := engine.RunSweep(ctx, config.SweepConfig, logger)
	if err != nil {
		logger.Error().Err(err).Msg("sweep failed")
		os.Exit(1)
	}
	elapsed := time.Since(start)

	printResults(points, elapsed)

	if config.ReportFile != "" {
		saveReport(config, points, elapsed)
	}
}

type sweepFlags struct {
	engine.SweepConfig
	ReportFile string
}

func parseFlags() sweepFlags {
	config := sweepFlags{SweepConfig: engine.DefaultSweepConfig()}

	flag.IntVar(&config.Nodes, "n", config.Nodes, "Number of nodes")
	flag.IntVar(&config.MinByzantine, "min-byz", config.MinByzantine, "Smallest byzantine count")
	flag.IntVar(&config.MaxByzantine, "max-byz", config.MaxByzantine, "Largest byzantine count")
	flag.IntVar(&config.Trials, "t", config.Trials, "Trials per byzantine count")
	flag.Uint64Var(&config.Seed, "seed", config.Seed, "Base random seed")
	flag.IntVar(&config.Workers, "c", config.Workers, "Number of concurrent workers")
	flag.IntVar(&config.Consensus.Quorum, "quorum", config.Consensus.Quorum, "Acknowledgments needed per phase")
	flag.IntVar(&config.Consensus.MaxBroadcasts, "max-broadcasts", config.Consensus.MaxBroadcasts, "Delivery bound per run")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

func printResults(points []engine.SweepPoint, elapsed time.Duration) {
	fmt.Println("=== Results ===")
	fmt.Printf("%-10s %-8s %-10s %-10s %-12s %s\n", "Byzantine", "Trials", "Converged", "Truncated", "Rate", "Avg Msgs")
	for _, p := range points {
		fmt.Printf("%-10d %-8d %-10d %-10d %-12s %.1f\n",
			p.Byzantine, p.Trials, p.Converged, p.Truncated,
			fmt.Sprintf("%.2f%%", p.ConvergenceRate*100), p.AvgBroadcasts)
	}
	fmt.Printf("\nDuration: %v\n", elapsed.Round(time.Millisecond))
}

func saveReport(config sweepFlags, points []engine.SweepPoint, elapsed time.Duration) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"nodes":          config.Nodes,
			"min_byzantine":  config.MinByzantine,
			"max_byzantine":  config.MaxByzantine,
			"trials":         config.Trials,
			"seed":           config.Seed,
			"quorum":         config.Consensus.Quorum,
			"max_broadcasts": config.Consensus.MaxBroadcasts,
		},
		"results":     points,
		"duration_ms": elapsed.Milliseconds(),
		"timestamp":   time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
