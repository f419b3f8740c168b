package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VanDung-dev/PBFT-Simulator/api"
	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/VanDung-dev/PBFT-Simulator/engine"
	"github.com/VanDung-dev/PBFT-Simulator/network"
	"github.com/VanDung-dev/PBFT-Simulator/trace"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "PBFT-Simulator"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default ./pbft-sim.yaml)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", Name, Version)
		return
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := NewLogger(cfg, os.Stderr)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("simulator failed")
	}
}

func run(cfg Config, logger zerolog.Logger) error {
	metrics := api.NewMetrics("pbft", nil)
	sinks := []consensus.EventSink{metrics}

	var recorder *trace.Recorder
	if cfg.TraceEnabled {
		recorder = trace.NewRecorder()
		sinks = append(sinks, recorder)
	}

	// The hub injects into the simulator it observes.
	var sim *engine.Simulator
	var hub *network.EventHub
	if cfg.HubEnabled {
		hub = network.NewEventHub(cfg.Hub, func(ctx context.Context, req consensus.InjectRequest) error {
			_, err := sim.Inject(ctx, req)
			return err
		}, logger)
		sinks = append(sinks, hub)
	}

	sim, err := engine.NewSimulator(cfg.SimulatorConfig(), consensus.MultiSink(sinks...), logger)
	if err != nil {
		return err
	}
	defer sim.Close()

	if hub != nil {
		if err := hub.Start(); err != nil {
			return err
		}
		defer hub.Stop()
	}

	server := api.NewServer(cfg.HTTP, sim, logger).WithMetrics(metrics, nil)
	if recorder != nil {
		server.WithTrace(recorder)
	}
	if hub != nil {
		server.WithHub(hub)
	}
	if cfg.Auth.Enabled {
		auth := api.NewAuthenticator(cfg.Auth)
		if cfg.Auth.Token == "" {
			logger.Warn().Str("token", auth.GetToken()).Msg("generated auth token")
		}
		server.WithAuth(auth)
	}

	logger.Info().
		Str("version", Version).
		Str("http", cfg.HTTP.Addr).
		Bool("hub", cfg.HubEnabled).
		Bool("trace", cfg.TraceEnabled).
		Msg("starting simulator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
	return g.Wait()
}
