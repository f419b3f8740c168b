package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/VanDung-dev/PBFT-Simulator/api"
	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/VanDung-dev/PBFT-Simulator/engine"
	"github.com/VanDung-dev/PBFT-Simulator/network"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// SimulatorSection configures the simulation core.
type SimulatorSection struct {
	Seed           uint64 `mapstructure:"seed"`
	QueueSize      int    `mapstructure:"queue_size"`
	RealTimePacing bool   `mapstructure:"real_time_pacing"`
	Quorum         int    `mapstructure:"quorum"`
	MaxBroadcasts  int    `mapstructure:"max_broadcasts"`
}

// Config is the process configuration.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Simulator SimulatorSection  `mapstructure:"simulator"`
	HTTP      api.ServerConfig  `mapstructure:"http"`
	Auth      api.AuthConfig    `mapstructure:"auth"`
	Hub       network.HubConfig `mapstructure:"hub"`

	HubEnabled   bool `mapstructure:"hub_enabled"`
	TraceEnabled bool `mapstructure:"trace_enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	sim := engine.DefaultSimulatorConfig()
	v.SetDefault("simulator.seed", sim.Seed)
	v.SetDefault("simulator.queue_size", sim.QueueSize)
	v.SetDefault("simulator.real_time_pacing", sim.RealTimePacing)
	v.SetDefault("simulator.quorum", sim.Consensus.Quorum)
	v.SetDefault("simulator.max_broadcasts", sim.Consensus.MaxBroadcasts)

	http := api.DefaultServerConfig()
	v.SetDefault("http.addr", http.Addr)
	v.SetDefault("http.allowed_origin", http.AllowedOrigin)
	v.SetDefault("http.request_timeout", http.RequestTimeout)
	v.SetDefault("http.max_body_bytes", http.MaxBodyBytes)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token", "")

	hub := network.DefaultHubConfig()
	v.SetDefault("hub_enabled", true)
	v.SetDefault("hub.pub_address", hub.PubAddress)
	v.SetDefault("hub.pull_address", hub.PullAddress)
	v.SetDefault("hub.max_message_size", hub.MaxMessageSize)
	v.SetDefault("hub.replay_tolerance", hub.ReplayTolerance)
	v.SetDefault("hub.queue_size", hub.QueueSize)

	v.SetDefault("trace_enabled", true)
}

// LoadConfig reads configuration from path, or from pbft-sim.yaml in the
// working directory when path is empty, then applies PBFT_* environment
// variables (PBFT_HTTP_ADDR overrides http.addr).
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PBFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pbft-sim")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.HTTP.Addr == "" {
		return errors.New("http address is required")
	}
	if c.HubEnabled && c.Hub.PubAddress == "" {
		return errors.New("hub pub address is required")
	}
	return c.SimulatorConfig().Consensus.ValidateBasic()
}

// SimulatorConfig converts the simulator section.
func (c Config) SimulatorConfig() engine.SimulatorConfig {
	return engine.SimulatorConfig{
		Consensus: consensus.Config{
			Quorum:        c.Simulator.Quorum,
			MaxBroadcasts: c.Simulator.MaxBroadcasts,
		},
		QueueSize:      c.Simulator.QueueSize,
		Seed:           c.Simulator.Seed,
		RealTimePacing: c.Simulator.RealTimePacing,
	}
}

// NewLogger builds the process logger.
func NewLogger(c Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if c.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
