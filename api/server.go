package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/VanDung-dev/PBFT-Simulator/engine"
	"github.com/VanDung-dev/PBFT-Simulator/network"
	"github.com/VanDung-dev/PBFT-Simulator/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Default start parameters, used for fields missing from the request body.
const (
	DefaultNumNodes        = 4
	DefaultByzantineNodes  = 1
	DefaultSimulationSpeed = 1000
)

var errBadRequest = errors.New("bad request")

// Simulation is the command surface served over HTTP.
type Simulation interface {
	Start(ctx context.Context, params consensus.RunParams) (engine.StartResult, error)
	Reset(ctx context.Context) error
	Inject(ctx context.Context, req consensus.InjectRequest) (consensus.Outcome, error)
	Nodes(ctx context.Context) ([]consensus.NodeState, error)
	Stats() engine.PoolStats
}

// TraceSource streams the current run's trace as Arrow IPC.
type TraceSource interface {
	WriteIPC(w io.Writer, kind string) error
}

// HubSource reports event hub statistics for /metrics.
type HubSource interface {
	GetStats() network.HubStats
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`

	// AllowedOrigin is sent as Access-Control-Allow-Origin
	AllowedOrigin string `mapstructure:"allowed_origin"`

	// RequestTimeout bounds how long a request waits for its command; 0
	// waits until the client goes away
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// DefaultServerConfig returns default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":5000",
		AllowedOrigin:  "*",
		RequestTimeout: 5 * time.Minute,
		MaxBodyBytes:   1 << 20,
	}
}

// StartRequest is the body of POST /start_simulation.
type StartRequest struct {
	NumNodes        int   `json:"numNodes"`
	ByzantineNodes  int   `json:"byzantineNodes"`
	SimulationSpeed int64 `json:"simulationSpeed"`
}

// Params converts the request into run parameters.
func (r StartRequest) Params() consensus.RunParams {
	return consensus.RunParams{
		Nodes:     r.NumNodes,
		Byzantine: r.ByzantineNodes,
		Pace:      time.Duration(r.SimulationSpeed) * time.Millisecond,
	}
}

// Server serves the simulator's HTTP API.
type Server struct {
	cfg      ServerConfig
	sim      Simulation
	trace    TraceSource
	hub      HubSource
	auth     *Authenticator
	metrics  *Metrics
	gatherer prometheus.Gatherer
	log      zerolog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a server for sim.
func NewServer(cfg ServerConfig, sim Simulation, logger zerolog.Logger) *Server {
	return &Server{
		cfg: cfg,
		sim: sim,
		log: logger.With().Str("component", "http").Logger(),
	}
}

// WithTrace enables GET /trace.
func (s *Server) WithTrace(t TraceSource) *Server {
	s.trace = t
	return s
}

// WithHub refreshes hub metrics from h on every /metrics scrape.
func (s *Server) WithHub(h HubSource) *Server {
	s.hub = h
	return s
}

// WithAuth protects command routes with a.
func (s *Server) WithAuth(a *Authenticator) *Server {
	s.auth = a
	return s
}

// WithMetrics records request metrics in m and serves g on /metrics.
func (s *Server) WithMetrics(m *Metrics, g prometheus.Gatherer) *Server {
	s.metrics = m
	s.gatherer = g
	return s
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /start_simulation", s.command(s.handleStart))
	s.route(mux, "POST /reset_simulation", s.command(s.handleReset))
	s.route(mux, "POST /inject", s.command(s.handleInject))
	s.route(mux, "GET /nodes", http.HandlerFunc(s.handleNodes))
	s.route(mux, "GET /trace", http.HandlerFunc(s.handleTrace))

	mux.Handle("GET /metrics", s.scrape(MetricsHandler(s.gatherer)))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return s.cors(mux)
}

// scrape refreshes polled gauges before serving h.
func (s *Server) scrape(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics != nil {
			s.metrics.UpdateWorkerPool(s.sim.Stats())
			if s.hub != nil {
				s.metrics.UpdateHub(s.hub.GetStats())
			}
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

// command wraps a state-changing handler with authentication.
func (s *Server) command(h http.HandlerFunc) http.Handler {
	if s.auth == nil {
		return h
	}
	return s.auth.Middleware(h)
}

func (s *Server) newHTTPServer() *http.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.server
}

func (s *Server) serve(srv *http.Server) error {
	s.log.Info().Str("addr", srv.Addr).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Start starts the server (blocking).
func (s *Server) Start() error {
	return s.serve(s.newHTTPServer())
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	req := StartRequest{
		NumNodes:        DefaultNumNodes,
		ByzantineNodes:  DefaultByzantineNodes,
		SimulationSpeed: DefaultSimulationSpeed,
	}
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}

	ctx, cancel := s.commandContext(r)
	defer cancel()

	res, err := s.sim.Start(ctx, req.Params())
	s.updatePool()
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "Simulation started",
		"proposed_value": res.ProposedValue,
		"outcome":        res.Outcome,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()

	err := s.sim.Reset(ctx)
	s.updatePool()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Simulation reset"})
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req consensus.InjectRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}

	ctx, cancel := s.commandContext(r)
	defer cancel()

	out, err := s.sim.Inject(ctx, req)
	s.updatePool()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "Message injected",
		"outcome": out,
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()

	nodes, err := s.sim.Nodes(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	if nodes == nil {
		nodes = []consensus.NodeState{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	if s.trace == nil {
		writeError(w, http.StatusNotFound, errors.New("trace export disabled"))
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = trace.KindMessages
	}

	var buf bytes.Buffer
	if err := s.trace.WriteIPC(&buf, kind); err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.log.Error().Err(err).Str("kind", kind).Msg("failed to write trace")
	}
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := r.Body
	if s.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	err := json.NewDecoder(body).Decode(v)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, consensus.ErrInvalidNodeID), errors.Is(err, consensus.ErrUnknownMessageType):
		return err
	default:
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
}

func (s *Server) commandContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

func (s *Server) updatePool() {
	if s.metrics != nil {
		s.metrics.UpdateWorkerPool(s.sim.Stats())
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("command failed")
	} else {
		s.log.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	writeError(w, status, err)
}

// statusFor maps command errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, consensus.ErrInvalidNodeID),
		errors.Is(err, consensus.ErrInvalidRunParams),
		errors.Is(err, consensus.ErrUnknownMessageType),
		errors.Is(err, trace.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, consensus.ErrInvalidRunState):
		return http.StatusConflict
	case errors.Is(err, engine.ErrQueueFull), errors.Is(err, engine.ErrPoolShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// cors answers preflight requests and sets the allowed origin.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(route, rec.status)
		}
		s.log.Debug().
			Str("route", route).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}
