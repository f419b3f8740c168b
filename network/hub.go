package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
)

// Common errors for hub operations
var (
	ErrHubNotRunning   = errors.New("hub is not running")
	ErrQueueFull       = errors.New("publish queue is full")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrReplay          = errors.New("replayed message")
	ErrExpired         = errors.New("message timestamp outside tolerance")
)

// HubConfig holds configuration for the event hub.
type HubConfig struct {
	// PubAddress is where events are published
	PubAddress string `mapstructure:"pub_address"`

	// PullAddress is where injected messages are accepted
	PullAddress string `mapstructure:"pull_address"`

	// MaxMessageSize bounds injected messages in bytes
	MaxMessageSize int `mapstructure:"max_message_size"`

	// ReplayTolerance is how long a nonce is remembered and how old a
	// timestamped message may be
	ReplayTolerance time.Duration `mapstructure:"replay_tolerance"`

	// QueueSize is the capacity of the outbound and inbound queues
	QueueSize int `mapstructure:"queue_size"`
}

// DefaultHubConfig returns default configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PubAddress:      "tcp://127.0.0.1:5556",
		PullAddress:     "tcp://127.0.0.1:5557",
		MaxMessageSize:  64 * 1024,
		ReplayTolerance: 60 * time.Second,
		QueueSize:       4096,
	}
}

// InjectEnvelope is the wire form of an injected message.
type InjectEnvelope struct {
	consensus.InjectRequest
	Nonce     string    `json:"nonce,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// UnmarshalJSON decodes the request and its replay fields. It shadows the
// request's own decoder, which would drop them.
func (e *InjectEnvelope) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &e.InjectRequest); err != nil {
		return err
	}
	var replay struct {
		Nonce     string    `json:"nonce"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &replay); err != nil {
		return err
	}
	e.Nonce = replay.Nonce
	e.Timestamp = replay.Timestamp
	return nil
}

// InjectHandler is called for every accepted injection, one at a time.
type InjectHandler func(ctx context.Context, req consensus.InjectRequest) error

// EventHub publishes simulation events on a PUB socket and feeds messages
// received on a PULL socket to an InjectHandler.
type EventHub struct {
	config HubConfig
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	pub  zmq4.Socket
	pull zmq4.Socket

	handler InjectHandler
	outChan chan zmq4.Msg
	inChan  chan *InjectEnvelope

	replayCache   map[string]time.Time
	replayCacheMu sync.Mutex

	published int64
	dropped   int64
	injected  int64
	rejected  int64

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewEventHub creates a new hub. It does not open sockets until Start.
func NewEventHub(config HubConfig, handler InjectHandler, logger zerolog.Logger) *EventHub {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultHubConfig().QueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &EventHub{
		config:      config,
		log:         logger.With().Str("component", "hub").Logger(),
		ctx:         ctx,
		cancel:      cancel,
		handler:     handler,
		outChan:     make(chan zmq4.Msg, config.QueueSize),
		inChan:      make(chan *InjectEnvelope, config.QueueSize),
		replayCache: make(map[string]time.Time),
	}
}

// Start binds the sockets and starts the hub goroutines.
func (h *EventHub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return errors.New("hub already running")
	}
	if h.ctx.Err() != nil {
		return errors.New("hub already stopped")
	}

	h.pub = zmq4.NewPub(h.ctx)
	if err := h.pub.Listen(h.config.PubAddress); err != nil {
		h.pub.Close()
		return fmt.Errorf("failed to bind pub socket: %w", err)
	}

	if h.config.PullAddress != "" {
		h.pull = zmq4.NewPull(h.ctx)
		if err := h.pull.Listen(h.config.PullAddress); err != nil {
			h.pub.Close()
			h.pull.Close()
			return fmt.Errorf("failed to bind pull socket: %w", err)
		}

		h.wg.Add(2)
		go h.receiverLoop()
		go h.injectProcessor()
	}

	h.wg.Add(2)
	go h.publisher()
	go h.replayCacheCleaner()

	h.running = true
	h.log.Info().
		Str("pub", h.config.PubAddress).
		Str("pull", h.config.PullAddress).
		Msg("event hub started")
	return nil
}

// Stop closes the sockets and waits for the hub goroutines.
func (h *EventHub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	h.cancel()

	// Best effort; errors during shutdown are expected.
	if h.pub != nil {
		_ = h.pub.Close()
	}
	if h.pull != nil {
		_ = h.pull.Close()
	}

	h.wg.Wait()
	h.log.Info().Msg("event hub stopped")
}

// IsRunning returns true while the hub's sockets are open.
func (h *EventHub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Publish queues ev for publishing without blocking.
func (h *EventHub) Publish(ev consensus.Event) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}

	msg, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	select {
	case h.outChan <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Emit publishes ev. Events are dropped while the hub is stopped or its
// queue is full.
func (h *EventHub) Emit(ev consensus.Event) {
	err := h.Publish(ev)
	switch {
	case err == nil, errors.Is(err, ErrHubNotRunning):
	case errors.Is(err, ErrQueueFull):
		atomic.AddInt64(&h.dropped, 1)
	default:
		atomic.AddInt64(&h.dropped, 1)
		h.log.Warn().Err(err).Str("event", string(ev.Kind)).Msg("failed to publish event")
	}
}

// EncodeEvent builds the two-frame wire message [kind, json(event)].
func EncodeEvent(ev consensus.Event) (zmq4.Msg, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return zmq4.Msg{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return zmq4.NewMsgFrom([]byte(ev.Kind), data), nil
}

// DecodeInject parses an injected message.
func DecodeInject(data []byte) (*InjectEnvelope, error) {
	var env InjectEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal injection: %w", err)
	}
	return &env, nil
}

// publisher sends queued events on the PUB socket.
func (h *EventHub) publisher() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.outChan:
			if err := h.pub.Send(msg); err != nil {
				atomic.AddInt64(&h.dropped, 1)
				continue
			}
			atomic.AddInt64(&h.published, 1)
		}
	}
}

// receiverLoop continuously receives messages from the PULL socket.
func (h *EventHub) receiverLoop() {
	defer h.wg.Done()

	for {
		msg, err := h.pull.Recv()
		if err != nil {
			select {
			case <-h.ctx.Done():
				return
			default:
				continue
			}
		}

		env, err := h.accept(msg.Bytes())
		if err != nil {
			atomic.AddInt64(&h.rejected, 1)
			h.log.Debug().Err(err).Msg("injection rejected")
			continue
		}

		select {
		case h.inChan <- env:
		default:
			atomic.AddInt64(&h.rejected, 1)
			h.log.Warn().Msg("injection queue full, dropping message")
		}
	}
}

// accept validates an inbound message and records its nonce.
func (h *EventHub) accept(data []byte) (*InjectEnvelope, error) {
	if h.config.MaxMessageSize > 0 && len(data) > h.config.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	env, err := DecodeInject(data)
	if err != nil {
		return nil, err
	}
	if err := h.checkReplay(env); err != nil {
		return nil, err
	}
	return env, nil
}

// injectProcessor hands accepted injections to the handler in order.
func (h *EventHub) injectProcessor() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case env := <-h.inChan:
			if h.handler == nil {
				continue
			}
			if err := h.handler(h.ctx, env.InjectRequest); err != nil {
				h.log.Warn().Err(err).
					Int("from", env.From).
					Stringer("to", env.To).
					Msg("injection failed")
				continue
			}
			atomic.AddInt64(&h.injected, 1)
		}
	}
}

// checkReplay rejects reused nonces and stale timestamps.
func (h *EventHub) checkReplay(env *InjectEnvelope) error {
	if !env.Timestamp.IsZero() && time.Since(env.Timestamp) > h.config.ReplayTolerance {
		return ErrExpired
	}
	if env.Nonce == "" {
		return nil
	}

	h.replayCacheMu.Lock()
	defer h.replayCacheMu.Unlock()

	if _, seen := h.replayCache[env.Nonce]; seen {
		return fmt.Errorf("%w: nonce %s", ErrReplay, env.Nonce)
	}
	h.replayCache[env.Nonce] = time.Now()
	return nil
}

// replayCacheCleaner periodically cleans old entries from replay cache.
func (h *EventHub) replayCacheCleaner() {
	defer h.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.cleanReplayCache(time.Now())
		}
	}
}

func (h *EventHub) cleanReplayCache(now time.Time) {
	h.replayCacheMu.Lock()
	defer h.replayCacheMu.Unlock()

	cutoff := now.Add(-h.config.ReplayTolerance)
	for nonce, ts := range h.replayCache {
		if ts.Before(cutoff) {
			delete(h.replayCache, nonce)
		}
	}
}

// HubStats contains hub statistics.
type HubStats struct {
	PubAddress  string `json:"pub_address"`
	PullAddress string `json:"pull_address"`
	IsRunning   bool   `json:"is_running"`
	Published   int64  `json:"published"`
	Dropped     int64  `json:"dropped"`
	Injected    int64  `json:"injected"`
	Rejected    int64  `json:"rejected"`
	QueueSize   int    `json:"queue_size"`
}

// GetStats returns current hub statistics.
func (h *EventHub) GetStats() HubStats {
	return HubStats{
		PubAddress:  h.config.PubAddress,
		PullAddress: h.config.PullAddress,
		IsRunning:   h.IsRunning(),
		Published:   atomic.LoadInt64(&h.published),
		Dropped:     atomic.LoadInt64(&h.dropped),
		Injected:    atomic.LoadInt64(&h.injected),
		Rejected:    atomic.LoadInt64(&h.rejected),
		QueueSize:   len(h.outChan),
	}
}
