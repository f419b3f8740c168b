package network

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/rs/zerolog"
)

func newTestHub(config HubConfig) *EventHub {
	return NewEventHub(config, nil, zerolog.Nop())
}

func TestDefaultHubConfig(t *testing.T) {
	config := DefaultHubConfig()

	if config.PubAddress != "tcp://127.0.0.1:5556" {
		t.Errorf("Unexpected pub address %s", config.PubAddress)
	}
	if config.PullAddress != "tcp://127.0.0.1:5557" {
		t.Errorf("Unexpected pull address %s", config.PullAddress)
	}
	if config.ReplayTolerance != 60*time.Second {
		t.Errorf("Unexpected replay tolerance %v", config.ReplayTolerance)
	}
}

func TestHubNotRunning(t *testing.T) {
	hub := newTestHub(DefaultHubConfig())

	if hub.IsRunning() {
		t.Error("Hub should not be running before Start")
	}

	ev := consensus.Event{Seq: 1, Kind: consensus.EventTick, Payload: consensus.TickPayload{Weight: 1}}
	if err := hub.Publish(ev); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}

	hub.Emit(ev)
	stats := hub.GetStats()
	if stats.Dropped != 0 || stats.Published != 0 || stats.QueueSize != 0 {
		t.Errorf("Stopped hub should ignore events, got %+v", stats)
	}

	// Stop before Start is a no-op.
	hub.Stop()
}

func TestEncodeEvent(t *testing.T) {
	ev := consensus.Event{
		Seq:  7,
		Kind: consensus.EventNewMessage,
		Payload: consensus.MessagePayload{
			From:  2,
			To:    consensus.TargetAll,
			Type:  consensus.MsgCommit,
			Value: 13,
		},
	}

	msg, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if len(msg.Frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(msg.Frames))
	}
	if string(msg.Frames[0]) != "new_message" {
		t.Errorf("Unexpected topic %q", msg.Frames[0])
	}

	var decoded struct {
		Seq     uint64 `json:"seq"`
		Event   string `json:"event"`
		Payload struct {
			From  int    `json:"from"`
			To    string `json:"to"`
			Type  string `json:"type"`
			Value int    `json:"value"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(msg.Frames[1], &decoded); err != nil {
		t.Fatalf("Invalid event JSON: %v", err)
	}
	if decoded.Seq != 7 || decoded.Event != "new_message" {
		t.Errorf("Unexpected envelope %+v", decoded)
	}
	if decoded.Payload.To != "all" || decoded.Payload.Type != "COMMIT" || decoded.Payload.Value != 13 {
		t.Errorf("Unexpected payload %+v", decoded.Payload)
	}
}

func TestDecodeInject(t *testing.T) {
	env, err := DecodeInject([]byte(`{"from":1,"to":"all","type":"COMMIT","value":3,"nonce":"n1"}`))
	if err != nil {
		t.Fatalf("DecodeInject failed: %v", err)
	}
	if env.From != 1 || env.To != consensus.TargetAll || env.Type != consensus.MsgCommit || env.Value != 3 {
		t.Errorf("Unexpected request %+v", env.InjectRequest)
	}
	if env.Nonce != "n1" {
		t.Errorf("Unexpected nonce %q", env.Nonce)
	}

	env, err = DecodeInject([]byte(`{"from":0,"to":2,"type":"PREPARE","value":8}`))
	if err != nil {
		t.Fatalf("DecodeInject failed: %v", err)
	}
	if env.To != 2 {
		t.Errorf("Expected target 2, got %v", env.To)
	}

	if _, err := DecodeInject([]byte(`{"from":0,"to":1,"type":"VOTE"}`)); !errors.Is(err, consensus.ErrUnknownMessageType) {
		t.Errorf("Expected ErrUnknownMessageType, got %v", err)
	}
	if _, err := DecodeInject([]byte(`{"from":0,"type":"PREPARE","value":1,"nonce":"n2"}`)); !errors.Is(err, consensus.ErrInvalidNodeID) {
		t.Errorf("Expected ErrInvalidNodeID for a missing target, got %v", err)
	}
}

func TestAcceptReplayProtection(t *testing.T) {
	hub := newTestHub(DefaultHubConfig())
	data := []byte(`{"from":0,"to":"all","type":"PREPARE","value":1,"nonce":"abc"}`)

	if _, err := hub.accept(data); err != nil {
		t.Fatalf("First message rejected: %v", err)
	}
	if _, err := hub.accept(data); !errors.Is(err, ErrReplay) {
		t.Errorf("Expected ErrReplay, got %v", err)
	}

	// Messages without a nonce are never deduplicated.
	plain := []byte(`{"from":0,"to":"all","type":"PREPARE","value":1}`)
	for i := 0; i < 2; i++ {
		if _, err := hub.accept(plain); err != nil {
			t.Errorf("Plain message rejected: %v", err)
		}
	}

	hub.cleanReplayCache(time.Now().Add(2 * time.Minute))
	if _, err := hub.accept(data); err != nil {
		t.Errorf("Nonce should be accepted after cache expiry: %v", err)
	}
}

func TestAcceptExpired(t *testing.T) {
	hub := newTestHub(DefaultHubConfig())

	old := time.Now().Add(-2 * time.Minute).UTC().Format(time.RFC3339Nano)
	data := []byte(`{"from":0,"to":"all","type":"PREPARE","value":1,"timestamp":"` + old + `"}`)
	if _, err := hub.accept(data); !errors.Is(err, ErrExpired) {
		t.Errorf("Expected ErrExpired, got %v", err)
	}

	fresh := time.Now().UTC().Format(time.RFC3339Nano)
	data = []byte(`{"from":0,"to":"all","type":"PREPARE","value":1,"timestamp":"` + fresh + `"}`)
	if _, err := hub.accept(data); err != nil {
		t.Errorf("Fresh message rejected: %v", err)
	}
}

func TestAcceptMessageSize(t *testing.T) {
	config := DefaultHubConfig()
	config.MaxMessageSize = 64
	hub := newTestHub(config)

	big := `{"from":0,"to":"all","type":"PREPARE","value":1,"nonce":"` + strings.Repeat("x", 64) + `"}`
	if _, err := hub.accept([]byte(big)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Expected ErrMessageTooLarge, got %v", err)
	}
	if _, err := hub.accept([]byte(`not json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestNewEventHubDefaultsQueue(t *testing.T) {
	hub := NewEventHub(HubConfig{}, nil, zerolog.Nop())

	if cap(hub.outChan) != DefaultHubConfig().QueueSize {
		t.Errorf("Expected default queue size, got %d", cap(hub.outChan))
	}
}
