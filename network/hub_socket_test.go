package network

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/VanDung-dev/PBFT-Simulator/consensus"
	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
)

func freeTCPAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return "tcp://" + addr
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestEventHubLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens TCP sockets")
	}

	config := DefaultHubConfig()
	config.PubAddress = freeTCPAddress(t)
	config.PullAddress = freeTCPAddress(t)

	injected := make(chan consensus.InjectRequest, 1)
	hub := NewEventHub(config, func(ctx context.Context, req consensus.InjectRequest) error {
		injected <- req
		return nil
	}, zerolog.Nop())
	if err := hub.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer hub.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := zmq4.NewSub(ctx)
	defer sub.Close()
	if err := sub.SetOption(zmq4.OptionSubscribe, string(consensus.EventConsensusReached)); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Dial(config.PubAddress); err != nil {
		t.Fatalf("Dial pub failed: %v", err)
	}

	received := make(chan zmq4.Msg, 1)
	go func() {
		msg, err := sub.Recv()
		if err == nil {
			received <- msg
		}
	}()

	// Events published before the subscription reaches the PUB socket are
	// lost, so keep publishing until one arrives.
	ev := consensus.Event{
		Seq:     3,
		Kind:    consensus.EventConsensusReached,
		Payload: consensus.ConsensusPayload{Value: 42},
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)

	var msg zmq4.Msg
recv:
	for {
		select {
		case msg = <-received:
			break recv
		case <-ticker.C:
			if err := hub.Publish(ev); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}
		case <-deadline:
			t.Fatal("No event received on the SUB socket")
		}
	}

	if len(msg.Frames) != 2 || string(msg.Frames[0]) != "consensus_reached" {
		t.Fatalf("Unexpected frames %q", msg.Frames)
	}
	var decoded struct {
		Event   string `json:"event"`
		Payload struct {
			Value int `json:"value"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(msg.Frames[1], &decoded); err != nil {
		t.Fatalf("Invalid event JSON: %v", err)
	}
	if decoded.Event != "consensus_reached" || decoded.Payload.Value != 42 {
		t.Errorf("Unexpected event %+v", decoded)
	}

	push := zmq4.NewPush(ctx)
	defer push.Close()
	if err := push.Dial(config.PullAddress); err != nil {
		t.Fatalf("Dial pull failed: %v", err)
	}
	data := []byte(`{"from":1,"to":"all","type":"COMMIT","value":9,"nonce":"loopback"}`)
	if err := push.Send(zmq4.NewMsg(data)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case req := <-injected:
		want := consensus.InjectRequest{From: 1, To: consensus.TargetAll, Type: consensus.MsgCommit, Value: 9}
		if req != want {
			t.Errorf("Expected %+v, got %+v", want, req)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Injection never reached the handler")
	}

	ok := waitFor(t, time.Second, func() bool {
		stats := hub.GetStats()
		return stats.Published >= 1 && stats.Injected == 1
	})
	if !ok {
		t.Errorf("Unexpected stats %+v", hub.GetStats())
	}
}
