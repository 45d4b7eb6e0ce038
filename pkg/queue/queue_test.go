package queue

import (
	"encoding/json"
	"testing"
	"time"
)

type command struct {
	Kind   string `json:"kind"`
	Ticket string `json:"ticket"`
}

func TestNewMessageAndDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload interface{}
	}{
		{name: "struct", payload: command{Kind: "close", Ticket: "T1"}},
		{name: "raw", payload: json.RawMessage(`{"kind":"close","ticket":"T1"}`)},
		{name: "map", payload: map[string]string{"kind": "close", "ticket": "T1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := newMessage("broker.command", tt.payload)
			if err != nil {
				t.Fatal(err)
			}
			if msg.ID == "" || msg.Type != "broker.command" || msg.EnqueuedAt.IsZero() {
				t.Fatalf("incomplete envelope %+v", msg)
			}
			b, _ := json.Marshal(msg)
			var back Message
			if err := json.Unmarshal(b, &back); err != nil {
				t.Fatal(err)
			}
			cmd, err := Decode[command](back.Payload)
			if err != nil {
				t.Fatal(err)
			}
			if cmd.Kind != "close" || cmd.Ticket != "T1" {
				t.Fatalf("decoded %+v", cmd)
			}
		})
	}
}

func TestDecodeRejectsWrongShape(t *testing.T) {
	if _, err := Decode[command](json.RawMessage(`[1,2]`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestRetryDelay(t *testing.T) {
	base := 10 * time.Second
	for attempt, want := range map[int]time.Duration{0: base, 1: base, 3: 3 * base} {
		if got := retryDelay(base, attempt); got != want {
			t.Errorf("retryDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestKeysArePerType(t *testing.T) {
	q := newRedisQueue(nil, nil, nil, ModeConsumerOnly, WithKeyPrefix("genesis:broker"))
	if got := q.messagesKey("broker.command"); got != "genesis:broker:broker.command:messages" {
		t.Errorf("messages key = %s", got)
	}
	if q.messagesKey("logs.aggregated") == q.messagesKey("broker.command") {
		t.Error("types share a list")
	}
	if got := q.deadLetterKey("broker.command"); got != "genesis:broker:broker.command:dlq" {
		t.Errorf("dlq key = %s", got)
	}
	if q.cfg.Workers != 1 || q.cfg.RetryDelay != 10*time.Second {
		t.Errorf("defaults not applied: %+v", q.cfg)
	}
}
