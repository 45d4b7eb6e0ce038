package logger

import (
	"context"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu    sync.Mutex
	calls int
	last  []AggregatedLogEntry
	topic string
	done  chan struct{}
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.topic = topic
	p.last, _ = payload.([]AggregatedLogEntry)
	select {
	case p.done <- struct{}{}:
	default:
	}
	return nil
}

func TestCollectorAggregatesDuplicateErrors(t *testing.T) {
	pub := &capturePublisher{done: make(chan struct{}, 1)}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "logs.errors",
		Publisher:      pub,
	})

	for i := 0; i < 3; i++ {
		c.AddLog("error", "market data fetch failed", map[string]interface{}{"symbol": "EUR_USD"}, "x.go:1")
	}
	c.AddLog("error", "market data fetch failed", map[string]interface{}{"symbol": "GBP_USD"}, "x.go:1")
	c.Close()

	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("collector did not flush on close")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topic != "logs.errors" {
		t.Fatalf("unexpected topic %q", pub.topic)
	}
	if len(pub.last) != 2 {
		t.Fatalf("expected 2 unique entries, got %d", len(pub.last))
	}
	total := 0
	for _, e := range pub.last {
		total += e.Count
	}
	if total != 4 {
		t.Fatalf("expected total count 4, got %d", total)
	}
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{done: make(chan struct{}, 1)}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")

	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("threshold did not trigger a flush")
	}
}

func TestLoggerErrorFeedsSharedCollector(t *testing.T) {
	pub := &capturePublisher{done: make(chan struct{}, 1)}
	root := NewNop()
	child := root.With("exit")
	root.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Publisher: pub})

	child.Warn("not collected")
	child.Error("broker modify failed", String("ticket", "T1"))
	root.RemoveCollector()

	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not flush")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.last) != 1 || pub.last[0].Message != "broker modify failed" || pub.last[0].Fields["ticket"] != "T1" {
		t.Fatalf("unexpected batch %+v", pub.last)
	}
}
