package repository

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xhttp "Genesis/pkg/http"
)

type recordedPublish struct {
	topic string
	key   string
	value interface{}
}

type fakeProducer struct {
	msgs []recordedPublish
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.msgs = append(p.msgs, recordedPublish{topic: topic, key: string(key), value: value})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

type fakeQueue struct {
	types    []string
	payloads []interface{}
}

func (q *fakeQueue) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	q.types = append(q.types, msgType)
	q.payloads = append(q.payloads, payload)
	return nil
}

type execCall struct {
	kind, ticket, reason string
	sl, tp               *float64
}

type fakeExecutor struct {
	calls []execCall
}

func (e *fakeExecutor) ClosePosition(_ context.Context, ticket, reason string) error {
	e.calls = append(e.calls, execCall{kind: CommandClose, ticket: ticket, reason: reason})
	return nil
}

func (e *fakeExecutor) ModifyPosition(_ context.Context, ticket string, sl, tp *float64) error {
	e.calls = append(e.calls, execCall{kind: CommandModify, ticket: ticket, sl: sl, tp: tp})
	return nil
}

func (e *fakeExecutor) Close() error { return nil }

func TestKafkaBrokerKeysByTicket(t *testing.T) {
	p := &fakeProducer{}
	b := &KafkaBroker{producer: p, topic: "genesis.broker.commands"}
	sl := 1.09
	_ = b.ClosePosition(context.Background(), "T1", "model_exit")
	_ = b.ModifyPosition(context.Background(), "T1", &sl, nil)

	if len(p.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(p.msgs))
	}
	for _, m := range p.msgs {
		if m.topic != "genesis.broker.commands" || m.key != "T1" {
			t.Fatalf("unexpected publish %+v", m)
		}
	}
	cmd := p.msgs[0].value.(BrokerCommand)
	if cmd.Kind != CommandClose || cmd.Reason != "model_exit" {
		t.Fatalf("unexpected close command %+v", cmd)
	}
	mod := p.msgs[1].value.(BrokerCommand)
	if mod.Kind != CommandModify || mod.StopLoss == nil || *mod.StopLoss != 1.09 || mod.TakeProfit != nil {
		t.Fatalf("unexpected modify command %+v", mod)
	}
}

func TestQueueBrokerRoundTripThroughJob(t *testing.T) {
	q := &fakeQueue{}
	b := NewQueueBroker(q)
	tp := 1.12
	_ = b.ClosePosition(context.Background(), "T7", "stop_loss")
	_ = b.ModifyPosition(context.Background(), "T7", nil, &tp)

	exec := &fakeExecutor{}
	job := NewBrokerCommandJob(exec, nil)
	for i, payload := range q.payloads {
		if q.types[i] != BrokerCommandType || job.Type() != BrokerCommandType {
			t.Fatalf("unexpected message type %s", q.types[i])
		}
		raw, _ := json.Marshal(payload)
		if err := job.Handle(context.Background(), raw); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if len(exec.calls) != 2 {
		t.Fatalf("expected 2 executor calls, got %d", len(exec.calls))
	}
	if exec.calls[0].kind != CommandClose || exec.calls[0].reason != "stop_loss" {
		t.Fatalf("unexpected close call %+v", exec.calls[0])
	}
	if exec.calls[1].tp == nil || *exec.calls[1].tp != 1.12 || exec.calls[1].sl != nil {
		t.Fatalf("unexpected modify call %+v", exec.calls[1])
	}

	if err := job.Handle(context.Background(), json.RawMessage(`{"kind":"explode","ticket":"T7"}`)); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestOANDABrokerRequests(t *testing.T) {
	type seen struct {
		method, path, auth, body string
	}
	var got []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = append(got, seen{r.Method, r.URL.Path, r.Header.Get("Authorization"), string(b)})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := xhttp.NewClient(xhttp.WithTimeout(time.Second), xhttp.WithHeader("Authorization", "Bearer tok"))
	b := NewOANDABroker(client, srv.URL, "001-1")
	sl := 1.0855
	if err := b.ClosePosition(context.Background(), "99", "take_profit"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.ModifyPosition(context.Background(), "99", &sl, nil); err != nil {
		t.Fatalf("modify: %v", err)
	}
	if err := b.ModifyPosition(context.Background(), "99", nil, nil); err != nil {
		t.Fatalf("empty modify: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(got))
	}
	if got[0].method != http.MethodPut || got[0].path != "/v3/accounts/001-1/trades/99/close" || !strings.Contains(got[0].body, `"units":"ALL"`) {
		t.Fatalf("unexpected close request %+v", got[0])
	}
	if got[1].path != "/v3/accounts/001-1/trades/99/orders" || !strings.Contains(got[1].body, `"stopLoss":{"price":"1.0855"}`) {
		t.Fatalf("unexpected modify request %+v", got[1])
	}
	if got[0].auth != "Bearer tok" {
		t.Fatalf("default header not sent, got %q", got[0].auth)
	}
}
