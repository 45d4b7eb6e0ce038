package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// HeaderTraceID carries an upstream correlation id on signal messages.
const HeaderTraceID = "trace_id"

// ConsumerHook observes message handling. BeforeHandle may reject a message by returning
// an error, which skips the handler and sends the message down the failure path.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error)
	AfterHandle(ctx context.Context, km kafka.Message, err error)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ kafka.Message) (context.Context, error) {
	return ctx, nil
}

func (NoopHook) AfterHandle(context.Context, kafka.Message, error) {}

// HookFuncs adapts plain functions to ConsumerHook. Nil functions are skipped.
type HookFuncs struct {
	Before func(context.Context, kafka.Message) (context.Context, error)
	After  func(context.Context, kafka.Message, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error) {
	if h.Before == nil {
		return ctx, nil
	}
	return h.Before(ctx, km)
}

func (h HookFuncs) AfterHandle(ctx context.Context, km kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, km, err)
	}
}

type ctxKey string

const (
	ctxTraceID   ctxKey = "trace_id"
	ctxStartTime ctxKey = "start_time"
)

// TraceHook copies the trace header into the handler context and stamps the start time.
type TraceHook struct{}

func (TraceHook) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error) {
	ctx = context.WithValue(ctx, ctxStartTime, time.Now())
	if id := ExtractTraceID(km); id != "" {
		ctx = context.WithValue(ctx, ctxTraceID, id)
	}
	return ctx, nil
}

func (TraceHook) AfterHandle(context.Context, kafka.Message, error) {}

// ExtractTraceID returns the trace header of km, or "".
func ExtractTraceID(km kafka.Message) string {
	for _, h := range km.Headers {
		if h.Key == HeaderTraceID {
			return string(h.Value)
		}
	}
	return ""
}

// TraceID returns the trace id stored by TraceHook.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(ctxTraceID).(string)
	return v
}

// Elapsed returns the time since TraceHook saw the message, or 0.
func Elapsed(ctx context.Context) time.Duration {
	t, ok := ctx.Value(ctxStartTime).(time.Time)
	if !ok {
		return 0
	}
	return time.Since(t)
}

// Hooks runs several hooks. BeforeHandle stops at the first error; AfterHandle runs in reverse.
type Hooks []ConsumerHook

func (hs Hooks) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error) {
	for _, h := range hs {
		var err error
		if ctx, err = h.BeforeHandle(ctx, km); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

func (hs Hooks) AfterHandle(ctx context.Context, km kafka.Message, err error) {
	for i := len(hs) - 1; i >= 0; i-- {
		hs[i].AfterHandle(ctx, km, err)
	}
}
