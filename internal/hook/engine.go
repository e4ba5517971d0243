// Package hook implements the per-frame MITM pipeline: parse, bookkeeping,
// subscriber fan-out, policy dispatch, and application of the resulting
// pass/modify/drop/inject action.
package hook

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/liqi-mitm/core/internal/codec"
	"github.com/liqi-mitm/core/internal/tracing"
	"github.com/liqi-mitm/core/internal/waiter"
)

// Action is the outcome a hook function selects for a parsed frame.
type Action int

const (
	Pass Action = iota
	Modify
	Drop
	Inject
)

func (a Action) String() string {
	switch a {
	case Pass:
		return "pass"
	case Modify:
		return "modify"
	case Drop:
		return "drop"
	case Inject:
		return "inject"
	default:
		return "unknown"
	}
}

// Synthetic describes one additional frame a hook wants emitted alongside
// (or instead of) the triggering frame's own treatment.
type Synthetic struct {
	Kind     codec.Kind
	Method   string
	Body     *codec.Message
	MsgID    uint16
	HasMsgID bool
	ToClient bool // direction for the host's inject primitive
}

// Result is what an outbound/inbound policy function returns for a frame.
type Result struct {
	Action  Action
	Body    *codec.Message // used when Action == Modify
	Inserts []Synthetic     // used when Action == Inject
}

// Func is an outbound or inbound policy hook. Implementations must not
// block indefinitely — the proxy loop that calls them is single-threaded
// per connection.
type Func func(f *codec.Frame) Result

// Subscriber receives a read-only notification for every successfully
// parsed frame, regardless of the hook's eventual action. A subscriber
// that panics does not affect other subscribers or the pipeline.
type Subscriber func(f *codec.Frame)

// Injector is the host-provided primitive used to hand synthetic frames
// back to the proxy event loop. Implementations must be safe to call from
// a goroutine other than the one that owns the connection (the
// call_soon_threadsafe-equivalent the spec requires).
type Injector interface {
	Inject(ctx context.Context, toClient bool, data []byte) error
}

// Engine runs the per-frame pipeline for a single connection.
type Engine struct {
	Codec    *codec.Codec
	Waiters  *waiter.Registry
	Outbound Func
	Inbound  Func
	Logger   *slog.Logger

	// Tracer, if set, wraps each Dispatch call in a span. Nil disables
	// tracing entirely rather than falling back to a no-op tracer, so a
	// connection that never sets one pays no SDK overhead.
	Tracer *tracing.Tracer

	subscribers []Subscriber

	// OnFrame, if set, is invoked for every successfully parsed frame
	// (both directions) right after bookkeeping, letting the owning Addon
	// update its "last-seen" and "preferred flow" markers (C4) without the
	// hook engine knowing anything about flows itself.
	OnFrame func(fromClient bool, method string)
}

// New returns an Engine that logs to slog.Default(); set Logger to use a
// different logger.
func New(c *codec.Codec, w *waiter.Registry) *Engine {
	return &Engine{Codec: c, Waiters: w, Logger: slog.Default()}
}

// Subscribe registers a best-effort subscriber. Not safe for concurrent
// use with Dispatch from multiple goroutines; callers should subscribe
// before the connection starts processing frames.
func (e *Engine) Subscribe(s Subscriber) {
	e.subscribers = append(e.subscribers, s)
}

// Dispatch runs one frame through the pipeline: parse, bookkeeping,
// subscriber fan-out, hook, action. It returns the bytes to emit for the
// triggering frame (possibly the original raw bytes) and whether anything
// should be emitted at all (false for Drop).
func (e *Engine) Dispatch(ctx context.Context, raw []byte, fromClient bool, inj Injector) (_ []byte, _ bool, dispatchErr error) {
	var span trace.Span
	if e.Tracer != nil {
		ctx, span = e.Tracer.Start(ctx, "hook.dispatch", "from_client", fromClient)
		defer func() { tracing.End(span, dispatchErr) }()
	}

	view, err := e.Codec.ParseFrame(raw, fromClient)
	if err != nil {
		e.Logger.Warn("hook.frame.malformed", "err", err, "from_client", fromClient)
		return raw, true, nil
	}
	if span != nil {
		span.SetAttributes(attribute.String("method", view.Method), attribute.String("kind", view.Kind.String()))
	}

	if e.OnFrame != nil {
		e.OnFrame(fromClient, view.Method)
	}

	for _, s := range e.subscribers {
		e.safeNotify(s, view)
	}

	// Waiters must be resolved regardless of the eventual action — a drop
	// must not starve a caller blocked on this response.
	if !fromClient && view.Kind == codec.KindRes && view.HasMsgID {
		e.Waiters.Resolve(view.MsgID, view)
	}

	hookFn := e.Inbound
	if fromClient {
		hookFn = e.Outbound
	}
	if hookFn == nil {
		return raw, true, nil
	}
	result := hookFn(view)

	switch result.Action {
	case Pass:
		return raw, true, nil

	case Modify:
		view.Body = result.Body
		built, err := e.Codec.BuildFrame(view)
		if err != nil {
			e.Logger.Error("hook.build.failed", "err", err, "method", view.Method)
			return raw, true, nil
		}
		return built, true, nil

	case Drop:
		e.Logger.Debug("hook.frame.dropped", "method", view.Method, "kind", view.Kind.String())
		return nil, false, nil

	case Inject:
		e.applyInserts(ctx, result.Inserts, inj)
		return raw, true, nil

	default:
		return raw, true, nil
	}
}

func (e *Engine) applyInserts(ctx context.Context, inserts []Synthetic, inj Injector) {
	for _, s := range inserts {
		f := &codec.Frame{
			Kind:     s.Kind,
			Method:   s.Method,
			Body:     s.Body,
			MsgID:    s.MsgID,
			HasMsgID: s.HasMsgID,
		}
		built, err := e.Codec.BuildFrame(f)
		if err != nil {
			e.Logger.Error("hook.inject.build_failed", "err", err, "method", s.Method)
			continue
		}
		if inj == nil {
			e.Logger.Error("hook.inject.no_injector", "method", s.Method)
			continue
		}
		if err := inj.Inject(ctx, s.ToClient, built); err != nil {
			e.Logger.Error("hook.inject.failed", "err", err, "method", s.Method)
		}
	}
}

func (e *Engine) safeNotify(s Subscriber, f *codec.Frame) {
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error("hook.subscriber.panic", "recovered", fmt.Sprint(r))
		}
	}()
	s(f)
}
