// Package packetbot implements the precondition-checked façade (C6) over
// the addon's inject-and-wait primitive.
package packetbot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liqi-mitm/core/internal/addon"
	"github.com/liqi-mitm/core/internal/codec"
	"github.com/liqi-mitm/core/internal/gamestate"
)

// errorCodeField is the field number this module's synthetic RPC bodies
// use to carry an inline business error code. There is no generated
// schema to read a real field number from (protobuf schema generation is
// out of scope), so every response body here is treated generically and
// inspected by this one documented convention.
const errorCodeField = 99

// Result is the three-tuple contract every RPC wrapper returns.
type Result struct {
	OK     bool
	Reason string
	Resp   *codec.Frame
}

// StateGetter returns the current game-state snapshot PacketBot reads its
// preconditions from.
type StateGetter func() gamestate.Snapshot

// Bot is a precondition-checked façade over Addon.Inject plus the
// matching flow's waiter registry.
type Bot struct {
	Addon          *addon.Addon
	PeerKey        string // empty string defers to the addon's flow-selection fallback
	DefaultTimeout time.Duration
	State          StateGetter
	Logger         *slog.Logger
}

// New returns a Bot. PeerKey may be left empty to always use the addon's
// preferred/last-seen flow.
func New(a *addon.Addon, state StateGetter, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{Addon: a, State: state, DefaultTimeout: 5 * time.Second, Logger: logger}
}

// precondition is a stage/ownership/affordability gate; it returns a short
// descriptive reason on failure.
type precondition func(gamestate.Snapshot) (bool, string)

// call runs the full inject-and-wait sequence: precondition check,
// register_waiter, inject, wait with deadline, and business-error
// inspection. Waiter registration happens strictly before Inject is
// called, avoiding the register-after-inject race the original driver had.
func (b *Bot) call(ctx context.Context, method string, body *codec.Message, pre precondition) Result {
	if pre != nil {
		snap := b.State()
		if ok, reason := pre(snap); !ok {
			return Result{Reason: reason}
		}
	}

	flow, ok := b.Addon.Flow(b.PeerKey)
	if !ok {
		return Result{Reason: "no-active-flow"}
	}

	id := flow.Codec.AllocateInjectID()
	if err := flow.Waiters.Register(id); err != nil {
		return Result{Reason: fmt.Sprintf("register-failed:%s", err)}
	}

	res := b.Addon.Inject(ctx, method, body, codec.KindReq, b.PeerKey, &id)
	if !res.OK {
		flow.Waiters.Discard(id)
		return Result{Reason: res.Reason}
	}

	timeout := b.DefaultTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := flow.Waiters.Wait(wctx, id); err != nil {
		flow.Waiters.Discard(id)
		return Result{Reason: "timeout"}
	}

	resp, _ := flow.Waiters.PopResponse(id)
	if code, hasErr := businessErrorCode(resp); hasErr {
		return Result{Reason: fmt.Sprintf("error code: %d", code), Resp: resp}
	}
	return Result{OK: true, Reason: "ok", Resp: resp}
}

func businessErrorCode(resp *codec.Frame) (int64, bool) {
	if resp == nil || resp.Body == nil {
		return 0, false
	}
	for _, f := range resp.Body.Fields {
		if f.Number == errorCodeField && f.Varint != 0 {
			return int64(f.Varint), true
		}
	}
	return 0, false
}

func stageIs(want gamestate.Stage) precondition {
	return func(s gamestate.Snapshot) (bool, string) {
		if s.Stage != want {
			return false, fmt.Sprintf("precondition: wrong stage (have %d, want %d)", s.Stage, want)
		}
		return true, ""
	}
}

func requireOp(op int64) precondition {
	return func(s gamestate.Snapshot) (bool, string) {
		for _, o := range s.NextOperation {
			if o == op {
				return true, ""
			}
		}
		return false, fmt.Sprintf("precondition: operation %d not permitted", op)
	}
}

func allOf(preds ...precondition) precondition {
	return func(s gamestate.Snapshot) (bool, string) {
		for _, p := range preds {
			if p == nil {
				continue
			}
			if ok, reason := p(s); !ok {
				return false, reason
			}
		}
		return true, ""
	}
}
