// Package addon owns the Codec and waiter registry per live flow, tracks
// the "preferred flow" used as the default injection target, and exposes
// the inject(method, body, kind, ...) API that PacketBot (C6) builds on.
package addon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/liqi-mitm/core/internal/codec"
	"github.com/liqi-mitm/core/internal/hook"
	"github.com/liqi-mitm/core/internal/waiter"
)

// Flow is one live MITM connection: its own Codec (and therefore its own
// resp_map / last_client_req_id), its own waiter registry, hook engine,
// and the host-provided injector that actually writes bytes to the wire.
type Flow struct {
	PeerKey  string
	Codec    *codec.Codec
	Waiters  *waiter.Registry
	Engine   *hook.Engine
	Injector hook.Injector
}

// Addon is the single owner of all live flows. There is exactly one Addon
// per process, constructed by the host and passed down explicitly — no
// package-level "current addon" global.
type Addon struct {
	mu    sync.RWMutex
	flows map[string]*Flow

	preferredKey string
	lastKey      string

	preferredMethods map[string]struct{}
	logger           *slog.Logger
}

// New returns an Addon that treats any inbound frame whose method is in
// preferredMethods as a marker that its flow is "the" game session.
func New(preferredMethods []string, logger *slog.Logger) *Addon {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]struct{}, len(preferredMethods))
	for _, m := range preferredMethods {
		set[m] = struct{}{}
	}
	return &Addon{
		flows:            make(map[string]*Flow),
		preferredMethods: set,
		logger:           logger,
	}
}

// RegisterFlow adds a live flow and wires its engine's bookkeeping
// callback back into this Addon's preferred/last-seen tracking.
func (a *Addon) RegisterFlow(f *Flow) {
	f.Engine.OnFrame = func(fromClient bool, method string) {
		a.touch(f.PeerKey, fromClient, method)
	}

	a.mu.Lock()
	a.flows[f.PeerKey] = f
	a.mu.Unlock()

	a.logger.Info("addon.flow.registered", "peer_key", f.PeerKey)
}

// OnFlowEnd clears a terminated flow. If it was the preferred flow, the
// marker is cleared too, per the spec's explicit rule.
func (a *Addon) OnFlowEnd(peerKey string) {
	a.mu.Lock()
	delete(a.flows, peerKey)
	if a.preferredKey == peerKey {
		a.preferredKey = ""
	}
	if a.lastKey == peerKey {
		a.lastKey = ""
	}
	a.mu.Unlock()
	a.logger.Info("addon.flow.ended", "peer_key", peerKey)
}

// OnFlowError behaves like OnFlowEnd: a broken flow can no longer serve as
// an injection target.
func (a *Addon) OnFlowError(peerKey string, err error) {
	a.logger.Warn("addon.flow.error", "peer_key", peerKey, "err", err)
	a.OnFlowEnd(peerKey)
}

func (a *Addon) touch(peerKey string, fromClient bool, method string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastKey = peerKey
	if !fromClient {
		if _, ok := a.preferredMethods[method]; ok {
			a.preferredKey = peerKey
		}
	}
}

// pickFlow implements the 3-tier fallback: an explicit peer_key, else the
// preferred flow, else the most recently active flow.
func (a *Addon) pickFlow(peerKey string) (*Flow, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if peerKey != "" {
		f, ok := a.flows[peerKey]
		return f, ok
	}
	if a.preferredKey != "" {
		if f, ok := a.flows[a.preferredKey]; ok {
			return f, true
		}
	}
	if a.lastKey != "" {
		if f, ok := a.flows[a.lastKey]; ok {
			return f, true
		}
	}
	return nil, false
}

// InjectResult is the three-tuple contract used throughout the core for
// ops that can fail for a defined set of reasons.
type InjectResult struct {
	OK     bool
	Reason string
	MsgID  uint16
}

// Inject builds and hands off a synthetic frame. Per the spec, the caller
// must register any waiter it needs on the returned MsgID *before* this
// call returns control to anything that might observe the response —
// Inject itself registers the resp_map entry synchronously before handing
// bytes to the host, but it is still the caller's responsibility to
// sequence waiter.Register ahead of calling Inject (PacketBot does this).
func (a *Addon) Inject(ctx context.Context, method string, body *codec.Message, kind codec.Kind, peerKey string, forceID *uint16) InjectResult {
	flow, ok := a.pickFlow(peerKey)
	if !ok {
		return InjectResult{Reason: "no-active-flow"}
	}

	var msgID uint16
	hasMsgID := kind == codec.KindReq || kind == codec.KindRes
	if hasMsgID {
		if forceID != nil {
			msgID = *forceID
		} else {
			msgID = flow.Codec.AllocateInjectID()
		}
	}

	f := &codec.Frame{Kind: kind, MsgID: msgID, HasMsgID: hasMsgID, Method: method, Body: body}
	built, err := flow.Codec.BuildFrame(f)
	if err != nil {
		return InjectResult{Reason: fmt.Sprintf("build-frame-failed:%s", err)}
	}

	// Re-parse to register resp_map just as if the bytes had been
	// observed on the wire from the client (Req) side.
	if _, err := flow.Codec.ParseFrame(built, kind == codec.KindReq); err != nil {
		a.logger.Warn("addon.inject.reparse_failed", "err", err, "method", method)
	}

	if flow.Injector == nil {
		return InjectResult{Reason: "no-master-loop"}
	}

	toClient := kind != codec.KindReq
	if err := flow.Injector.Inject(ctx, toClient, built); err != nil {
		return InjectResult{Reason: fmt.Sprintf("inject-failed:%s", err)}
	}

	return InjectResult{OK: true, Reason: "ok", MsgID: msgID}
}

// Flow returns the live flow for peerKey, if any — used by callers that
// need direct access to a flow's waiter registry (PacketBot's
// register-before-inject sequencing).
func (a *Addon) Flow(peerKey string) (*Flow, bool) {
	return a.pickFlow(peerKey)
}
