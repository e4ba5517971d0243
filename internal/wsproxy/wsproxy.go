// Package wsproxy implements the reference proxy host (the external "host"
// boundary from the component design): a client-facing coder/websocket
// listener that mirrors every frame to an upstream coder/websocket
// connection, running each direction through the owning flow's hook
// engine and forwarding the engine's pass/modify/drop verdict.
package wsproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/liqi-mitm/core/internal/addon"
	"github.com/liqi-mitm/core/internal/hook"
)

// Sink receives flow lifecycle notifications. The addon package does not
// implement it directly (Addon.RegisterFlow/OnFlowEnd/OnFlowError are
// called by the Host itself); Sink exists for a second observer such as a
// control-channel status feed.
type Sink interface {
	OnFlowStart(peerKey string)
	OnFlowEnd(peerKey string)
	OnFlowError(peerKey string, err error)
}

// FlowBuilder constructs the per-connection Codec, waiter Registry and
// hook Engine and wraps them in an addon.Flow, wiring injector as the
// Flow's Injector so Addon.Inject reaches this connection. Callers supply
// this so wsproxy stays agnostic of hook policy (which methods get
// modified/dropped) — that belongs to whoever configures the Engine.
type FlowBuilder func(peerKey string, injector hook.Injector) *addon.Flow

// DialUpstream dials the real game server on behalf of one client
// connection. The default implementation uses coder/websocket directly;
// tests substitute a fake.
type DialUpstream func(ctx context.Context, r *http.Request) (*websocket.Conn, error)

// injectJob is one item in a flow's injection channel: the
// call_soon_threadsafe-equivalent primitive the spec's concurrency model
// requires, draining serially on the flow's own goroutine so an inject
// from PacketBot never races a concurrent upstream/downstream write.
type injectJob struct {
	toClient bool
	data     []byte
}

// Flow is one live MITM connection.
type Flow struct {
	PeerKey string
	ID      uuid.UUID

	client   *websocket.Conn
	upstream *websocket.Conn

	injectCh chan injectJob
	limiter  *rate.Limiter

	closeOnce sync.Once
}

// Inject implements hook.Injector by handing the bytes to this flow's own
// goroutine instead of writing them directly, so calls from any other
// goroutine (PacketBot, AutoRunner, a hook callback) are safe.
func (f *Flow) Inject(ctx context.Context, toClient bool, data []byte) error {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wsproxy: inject rate limited: %w", err)
		}
	}
	select {
	case f.injectCh <- injectJob{toClient: toClient, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Flow) close(code websocket.StatusCode, reason string) {
	f.closeOnce.Do(func() {
		close(f.injectCh)
		f.client.Close(code, reason)
		f.upstream.Close(code, reason)
	})
}

// Host owns the HTTP listener that accepts client connections, dials the
// matching upstream connection, and runs the bidirectional pump for each
// flow.
type Host struct {
	Addon  *addon.Addon
	Build  FlowBuilder
	Dial   DialUpstream
	Sink   Sink
	Logger *slog.Logger

	// InjectRate/InjectBurst cap inject bursts from a single flow; zero
	// InjectRate disables limiting.
	InjectRate  rate.Limit
	InjectBurst int
}

// New returns a Host. build and dial must be non-nil; sink may be nil.
func New(a *addon.Addon, build FlowBuilder, dial DialUpstream, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{Addon: a, Build: build, Dial: dial, Logger: logger}
}

// DefaultDial dials upstreamURL with coder/websocket, carrying the
// client's original headers and cookies — mirrors protocol/ws_client.go's
// DialWS, generalized to a fixed target URL rather than a per-call one.
func DefaultDial(upstreamURL string) DialUpstream {
	return func(ctx context.Context, r *http.Request) (*websocket.Conn, error) {
		opts := &websocket.DialOptions{HTTPHeader: r.Header.Clone()}
		conn, _, err := websocket.Dial(ctx, upstreamURL, opts)
		if err != nil {
			return nil, fmt.Errorf("wsproxy: dial upstream: %w", err)
		}
		conn.SetReadLimit(4 << 20)
		return conn, nil
	}
}

// HandleClient upgrades r to a WebSocket, dials the upstream connection,
// registers a new flow, and blocks until either side closes or errors.
func (h *Host) HandleClient(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	clientConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return fmt.Errorf("wsproxy: accept client: %w", err)
	}
	clientConn.SetReadLimit(4 << 20)

	upstreamConn, err := h.Dial(ctx, r)
	if err != nil {
		clientConn.Close(websocket.StatusInternalError, "upstream dial failed")
		return err
	}

	peerKey := uuid.NewString()
	var limiter *rate.Limiter
	if h.InjectRate > 0 {
		burst := h.InjectBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(h.InjectRate, burst)
	}

	flow := &Flow{
		PeerKey:  peerKey,
		ID:       uuid.New(),
		client:   clientConn,
		upstream: upstreamConn,
		injectCh: make(chan injectJob, 32),
		limiter:  limiter,
	}

	addonFlow := h.Build(peerKey, flow)
	h.Addon.RegisterFlow(addonFlow)
	if h.Sink != nil {
		h.Sink.OnFlowStart(peerKey)
	}
	h.Logger.Info("wsproxy.flow.started", "peer_key", peerKey, "flow_id", flow.ID)

	flowCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go h.pump(flowCtx, addonFlow, flow, true, flow.client, flow.upstream, errCh)
	go h.pump(flowCtx, addonFlow, flow, false, flow.upstream, flow.client, errCh)
	go h.drainInjects(flowCtx, flow, errCh)

	pumpErr := <-errCh
	cancel()
	flow.close(closeCodeFor(pumpErr), "flow ended")

	h.Addon.OnFlowEnd(peerKey)
	if pumpErr != nil && !errors.Is(pumpErr, context.Canceled) {
		h.Addon.OnFlowError(peerKey, pumpErr)
		if h.Sink != nil {
			h.Sink.OnFlowError(peerKey, pumpErr)
		}
	} else if h.Sink != nil {
		h.Sink.OnFlowEnd(peerKey)
	}
	h.Logger.Info("wsproxy.flow.ended", "peer_key", peerKey, "err", pumpErr)
	return pumpErr
}

// pump reads frames from src, dispatches them through the flow's hook
// engine, and writes the (possibly modified) result to dst. fromClient
// names the direction for bookkeeping and hook selection, not which
// connection is "src" — pump is used for both directions by swapping src
// and dst.
func (h *Host) pump(ctx context.Context, af *addon.Flow, flow *Flow, fromClient bool, src, dst *websocket.Conn, errCh chan<- error) {
	for {
		_, data, err := src.Read(ctx)
		if err != nil {
			errCh <- fmt.Errorf("wsproxy: read (from_client=%v): %w", fromClient, err)
			return
		}

		out, emit, err := af.Engine.Dispatch(ctx, data, fromClient, flow)
		if err != nil {
			h.Logger.Warn("wsproxy.dispatch.error", "peer_key", flow.PeerKey, "err", err)
			continue
		}
		if !emit {
			continue
		}
		if err := dst.Write(ctx, websocket.MessageBinary, out); err != nil {
			errCh <- fmt.Errorf("wsproxy: write (from_client=%v): %w", fromClient, err)
			return
		}
	}
}

// drainInjects serializes synthetic-frame writes onto the correct
// connection so they never interleave with a pump's own writes to the
// same destination from a different goroutine.
func (h *Host) drainInjects(ctx context.Context, flow *Flow, errCh chan<- error) {
	for {
		select {
		case job, ok := <-flow.injectCh:
			if !ok {
				return
			}
			dst := flow.upstream
			if job.toClient {
				dst = flow.client
			}
			if err := dst.Write(ctx, websocket.MessageBinary, job.data); err != nil {
				errCh <- fmt.Errorf("wsproxy: inject write: %w", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func closeCodeFor(err error) websocket.StatusCode {
	if err == nil {
		return websocket.StatusNormalClosure
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.StatusInternalError
}
