package packetbot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/liqi-mitm/core/internal/addon"
	"github.com/liqi-mitm/core/internal/codec"
	"github.com/liqi-mitm/core/internal/gamestate"
	"github.com/liqi-mitm/core/internal/hook"
	"github.com/liqi-mitm/core/internal/waiter"
)

type recordingInjector struct {
	count int
}

func (r *recordingInjector) Inject(ctx context.Context, toClient bool, data []byte) error {
	r.count++
	return nil
}

// testRig wires one live flow plus a Bot bound to it, and answers injected
// requests with a canned response frame as soon as the waiter for the
// predicted msg_id is registered.
type testRig struct {
	bot     *Bot
	flow    *addon.Flow
	inj     *recordingInjector
	snap    gamestate.Snapshot
}

func newRig(snap gamestate.Snapshot) *testRig {
	d := codec.NewDescriptor()
	c := codec.New(d)
	w := waiter.New()
	e := hook.New(c, w)
	inj := &recordingInjector{}
	flow := &addon.Flow{PeerKey: "p", Codec: c, Waiters: w, Engine: e, Injector: inj}

	a := addon.New(nil, nil)
	a.RegisterFlow(flow)

	b := New(a, func() gamestate.Snapshot { return snap }, nil)
	b.PeerKey = "p"
	b.DefaultTimeout = 200 * time.Millisecond

	return &testRig{bot: b, flow: flow, inj: inj, snap: snap}
}

// answerNextWith predicts the msg_id Bot.call is about to allocate (a pure
// read, not mutated by prediction) and resolves it with resp as soon as the
// waiter exists.
func (r *testRig) answerNextWith(resp *codec.Frame) {
	id := r.flow.Codec.AllocateInjectID()
	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if r.flow.Waiters.Len() > 0 {
				r.flow.Waiters.Resolve(id, resp)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func okResponse() *codec.Frame {
	return &codec.Frame{Kind: codec.KindRes, Body: &codec.Message{}}
}

func errResponse(code int64) *codec.Frame {
	return &codec.Frame{Kind: codec.KindRes, Body: &codec.Message{Fields: []codec.Field{
		{Number: errorCodeField, Type: 0, Varint: uint64(code)},
	}}}
}

func TestStartGameSucceeds(t *testing.T) {
	rig := newRig(gamestate.Snapshot{})
	rig.answerNextWith(okResponse())

	res := rig.bot.StartGame(context.Background())
	if !res.OK {
		t.Fatalf("expected success, got reason %q", res.Reason)
	}
	if rig.inj.count != 1 {
		t.Fatalf("expected exactly one injection, got %d", rig.inj.count)
	}
}

func TestBusinessErrorCodeSurfacesAsFailure(t *testing.T) {
	rig := newRig(gamestate.Snapshot{})
	rig.answerNextWith(errResponse(1004))

	res := rig.bot.StartGame(context.Background())
	if res.OK {
		t.Fatalf("expected business error to fail the call")
	}
	if !strings.Contains(res.Reason, "1004") {
		t.Fatalf("expected reason to mention the business code, got %q", res.Reason)
	}
}

func TestPreconditionBlocksBeforeInjectingAnything(t *testing.T) {
	rig := newRig(gamestate.Snapshot{Stage: gamestate.StageShop})

	res := rig.bot.NextLevel(context.Background())
	if res.OK {
		t.Fatalf("expected precondition failure")
	}
	if !strings.HasPrefix(res.Reason, "precondition:") {
		t.Fatalf("expected precondition-prefixed reason, got %q", res.Reason)
	}
	if rig.inj.count != 0 {
		t.Fatalf("precondition failure must not inject, got count %d", rig.inj.count)
	}
}

func TestDiscardRequiresTileInHandAndPermittedOp(t *testing.T) {
	snap := gamestate.Snapshot{
		Stage:         gamestate.StagePlay,
		HandTiles:     []int64{10, 11, 12},
		NextOperation: []int64{opDiscard},
	}
	rig := newRig(snap)
	rig.answerNextWith(okResponse())

	res := rig.bot.DiscardByTileID(context.Background(), 99)
	if res.OK {
		t.Fatalf("expected failure discarding a tile not in hand")
	}
	if rig.inj.count != 0 {
		t.Fatalf("expected no injection for a precondition failure, got %d", rig.inj.count)
	}

	res = rig.bot.DiscardByTileID(context.Background(), 11)
	if !res.OK {
		t.Fatalf("expected success discarding a tile in hand, got reason %q", res.Reason)
	}
}

func TestTimeoutDiscardsWaiterWithoutResolving(t *testing.T) {
	rig := newRig(gamestate.Snapshot{})
	// No answerNextWith: nothing ever resolves the waiter.

	res := rig.bot.StartGame(context.Background())
	if res.OK || res.Reason != "timeout" {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if rig.flow.Waiters.Len() != 0 {
		t.Fatalf("expected waiter to be discarded after timeout, got %d outstanding", rig.flow.Waiters.Len())
	}
}

func TestSortEffectRejectsNonPermutation(t *testing.T) {
	snap := gamestate.Snapshot{
		EffectList: []gamestate.Amulet{{UID: 1}, {UID: 2}, {UID: 3}},
	}
	rig := newRig(snap)

	res := rig.bot.SortEffect(context.Background(), []int64{1, 2})
	if res.OK {
		t.Fatalf("expected size-mismatch order to be rejected")
	}

	res = rig.bot.SortEffect(context.Background(), []int64{1, 2, 9})
	if res.OK {
		t.Fatalf("expected order with a foreign uid to be rejected")
	}

	rig.answerNextWith(okResponse())
	res = rig.bot.SortEffect(context.Background(), []int64{3, 1, 2})
	if !res.OK {
		t.Fatalf("expected a valid permutation to succeed, got reason %q", res.Reason)
	}
}
