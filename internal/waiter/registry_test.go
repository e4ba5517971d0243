package waiter

import (
	"context"
	"testing"
	"time"

	"github.com/liqi-mitm/core/internal/codec"
)

func TestRegisterResolveWaitPop(t *testing.T) {
	r := New()
	if err := r.Register(0x1234); err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := &codec.Frame{Kind: codec.KindRes, MsgID: 0x1234}
	r.Resolve(0x1234, want)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Wait(ctx, 0x1234); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got, ok := r.PopResponse(0x1234)
	if !ok || got != want {
		t.Fatalf("PopResponse mismatch: got=%v ok=%v", got, ok)
	}
	if r.Len() != 0 {
		t.Fatalf("expected registry empty after pop, got %d", r.Len())
	}
}

func TestResolveWithoutWaiterIsNoop(t *testing.T) {
	r := New()
	r.Resolve(5, &codec.Frame{}) // must not panic
}

func TestDuplicateRegisterFails(t *testing.T) {
	r := New()
	if err := r.Register(1); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(1); err == nil {
		t.Fatalf("expected duplicate waiter error")
	}
}

func TestTimeoutThenDiscardLeavesNoTrace(t *testing.T) {
	r := New()
	if err := r.Register(9); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := r.Wait(ctx, 9)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	r.Discard(9)
	if r.Len() != 0 {
		t.Fatalf("expected waiter absent after discard, got %d", r.Len())
	}
	if _, ok := r.PopResponse(9); ok {
		t.Fatalf("expected PopResponse to report absent waiter")
	}
}

func TestCrossGoroutineResolve(t *testing.T) {
	r := New()
	if err := r.Register(42); err != nil {
		t.Fatalf("Register: %v", err)
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		r.Resolve(42, &codec.Frame{MsgID: 42})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Wait(ctx, 42); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, ok := r.PopResponse(42); !ok {
		t.Fatalf("expected resolved response")
	}
}
