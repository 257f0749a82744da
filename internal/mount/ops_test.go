package mount

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOpRegistryCancel(t *testing.T) {
	r := newOpRegistry()

	ctx, finish := r.begin(context.Background(), opGoto)
	go func() {
		<-ctx.Done()
		finish()
	}()

	if _, ok := r.context(opGoto); !ok || len(r.active) != 1 {
		t.Fatalf("running = %v count = %d, want goto running", ok, len(r.active))
	}
	if err := r.cancel(time.Second, opRaPulse); err != nil {
		t.Fatalf("cancel of an idle kind: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("cancelling another kind cancelled goto")
	}

	if err := r.cancelAll(time.Second); err != nil {
		t.Fatalf("cancelAll: %v", err)
	}
	r.mu.Lock()
	remaining := len(r.active)
	r.mu.Unlock()
	if remaining != 0 {
		t.Error("Expected goto removed after finish")
	}
}

func TestOpRegistryCancelTimeout(t *testing.T) {
	r := newOpRegistry()
	_, finish := r.begin(context.Background(), opDecPulse)
	defer finish()

	err := r.cancel(20*time.Millisecond, opDecPulse)
	if !errors.Is(err, ErrAxesNotStopped) {
		t.Errorf("error = %v, want ErrAxesNotStopped", err)
	}
}

func TestOpRegistryContext(t *testing.T) {
	r := newOpRegistry()
	if _, ok := r.context(opHcPulse); ok {
		t.Fatal("Expected no hc operation")
	}

	ctx, finish := r.begin(context.Background(), opHcPulse)
	got, ok := r.context(opHcPulse)
	if !ok || got != ctx {
		t.Fatal("Expected the running hc context")
	}

	finish()
	if _, ok := r.context(opHcPulse); ok {
		t.Error("Expected no hc operation after finish")
	}
	if ctx.Err() == nil {
		t.Error("finish must cancel the context")
	}
}

func TestOpRegistryStaleFinish(t *testing.T) {
	r := newOpRegistry()
	_, finishOld := r.begin(context.Background(), opGoto)
	r.cancel(time.Millisecond, opGoto)

	_, finishNew := r.begin(context.Background(), opGoto)
	defer finishNew()

	finishOld()
	if _, ok := r.context(opGoto); !ok {
		t.Error("finishing a replaced operation removed its successor")
	}
}
