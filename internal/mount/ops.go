package mount

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// opKind is a logical operation that owns a cancellation handle.
type opKind int

const (
	opGoto opKind = iota
	opRaPulse
	opDecPulse
	opHcPulse
)

func (k opKind) String() string {
	switch k {
	case opGoto:
		return "goto"
	case opRaPulse:
		return "ra-pulse"
	case opDecPulse:
		return "dec-pulse"
	case opHcPulse:
		return "hc-pulse"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

var allOps = []opKind{opGoto, opRaPulse, opDecPulse, opHcPulse}

// op is one running operation. done closes once when the operation has
// finished and left its axes stopped.
type op struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (o *op) finish() {
	o.once.Do(func() { close(o.done) })
}

// opRegistry holds the cancellation handle of every running operation.
type opRegistry struct {
	mu     sync.Mutex
	active map[opKind]*op
}

func newOpRegistry() *opRegistry {
	return &opRegistry{active: make(map[opKind]*op)}
}

// begin registers an operation of kind and returns its context and the
// function that marks it finished. A previous operation of the same kind
// must have been cancelled first.
func (r *opRegistry) begin(parent context.Context, kind opKind) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	o := &op{ctx: ctx, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.active[kind] = o
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		if r.active[kind] == o {
			delete(r.active, kind)
		}
		r.mu.Unlock()
		cancel()
		o.finish()
	}
}

// cancel cancels the given kinds and waits for them to finish, at most
// until timeout. It returns an error naming the first operation that did
// not finish in time.
func (r *opRegistry) cancel(timeout time.Duration, kinds ...opKind) error {
	r.mu.Lock()
	var waiting []*op
	var names []opKind
	for _, k := range kinds {
		if o, ok := r.active[k]; ok {
			o.cancel()
			waiting = append(waiting, o)
			names = append(names, k)
		}
	}
	r.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for i, o := range waiting {
		select {
		case <-o.done:
		case <-deadline.C:
			return fmt.Errorf("%w: %s still running", ErrAxesNotStopped, names[i])
		}
	}
	return nil
}

// cancelAll cancels every running operation.
func (r *opRegistry) cancelAll(timeout time.Duration) error {
	return r.cancel(timeout, allOps...)
}

// context returns the context of the running operation of kind.
func (r *opRegistry) context(kind opKind) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.active[kind]
	if !ok || o.ctx.Err() != nil {
		return nil, false
	}
	return o.ctx, true
}
