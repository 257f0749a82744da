package hardware

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/pkg/coordinates"
)

// Device executes commands against a mount. Execute is only ever called from
// the queue worker, so devices need not be safe for concurrent commands.
type Device interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Execute(ctx context.Context, cmd Command) (Result, error)
}

// Handle is a queued command. It completes exactly once.
type Handle struct {
	id  uint64
	cmd Command

	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

// ID returns the request id.
func (h *Handle) ID() uint64 { return h.id }

// Done is closed when the result is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) complete(r Result, err error) {
	h.once.Do(func() {
		r.ID = h.id
		r.Kind = h.cmd.Kind
		h.result = r
		h.err = err
		close(h.done)
	})
}

// EventKind is the kind of a queue notification.
type EventKind int

const (
	// PositionsChanged carries new axis positions
	PositionsChanged EventKind = iota

	// PulseGuidingChanged carries new pulse guiding flags
	PulseGuidingChanged
)

// Event is a notification published to subscribers.
type Event struct {
	Kind         EventKind
	Positions    coordinates.Axes
	PulseGuiding [2]bool
}

// Queue serialises commands to a Device.
type Queue struct {
	dev Device
	log logging.Logger

	cmds    chan *Handle
	nextID  atomic.Uint64
	running atomic.Bool

	// mu orders Enqueue against Stop
	mu      sync.RWMutex
	stop    chan struct{}
	stopped chan struct{}

	subMu       sync.Mutex
	subs        map[chan Event]struct{}
	lastGuiding [2]bool
	haveGuiding bool
}

// NewQueue creates a queue for dev. Start must be called before Enqueue.
func NewQueue(dev Device, log logging.Logger) *Queue {
	if log == nil {
		log = logging.Noop()
	}
	return &Queue{
		dev:  dev,
		log:  log.With(logging.String("device", dev.Name())),
		cmds: make(chan *Handle, 64),
		subs: make(map[chan Event]struct{}),
	}
}

// Start connects the device and starts the worker.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running.Load() {
		return nil
	}
	if err := q.dev.Connect(ctx); err != nil {
		return fmt.Errorf("%w: connect %s: %v", ErrDeviceFault, q.dev.Name(), err)
	}

	q.stop = make(chan struct{})
	q.stopped = make(chan struct{})
	q.running.Store(true)
	go q.worker(q.stop, q.stopped)

	q.log.Info(ctx, "hardware queue started")
	return nil
}

// Stop halts the worker, fails pending commands with ErrQueueStopped and
// disconnects the device.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.running.Load() {
		q.mu.Unlock()
		return
	}
	q.running.Store(false)
	close(q.stop)
	stopped := q.stopped
	q.mu.Unlock()

	<-stopped

	// drain anything queued after the worker exited
	for {
		select {
		case h := <-q.cmds:
			h.complete(Result{}, ErrQueueStopped)
		default:
			if err := q.dev.Disconnect(ctx); err != nil {
				q.log.Warn(ctx, "device disconnect failed", logging.Err(err))
			}
			q.log.Info(ctx, "hardware queue stopped")
			return
		}
	}
}

// IsRunning reports whether the queue accepts commands.
func (q *Queue) IsRunning() bool {
	return q.running.Load()
}

// Enqueue submits a command and returns its handle without waiting.
func (q *Queue) Enqueue(cmd Command) (*Handle, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.running.Load() {
		return nil, ErrQueueStopped
	}

	h := &Handle{
		id:   q.nextID.Add(1),
		cmd:  cmd,
		done: make(chan struct{}),
	}

	select {
	case q.cmds <- h:
		return h, nil
	case <-q.stop:
		return nil, ErrQueueStopped
	}
}

// Result blocks until h completes or ctx is done.
func (q *Queue) Result(ctx context.Context, h *Handle) (Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Do enqueues cmd and waits for its result.
func (q *Queue) Do(ctx context.Context, cmd Command) (Result, error) {
	h, err := q.Enqueue(cmd)
	if err != nil {
		return Result{}, err
	}
	return q.Result(ctx, h)
}

// Subscribe returns a channel of queue events and a cleanup function.
// Slow subscribers miss events rather than blocking the worker.
func (q *Queue) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	q.subMu.Lock()
	q.subs[ch] = struct{}{}
	q.subMu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			q.subMu.Lock()
			delete(q.subs, ch)
			q.subMu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (q *Queue) worker(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-stop:
			return
		case h := <-q.cmds:
			r, err := q.dev.Execute(ctx, h.cmd)
			if err != nil {
				q.log.Error(ctx, "command failed",
					logging.String("command", h.cmd.Kind.String()),
					logging.Any("id", h.id),
					logging.Err(err))
				h.complete(r, fmt.Errorf("%w: %s: %v", ErrDeviceFault, h.cmd.Kind, err))
				continue
			}
			h.complete(r, nil)
			q.publish(r)
		}
	}
}

func (q *Queue) publish(r Result) {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	var events []Event
	if r.Kind == QueryPositions {
		events = append(events, Event{Kind: PositionsChanged, Positions: r.Positions, PulseGuiding: r.PulseGuiding})
	}
	if !q.haveGuiding || q.lastGuiding != r.PulseGuiding {
		q.haveGuiding = true
		q.lastGuiding = r.PulseGuiding
		events = append(events, Event{Kind: PulseGuidingChanged, Positions: r.Positions, PulseGuiding: r.PulseGuiding})
	}

	for ch := range q.subs {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
				// subscriber full, skip
			}
		}
	}
}
