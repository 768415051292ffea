package bus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const defaultQueueSize = 1024

// StackFlow is the typed event queue + handler registry + workflow
// registry from spec.md §4.J-K: a bounded FIFO dispatched to registered
// handlers on a single dedicated worker goroutine, which also
// considers every registered workflow as a candidate trigger for each
// event.
type StackFlow struct {
	name string
	log  *zap.Logger

	running       atomic.Bool
	stopRequested atomic.Bool

	queue chan Event
	quit  chan struct{}

	hmu      sync.RWMutex
	handlers map[Tag][]EventHandler

	wmu       sync.RWMutex
	workflows map[string]*WorkflowStep

	handlerTimeout time.Duration

	wg sync.WaitGroup

	processed atomic.Uint64
	executed  atomic.Uint64
	errors    atomic.Uint64
}

// NewStackFlow constructs a StackFlow with a bounded queue of
// queueSize (defaultQueueSize if <= 0). Start must be called before
// PublishEvent will succeed.
func NewStackFlow(name string, queueSize int, log *zap.Logger) *StackFlow {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StackFlow{
		name:      name,
		log:       log.Named("bus.stackflow").With(zap.String("name", name)),
		queue:     make(chan Event, queueSize),
		quit:      make(chan struct{}),
		handlers:  make(map[Tag][]EventHandler),
		workflows: make(map[string]*WorkflowStep),
	}
}

// WithHandlerTimeout installs a non-fatal watchdog: if a handler call
// runs longer than d, a warning is logged (Go cannot preempt a running
// goroutine, so this is observability only, not enforcement).
func (s *StackFlow) WithHandlerTimeout(d time.Duration) *StackFlow {
	s.handlerTimeout = d
	return s
}

// RegisterHandler adds h to the ordered list of handlers dispatched for
// tag. Multiple handlers per tag are allowed and run in registration
// order; duplicate registrations of the same handler value are
// dispatched once per registration (spec.md §9 Open Question,
// resolved).
func (s *StackFlow) RegisterHandler(tag Tag, h EventHandler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.handlers[tag] = append(s.handlers[tag], h)
}

// UnregisterHandler removes the first registration of h under tag,
// reporting whether one was found.
func (s *StackFlow) UnregisterHandler(tag Tag, h EventHandler) bool {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	list := s.handlers[tag]
	for i, existing := range list {
		if existing == h {
			s.handlers[tag] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// RegisterWorkflow names a workflow tree so ExecuteWorkflow and the
// per-event dispatch loop can find it.
func (s *StackFlow) RegisterWorkflow(name string, root *WorkflowStep) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.workflows[name] = root
}

// Start spawns the single worker goroutine. Calling Start twice is a
// no-op.
func (s *StackFlow) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.stopRequested.Store(false)
	s.quit = make(chan struct{})
	s.wg.Add(1)
	go s.loop()
	s.log.Info("stackflow started")
}

func (s *StackFlow) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			// Any events still buffered in s.queue are dropped here,
			// per spec.md §4.K non-durable semantics.
			return
		case ev := <-s.queue:
			s.dispatch(ev)
		}
	}
}

// dispatch runs every handler registered for ev.Tag (in registration
// order, snapshotted under the read lock so user code never runs while
// holding it), then offers ev as a trigger to every registered
// workflow.
func (s *StackFlow) dispatch(ev Event) {
	s.hmu.RLock()
	snapshot := append([]EventHandler(nil), s.handlers[ev.Tag]...)
	s.hmu.RUnlock()

	for _, h := range snapshot {
		if !s.callHandler(h, ev) {
			s.errors.Add(1)
		}
	}
	s.processed.Add(1)

	s.wmu.RLock()
	names := make([]string, 0, len(s.workflows))
	roots := make([]*WorkflowStep, 0, len(s.workflows))
	for name, root := range s.workflows {
		names = append(names, name)
		roots = append(roots, root)
	}
	s.wmu.RUnlock()

	for i, root := range roots {
		ok := root.Execute(context.Background(), ev)
		s.executed.Add(1)
		if !ok {
			s.errors.Add(1)
			s.log.Debug("workflow failed", zap.String("workflow", names[i]))
		}
	}
}

func (s *StackFlow) callHandler(h EventHandler, ev Event) (result bool) {
	if s.handlerTimeout <= 0 {
		return s.safeHandle(h, ev)
	}
	done := make(chan bool, 1)
	go func() { done <- s.safeHandle(h, ev) }()
	select {
	case result = <-done:
		return result
	case <-time.After(s.handlerTimeout):
		s.log.Warn("handler exceeded timeout", zap.String("handler", h.Name()), zap.Duration("timeout", s.handlerTimeout))
		return <-done // still wait; Go cannot cancel the goroutine
	}
}

func (s *StackFlow) safeHandle(h EventHandler, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panicked", zap.String("handler", h.Name()), zap.Any("panic", r))
			ok = false
		}
	}()
	return h.Handle(ev)
}

// PublishEvent enqueues ev for dispatch. Non-blocking: if the queue is
// full, ErrQueueFull is returned immediately (spec.md §7 QueueFull).
func (s *StackFlow) PublishEvent(ev Event) error {
	if !s.running.Load() || s.stopRequested.Load() {
		return ErrNotRunning
	}
	select {
	case s.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// ExecuteWorkflow runs a registered workflow synchronously from the
// caller's perspective (outside the worker goroutine) and returns
// whether its root resolved without failing (Completed, or Skipped for a
// Condition root whose predicate is false).
func (s *StackFlow) ExecuteWorkflow(ctx context.Context, name string, trigger Event) (bool, error) {
	s.wmu.RLock()
	root, ok := s.workflows[name]
	s.wmu.RUnlock()
	if !ok {
		return false, ErrWorkflowNotFound
	}
	return root.Execute(ctx, trigger), nil
}

// Stop requests the worker to exit after its current event (any events
// still queued are dropped) and joins it. Safe to call once; repeated
// calls are no-ops.
func (s *StackFlow) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.stopRequested.Store(true)
	close(s.quit)
	s.wg.Wait()
	s.log.Info("stackflow stopped")
}

// Processed, Executed, Errors expose the §6 operational counters.
func (s *StackFlow) Processed() uint64 { return s.processed.Load() }
func (s *StackFlow) Executed() uint64  { return s.executed.Load() }
func (s *StackFlow) Errors() uint64    { return s.errors.Load() }
