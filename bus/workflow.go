package bus

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// StepKind is the composition kind of a WorkflowStep.
type StepKind int

const (
	KindCondition StepKind = iota
	KindAction
	KindSequential
	KindParallel
)

func (k StepKind) String() string {
	switch k {
	case KindCondition:
		return "condition"
	case KindAction:
		return "action"
	case KindSequential:
		return "sequential"
	case KindParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// StepStatus is the terminal-state machine of a WorkflowStep:
// Pending -> Running -> (Completed|Failed|Skipped).
type StepStatus int32

const (
	StatusPending StepStatus = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusSkipped
)

func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ConditionFunc evaluates whether a Condition step's children should
// run.
type ConditionFunc func(ctx context.Context, trigger Event) bool

// ActionFunc performs a leaf unit of work, returning false on failure.
type ActionFunc func(ctx context.Context, trigger Event) bool

// WorkflowStep is a composable node in a workflow tree: Condition,
// Action, Sequential or Parallel composition of children (spec.md
// §4.L). A step is only ever executed by one goroutine at a time
// except for Parallel children, which run concurrently under a join
// barrier.
type WorkflowStep struct {
	Name      string
	Kind      StepKind
	Condition ConditionFunc
	Action    ActionFunc
	Children  []*WorkflowStep

	mu      sync.Mutex
	status  StepStatus
	failure error
}

// NewConditionStep builds a Condition node; if pred evaluates false the
// step resolves to Skipped without running children.
func NewConditionStep(name string, pred ConditionFunc, children ...*WorkflowStep) *WorkflowStep {
	return &WorkflowStep{Name: name, Kind: KindCondition, Condition: pred, Children: children}
}

// NewActionStep builds an Action leaf (or branch, if children are
// given — they run in sequential order after a successful action).
func NewActionStep(name string, action ActionFunc, children ...*WorkflowStep) *WorkflowStep {
	return &WorkflowStep{Name: name, Kind: KindAction, Action: action, Children: children}
}

// NewSequentialStep builds a Sequential composition: children run in
// order, stopping at the first Failed child.
func NewSequentialStep(name string, children ...*WorkflowStep) *WorkflowStep {
	return &WorkflowStep{Name: name, Kind: KindSequential, Children: children}
}

// NewParallelStep builds a Parallel composition: all children run
// concurrently; a failing child does not stop the others.
func NewParallelStep(name string, children ...*WorkflowStep) *WorkflowStep {
	return &WorkflowStep{Name: name, Kind: KindParallel, Children: children}
}

// Status returns the step's current terminal-or-not status.
func (w *WorkflowStep) Status() StepStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Err returns why the step failed, if it did: a childFailure for a
// failing Sequential/Condition child, or a multierr aggregate naming
// every failed Parallel branch. Nil unless Status is Failed.
func (w *WorkflowStep) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failure
}

func (w *WorkflowStep) setStatus(s StepStatus) {
	w.mu.Lock()
	w.status = s
	if s != StatusFailed {
		w.failure = nil
	}
	w.mu.Unlock()
}

func (w *WorkflowStep) setFailed(err error) {
	w.mu.Lock()
	w.status = StatusFailed
	w.failure = err
	w.mu.Unlock()
}

// Reset walks the tree post-order, returning every step (this one and
// all descendants) to Pending.
func (w *WorkflowStep) Reset() {
	for _, c := range w.Children {
		c.Reset()
	}
	w.setStatus(StatusPending)
}

// Execute runs this step (and, depending on kind, its children)
// against trigger. It returns false only when the step resolved to
// Failed: a Condition whose predicate is false resolves to Skipped and
// returns true, so an enclosing Sequential carries on past it.
// ctx cancellation resolves any step still Running at the time it
// fires to Failed, per the best-effort cancellation supplement in
// SPEC_FULL.md §13.
func (w *WorkflowStep) Execute(ctx context.Context, trigger Event) bool {
	if ctx.Err() != nil {
		w.setStatus(StatusFailed)
		return false
	}
	w.setStatus(StatusRunning)

	switch w.Kind {
	case KindCondition:
		return w.executeCondition(ctx, trigger)
	case KindAction:
		return w.executeAction(ctx, trigger)
	case KindSequential:
		return w.executeSequential(ctx, trigger, w.Children)
	case KindParallel:
		return w.executeParallel(ctx, trigger)
	default:
		w.setStatus(StatusFailed)
		return false
	}
}

func (w *WorkflowStep) executeCondition(ctx context.Context, trigger Event) bool {
	pred := w.Condition != nil && w.Condition(ctx, trigger)
	if !pred {
		w.setStatus(StatusSkipped)
		return true
	}
	return w.executeSequential(ctx, trigger, w.Children)
}

func (w *WorkflowStep) executeAction(ctx context.Context, trigger Event) bool {
	ok := w.Action != nil && w.Action(ctx, trigger)
	if !ok {
		w.setStatus(StatusFailed)
		return false
	}
	if len(w.Children) == 0 {
		w.setStatus(StatusCompleted)
		return true
	}
	return w.executeSequential(ctx, trigger, w.Children)
}

// executeSequential runs children in order, stopping at the first
// Failed one; it also backs Condition's "run children as per kind"
// rule when the predicate passed.
func (w *WorkflowStep) executeSequential(ctx context.Context, trigger Event, children []*WorkflowStep) bool {
	for _, child := range children {
		if !child.Execute(ctx, trigger) {
			w.setFailed(&childFailure{name: child.Name})
			return false
		}
	}
	w.setStatus(StatusCompleted)
	return true
}

// executeParallel runs every child concurrently on its own goroutine
// and joins before resolving; a Failed child does not stop siblings.
func (w *WorkflowStep) executeParallel(ctx context.Context, trigger Event) bool {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		anyFail bool
		errs    error
	)
	for _, child := range w.Children {
		child := child
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := child.Execute(ctx, trigger)
			if !ok {
				mu.Lock()
				anyFail = true
				errs = multierr.Append(errs, &childFailure{name: child.Name})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if anyFail {
		w.setFailed(errs)
		return false
	}
	w.setStatus(StatusCompleted)
	return true
}

type childFailure struct{ name string }

func (e *childFailure) Error() string { return "workflow: step " + e.name + " failed" }
