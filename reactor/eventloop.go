package reactor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const defaultPollTimeout = 10 * time.Second

// EventLoop is a single-threaded reactor: it owns a Poller, runs the
// demultiplex/dispatch/timer loop, and accepts cross-goroutine work via
// a task queue drained each iteration. Construction does not start the
// loop; call Run from the goroutine that should become the "loop
// thread" — every Channel and the Poller itself may only be mutated
// from that goroutine afterwards.
type EventLoop struct {
	log *zap.Logger

	loopGoroutine atomic.Int64
	running       atomic.Bool
	quit          atomic.Bool

	poller poller

	wakeFD      int
	wakeChannel *Channel

	mu              sync.Mutex
	pendingTasks    []func()
	callingPending  atomic.Bool
	pendingRemovals []*Channel

	timers      *timerQueue
	nextTimerID atomic.Int64

	iterations atomic.Uint64
	dispatches atomic.Uint64
}

// NewEventLoop constructs an EventLoop with its Poller and wakeup fd,
// but does not start running it.
func NewEventLoop(log *zap.Logger) (*EventLoop, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	wfd, err := createWakeFD()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("reactor: create wakeup fd: %w", err)
	}
	loop := &EventLoop{
		log:    log.Named("reactor.loop"),
		poller: p,
		wakeFD: wfd,
		timers: newTimerQueue(),
	}
	loop.wakeChannel = NewChannel(loop, wfd)
	loop.wakeChannel.ReadCallback = func() {
		drainWakeFD(loop.wakeFD)
	}
	return loop, nil
}

func (l *EventLoop) assertInLoopThread() {
	if !l.running.Load() {
		return // not yet running: construction-time setup is exempt
	}
	if goroutineID() != l.loopGoroutine.Load() {
		panic(ErrNotLoopThread)
	}
}

// IsInLoopThread reports whether the caller is running on this loop's
// goroutine.
func (l *EventLoop) IsInLoopThread() bool {
	return !l.running.Load() || goroutineID() == l.loopGoroutine.Load()
}

// Iterations returns the number of completed poll iterations (§6 counters).
func (l *EventLoop) Iterations() uint64 { return l.iterations.Load() }

// Dispatches returns the number of Channel.HandleEvent calls made.
func (l *EventLoop) Dispatches() uint64 { return l.dispatches.Load() }

// Run pins this goroutine as the loop thread and runs the reactor loop
// until Quit is called.
func (l *EventLoop) Run() {
	l.loopGoroutine.Store(goroutineID())
	l.running.Store(true)
	l.wakeChannel.EnableReading()
	l.log.Info("event loop started")

	defer func() {
		l.wakeChannel.DisableAll()
		l.wakeChannel.Remove()
		l.poller.Close()
		drainWakeFD(l.wakeFD)
		closeWakeFD(l.wakeFD)
		l.running.Store(false)
		l.log.Info("event loop stopped")
	}()

	var active []*Channel
	for !l.quit.Load() {
		timeout := l.timers.nextTimeout(defaultPollTimeout)

		active = active[:0]
		var err error
		active, err = l.poller.Poll(timeout, active)
		if err != nil {
			l.log.Error("poll failed", zap.Error(err))
			continue
		}
		l.iterations.Add(1)

		for _, c := range active {
			c.HandleEvent()
			l.dispatches.Add(1)
		}

		l.applyPendingRemovals()
		l.drainPendingTasks()
		l.timers.expireReady()
	}
}

func (l *EventLoop) applyPendingRemovals() {
	l.mu.Lock()
	removals := l.pendingRemovals
	l.pendingRemovals = nil
	l.mu.Unlock()
	for _, c := range removals {
		c.addedToLoop = false
		l.poller.Remove(c)
	}
}

func (l *EventLoop) queueChannelRemoval(c *Channel) {
	l.mu.Lock()
	l.pendingRemovals = append(l.pendingRemovals, c)
	l.mu.Unlock()
}

func (l *EventLoop) drainPendingTasks() {
	l.mu.Lock()
	tasks := l.pendingTasks
	l.pendingTasks = nil
	l.mu.Unlock()

	l.callingPending.Store(true)
	defer l.callingPending.Store(false)
	for _, task := range tasks {
		task()
	}
}

// RunInLoop invokes task immediately if called on the loop goroutine;
// otherwise it is queued and the loop is woken.
func (l *EventLoop) RunInLoop(task func()) {
	if l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop always enqueues task for the next loop iteration, waking
// the loop if necessary so it does not starve.
func (l *EventLoop) QueueInLoop(task func()) {
	l.mu.Lock()
	l.pendingTasks = append(l.pendingTasks, task)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPending.Load() {
		if err := wakeFD(l.wakeFD); err != nil {
			l.log.Warn("failed to wake event loop", zap.Error(err))
		}
	}
}

// Quit requests the loop to stop after its current iteration. Safe to
// call from any goroutine.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		wakeFD(l.wakeFD)
	}
}

// RunAfter schedules cb to run once, delay from now. The returned id
// is valid as a cancellation token immediately, even when the schedule
// itself still has to trampoline onto the loop goroutine.
func (l *EventLoop) RunAfter(delay time.Duration, cb func()) TimerID {
	id := TimerID(l.nextTimerID.Add(1))
	l.RunInLoop(func() {
		l.timers.schedule(id, delay, 0, cb)
	})
	return id
}

// RunEvery schedules cb to run repeatedly every interval, starting
// after the first interval elapses.
func (l *EventLoop) RunEvery(interval time.Duration, cb func()) TimerID {
	id := TimerID(l.nextTimerID.Add(1))
	l.RunInLoop(func() {
		l.timers.schedule(id, interval, interval, cb)
	})
	return id
}

// CancelTimer best-effort cancels a previously scheduled timer; a
// concurrently-firing timer may still run once more.
func (l *EventLoop) CancelTimer(id TimerID) {
	l.RunInLoop(func() {
		l.timers.cancel(id)
	})
}

// newChannel is a convenience constructor tying a Channel to this loop.
func (l *EventLoop) newChannel(fd int) *Channel {
	return NewChannel(l, fd)
}
