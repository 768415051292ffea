package reactor

import "errors"

var (
	// ErrClosed is returned by operations attempted on a closed Socket or
	// a Poller/EventLoop that has already shut down.
	ErrClosed = errors.New("reactor: already closed")

	// ErrWouldBlock signals a transient would-block condition on a
	// non-blocking socket; the reactor retries implicitly on next
	// readiness.
	ErrWouldBlock = errors.New("reactor: would block")

	// ErrNotLoopThread is raised by assertInLoopThread when a Channel or
	// Poller mutator is invoked from a goroutine other than the loop's
	// owning goroutine.
	ErrNotLoopThread = errors.New("reactor: called from outside the loop goroutine")

	// ErrTooManyOpenFiles surfaces the EMFILE/ENFILE condition handled by
	// Acceptor's graceful degradation path.
	ErrTooManyOpenFiles = errors.New("reactor: too many open files")
)
