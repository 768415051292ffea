package reactor

import "time"

// poller is the fd-event demultiplexer contract implemented per
// platform (epoll on linux, kqueue on darwin/bsd). It is not
// thread-safe and is owned by exactly one EventLoop.
type poller interface {
	// Poll blocks for up to timeout waiting for readiness, appending
	// ready Channels (with SetRevents already called) to active.
	Poll(timeout time.Duration, active []*Channel) ([]*Channel, error)

	// Update registers or modifies the Channel's interest mask with the
	// kernel multiplexer, consulting and updating Channel.Index().
	Update(c *Channel) error

	// Remove deregisters the Channel's fd.
	Remove(c *Channel) error

	// Close releases the poller's own fd (e.g. the epoll/kqueue fd).
	Close() error
}
