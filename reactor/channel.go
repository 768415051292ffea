package reactor

// Events is a bitmask of interest/readiness flags shared by the
// interest mask and the readiness mask reported by the Poller.
type Events uint32

const (
	EventNone  Events = 0
	EventRead  Events = 1 << 0
	EventWrite Events = 1 << 1
	EventClose Events = 1 << 2
	EventError Events = 1 << 3
)


// pollerIndex records the Poller's private bookkeeping about whether a
// Channel's fd is new, already added, or removed from the kernel
// multiplexer. It is opaque storage: only the Poller implementation
// reads or writes it.
type pollerIndex int32

const (
	indexNew pollerIndex = iota - 1
	indexAdded
	indexDeleted
)

// Channel is the per-fd dispatch record of the reactor. A Channel is
// only ever mutated by its owning EventLoop's goroutine; registering
// it with the loop installs it into the Poller.
type Channel struct {
	loop   *EventLoop
	fd     int
	events Events // interest mask
	revent Events // last reported readiness mask
	index  pollerIndex

	handlingEvent bool // re-entrancy guard while HandleEvent runs
	addedToLoop   bool

	ReadCallback  func()
	WriteCallback func()
	CloseCallback func()
	ErrorCallback func()
}

// NewChannel creates a Channel for fd, owned by loop. The Channel is not
// registered with the Poller until EnableReading/EnableWriting is
// called.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: indexNew}
}

// FD returns the underlying file descriptor.
func (c *Channel) FD() int { return c.fd }

// Events returns the current interest mask.
func (c *Channel) Events() Events { return c.events }

// SetRevents stores the readiness mask reported by the Poller; it is
// only called by the Poller from within the loop goroutine.
func (c *Channel) SetRevents(ev Events) { c.revent = ev }

// Index is the Poller's opaque per-fd bookkeeping slot.
func (c *Channel) Index() pollerIndex { return c.index }

// SetIndex is only called by the Poller.
func (c *Channel) SetIndex(idx pollerIndex) { c.index = idx }

// EnableReading adds EventRead to the interest mask and pushes the
// change to the Poller.
func (c *Channel) EnableReading() {
	c.loop.assertInLoopThread()
	c.events |= EventRead
	c.update()
}

// DisableReading removes EventRead from the interest mask.
func (c *Channel) DisableReading() {
	c.loop.assertInLoopThread()
	c.events &^= EventRead
	c.update()
}

// EnableWriting adds EventWrite to the interest mask.
func (c *Channel) EnableWriting() {
	c.loop.assertInLoopThread()
	c.events |= EventWrite
	c.update()
}

// DisableWriting removes EventWrite from the interest mask.
func (c *Channel) DisableWriting() {
	c.loop.assertInLoopThread()
	c.events &^= EventWrite
	c.update()
}

// DisableAll clears the interest mask entirely.
func (c *Channel) DisableAll() {
	c.loop.assertInLoopThread()
	c.events = EventNone
	c.update()
}

// IsWriting reports whether EventWrite is in the interest mask.
func (c *Channel) IsWriting() bool { return c.events&EventWrite != 0 }

// IsNoneEvent reports whether the interest mask is empty.
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.poller.Update(c)
}

// Remove deregisters the Channel from its owning loop's Poller. Must be
// called before the underlying fd is closed.
func (c *Channel) Remove() {
	c.loop.assertInLoopThread()
	if c.handlingEvent {
		// Deferred: the loop drops this Channel at the end of the current
		// dispatch pass instead of tearing it down mid-callback.
		c.loop.queueChannelRemoval(c)
		return
	}
	c.addedToLoop = false
	c.loop.poller.Remove(c)
}

// HandleEvent dispatches the callbacks whose readiness bit is set, in
// the fixed order Close, Error, Read, Write (spec.md §4.D).
func (c *Channel) HandleEvent() {
	c.handlingEvent = true
	defer func() { c.handlingEvent = false }()

	if c.revent&EventClose != 0 && c.CloseCallback != nil {
		c.CloseCallback()
	}
	if c.revent&EventError != 0 && c.ErrorCallback != nil {
		c.ErrorCallback()
	}
	if c.revent&EventRead != 0 && c.ReadCallback != nil {
		c.ReadCallback()
	}
	if c.revent&EventWrite != 0 && c.WriteCallback != nil {
		c.WriteCallback()
	}
}
