//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"fmt"
	"syscall"
	"time"
)

// kqueuePoller implements poller using BSD/Darwin kqueue. Read and
// write interest are tracked as independent filters, since kqueue has
// no single combined "interest mask" the way epoll does.
type kqueuePoller struct {
	kq      int
	events  []syscall.Kevent_t
	fdchans map[int]*Channel
}

func newPoller() (poller, error) {
	kq, err := syscall.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("reactor: kqueue: %w", err)
	}
	return &kqueuePoller{
		kq:      kq,
		events:  make([]syscall.Kevent_t, 128),
		fdchans: make(map[int]*Channel),
	}, nil
}

func (p *kqueuePoller) Poll(timeout time.Duration, active []*Channel) ([]*Channel, error) {
	var ts syscall.Timespec
	ts.Sec = int64(timeout / time.Second)
	ts.Nsec = int64(timeout % time.Second)

	n, err := syscall.Kevent(p.kq, nil, p.events, &ts)
	if err != nil {
		if err == syscall.EINTR {
			return active, nil
		}
		return active, fmt.Errorf("reactor: kevent wait: %w", err)
	}
	seen := make(map[int]Events, n)
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Ident)
		var ev Events
		switch p.events[i].Filter {
		case syscall.EVFILT_READ:
			ev = EventRead
		case syscall.EVFILT_WRITE:
			ev = EventWrite
		}
		if p.events[i].Flags&syscall.EV_EOF != 0 {
			ev |= EventClose
		}
		if p.events[i].Flags&syscall.EV_ERROR != 0 {
			ev |= EventError
		}
		seen[fd] |= ev
	}
	for fd, ev := range seen {
		c, ok := p.fdchans[fd]
		if !ok {
			continue
		}
		c.SetRevents(ev)
		active = append(active, c)
	}
	if n == len(p.events) {
		p.events = make([]syscall.Kevent_t, len(p.events)*2)
	}
	return active, nil
}

func (p *kqueuePoller) Update(c *Channel) error {
	var changes []syscall.Kevent_t
	addFilter := func(filter int16, enable bool) {
		flags := uint16(syscall.EV_DELETE)
		if enable {
			flags = syscall.EV_ADD | syscall.EV_ENABLE
		}
		changes = append(changes, syscall.Kevent_t{
			Ident:  uint64(c.FD()),
			Filter: filter,
			Flags:  flags,
		})
	}
	addFilter(syscall.EVFILT_READ, c.Events()&EventRead != 0)
	addFilter(syscall.EVFILT_WRITE, c.Events()&EventWrite != 0)

	if _, err := syscall.Kevent(p.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("reactor: kevent update: %w", err)
	}

	switch c.Index() {
	case indexNew, indexDeleted:
		c.SetIndex(indexAdded)
		p.fdchans[c.FD()] = c
	case indexAdded:
		if c.IsNoneEvent() {
			c.SetIndex(indexDeleted)
			delete(p.fdchans, c.FD())
		}
	}
	return nil
}

func (p *kqueuePoller) Remove(c *Channel) error {
	changes := []syscall.Kevent_t{
		{Ident: uint64(c.FD()), Filter: syscall.EVFILT_READ, Flags: syscall.EV_DELETE},
		{Ident: uint64(c.FD()), Filter: syscall.EVFILT_WRITE, Flags: syscall.EV_DELETE},
	}
	// Deleting filters that were never added is harmless; kqueue returns
	// ENOENT for those which we ignore below via Kevent's own changelist
	// semantics (best-effort).
	syscall.Kevent(p.kq, changes, nil, nil)
	delete(p.fdchans, c.FD())
	c.SetIndex(indexNew)
	return nil
}

func (p *kqueuePoller) Close() error {
	return syscall.Close(p.kq)
}
