//go:build linux

package reactor

import (
	"fmt"
	"syscall"
	"time"
)

// epollPoller implements poller using Linux epoll, level-triggered.
type epollPoller struct {
	epfd    int
	events  []syscall.EpollEvent
	fdchans map[int]*Channel
}

func newPoller() (poller, error) {
	epfd, err := syscall.EpollCreate1(syscall.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &epollPoller{
		epfd:    epfd,
		events:  make([]syscall.EpollEvent, 128),
		fdchans: make(map[int]*Channel),
	}, nil
}

func toEpollMask(ev Events) uint32 {
	var m uint32
	if ev&EventRead != 0 {
		m |= syscall.EPOLLIN | syscall.EPOLLPRI
	}
	if ev&EventWrite != 0 {
		m |= syscall.EPOLLOUT
	}
	return m
}

func fromEpollMask(m uint32) Events {
	var ev Events
	if m&(syscall.EPOLLIN|syscall.EPOLLPRI) != 0 {
		ev |= EventRead
	}
	if m&syscall.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if m&syscall.EPOLLHUP != 0 && m&syscall.EPOLLIN == 0 {
		ev |= EventClose
	}
	if m&(syscall.EPOLLERR) != 0 {
		ev |= EventError
	}
	return ev
}

func (p *epollPoller) Poll(timeout time.Duration, active []*Channel) ([]*Channel, error) {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	n, err := syscall.EpollWait(p.epfd, p.events, ms)
	if err != nil {
		if err == syscall.EINTR {
			return active, nil
		}
		return active, fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		c, ok := p.fdchans[fd]
		if !ok {
			continue
		}
		c.SetRevents(fromEpollMask(p.events[i].Events))
		active = append(active, c)
	}
	if n == len(p.events) {
		// Grow the reusable event buffer so a busy loop doesn't starve
		// on a fixed-size batch.
		p.events = make([]syscall.EpollEvent, len(p.events)*2)
	}
	return active, nil
}

func (p *epollPoller) Update(c *Channel) error {
	var ev syscall.EpollEvent
	ev.Events = toEpollMask(c.Events())
	ev.Fd = int32(c.FD())

	switch c.Index() {
	case indexNew, indexDeleted:
		if err := syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, c.FD(), &ev); err != nil {
			return fmt.Errorf("reactor: epoll_ctl add: %w", err)
		}
		c.SetIndex(indexAdded)
		p.fdchans[c.FD()] = c
	case indexAdded:
		if c.IsNoneEvent() {
			if err := syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, c.FD(), &ev); err != nil {
				return fmt.Errorf("reactor: epoll_ctl del: %w", err)
			}
			c.SetIndex(indexDeleted)
			delete(p.fdchans, c.FD())
		} else {
			if err := syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_MOD, c.FD(), &ev); err != nil {
				return fmt.Errorf("reactor: epoll_ctl mod: %w", err)
			}
		}
	}
	return nil
}

func (p *epollPoller) Remove(c *Channel) error {
	if c.Index() == indexAdded {
		var ev syscall.EpollEvent
		if err := syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, c.FD(), &ev); err != nil {
			return fmt.Errorf("reactor: epoll_ctl del: %w", err)
		}
	}
	delete(p.fdchans, c.FD())
	c.SetIndex(indexNew)
	return nil
}

func (p *epollPoller) Close() error {
	return syscall.Close(p.epfd)
}
