//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package reactor

import (
	"time"
)

// fallbackPoller is used on platforms without epoll/kqueue support in
// this package. It tracks interest sets but cannot efficiently block
// for readiness, so Poll degrades to a short sleep between scans; this
// is adequate for tests and tooling on unsupported platforms but is not
// the production code path (linux/epoll and darwin-bsd/kqueue are).
type fallbackPoller struct {
	channels map[int]*Channel
}

func newPoller() (poller, error) {
	return &fallbackPoller{channels: make(map[int]*Channel)}, nil
}

func (p *fallbackPoller) Poll(timeout time.Duration, active []*Channel) ([]*Channel, error) {
	time.Sleep(timeout)
	return active, nil
}

func (p *fallbackPoller) Update(c *Channel) error {
	if c.IsNoneEvent() {
		delete(p.channels, c.FD())
		c.SetIndex(indexDeleted)
		return nil
	}
	p.channels[c.FD()] = c
	c.SetIndex(indexAdded)
	return nil
}

func (p *fallbackPoller) Remove(c *Channel) error {
	delete(p.channels, c.FD())
	c.SetIndex(indexNew)
	return nil
}

func (p *fallbackPoller) Close() error { return nil }
