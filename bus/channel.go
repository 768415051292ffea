package bus

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ChannelType is the addressing/fan-out model of a bus Channel
// (spec.md §3).
type ChannelType int

const (
	PointToPoint ChannelType = iota
	PublishSubscribe
	RequestResponse
	Broadcast
	Multicast
)

func (t ChannelType) String() string {
	switch t {
	case PointToPoint:
		return "point_to_point"
	case PublishSubscribe:
		return "publish_subscribe"
	case RequestResponse:
		return "request_response"
	case Broadcast:
		return "broadcast"
	case Multicast:
		return "multicast"
	default:
		return "unknown"
	}
}

// supportsSubscribe resolves spec.md §9's Open Question: multicast
// channels permit Subscribe/Unsubscribe the same as publish-subscribe.
func (t ChannelType) supportsSubscribe() bool {
	return t == PublishSubscribe || t == Multicast
}

// ChannelMessage is the unit of transport on a bus Channel.
type ChannelMessage struct {
	ID        string
	Sender    string
	Receiver  string
	Topic     string
	Content   []byte
	Priority  uint
	Timestamp int64
	Metadata  map[string]string
}

// NewChannelMessage stamps a message with the current time.
func NewChannelMessage(id, sender, receiver, topic string, content []byte) ChannelMessage {
	return ChannelMessage{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Topic:     topic,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Metadata:  make(map[string]string),
	}
}

// Transport is the concrete delivery mechanism a Channel hands an
// accepted message to. The repository provides TransportFunc (below)
// and, in builtin/bus/requestresponse, an HTTP-backed forwarder; it has
// no TCP-framed Transport. Subscriber fan-out for PublishSubscribe,
// Multicast and Broadcast is done by Channel itself, not by a Transport.
type Transport interface {
	Transmit(msg ChannelMessage) error
}

// TransportFunc adapts a plain func into a Transport.
type TransportFunc func(msg ChannelMessage) error

// Transmit implements Transport.
func (f TransportFunc) Transmit(msg ChannelMessage) error { return f(msg) }

// Channel is a named transport endpoint in the message router
// (spec.md §3, §4.M). Its own Send applies the filter chain before
// handing a message to Transport; Subscribe/Unsubscribe add receivers
// to its in-process fan-out table for PublishSubscribe/Multicast kinds.
type Channel struct {
	name      string
	kind      ChannelType
	transport Transport
	active    atomic.Bool

	mu      sync.Mutex
	filters []MessageFilter

	smu         sync.RWMutex
	subscribers map[string][]chan ChannelMessage

	sent      atomic.Uint64
	delivered atomic.Uint64
	filtered  atomic.Uint64
	errored   atomic.Uint64

	MessageCallback func(msg ChannelMessage)
	ErrorCallback   func(err error)
}

// NewChannel builds an active Channel of the given kind and name. A
// nil transport is valid for PublishSubscribe/Multicast channels that
// only ever fan out to in-process subscribers.
func NewChannel(name string, kind ChannelType, transport Transport) *Channel {
	c := &Channel{
		name:        name,
		kind:        kind,
		transport:   transport,
		subscribers: make(map[string][]chan ChannelMessage),
	}
	c.active.Store(true)
	return c
}

// Name returns the channel's unique name.
func (c *Channel) Name() string { return c.name }

// Kind returns the channel's ChannelType.
func (c *Channel) Kind() ChannelType { return c.kind }

// Active reports whether the channel currently accepts sends.
func (c *Channel) Active() bool { return c.active.Load() }

// SetActive toggles whether Send accepts messages.
func (c *Channel) SetActive(on bool) { c.active.Store(on) }

// AddFilter appends f to the filter chain; all filters must accept a
// message for it to be delivered.
func (c *Channel) AddFilter(f MessageFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, f)
}

// Send applies the filter chain and, if every filter accepts,
// transmits the message: to in-process subscribers of its topic (for
// PublishSubscribe/Multicast/Broadcast) and/or to the wired Transport.
func (c *Channel) Send(msg ChannelMessage) error {
	if !c.Active() {
		return ErrChannelInactive
	}
	c.mu.Lock()
	filters := append([]MessageFilter(nil), c.filters...)
	c.mu.Unlock()

	for _, f := range filters {
		if !f.Accept(msg) {
			c.filtered.Add(1)
			return ErrFiltered
		}
	}

	c.sent.Add(1)

	switch c.kind {
	case PublishSubscribe, Multicast, Broadcast:
		c.fanOut(msg)
	}

	if c.transport != nil {
		if err := c.transport.Transmit(msg); err != nil {
			c.errored.Add(1)
			if c.ErrorCallback != nil {
				c.ErrorCallback(err)
			}
			return err
		}
		c.delivered.Add(1)
		return nil
	}
	if c.kind != PublishSubscribe && c.kind != Multicast && c.kind != Broadcast {
		return ErrNoTransport
	}
	c.delivered.Add(1)
	return nil
}

// fanOut delivers msg to every subscriber of msg.Topic (or every
// subscriber across all topics, for Broadcast), then fires
// MessageCallback once for the message.
func (c *Channel) fanOut(msg ChannelMessage) {
	c.smu.RLock()
	if c.kind == Broadcast {
		for _, subs := range c.subscribers {
			deliverTo(subs, msg)
		}
	} else {
		deliverTo(c.subscribers[msg.Topic], msg)
	}
	c.smu.RUnlock()

	if c.MessageCallback != nil {
		c.MessageCallback(msg)
	}
}

func deliverTo(subs []chan ChannelMessage, msg ChannelMessage) {
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber: drop rather than block the sender, matching
			// the reactor's own non-blocking-I/O discipline (spec.md §5).
		}
	}
}

// Subscribe registers ch to receive messages published on topic. Only
// meaningful for PublishSubscribe and Multicast kinds; other kinds
// return ErrSubscribeUnsupported (spec.md §4.M).
func (c *Channel) Subscribe(topic string, ch chan ChannelMessage) error {
	if !c.kind.supportsSubscribe() {
		return ErrSubscribeUnsupported
	}
	c.smu.Lock()
	defer c.smu.Unlock()
	c.subscribers[topic] = append(c.subscribers[topic], ch)
	return nil
}

// Unsubscribe removes ch from topic's subscriber list.
func (c *Channel) Unsubscribe(topic string, ch chan ChannelMessage) error {
	if !c.kind.supportsSubscribe() {
		return ErrSubscribeUnsupported
	}
	c.smu.Lock()
	defer c.smu.Unlock()
	subs := c.subscribers[topic]
	for i, existing := range subs {
		if existing == ch {
			c.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			return nil
		}
	}
	return nil
}

// notifyMessageReceived is invoked by a Transport's own receive side
// when it hears a message from outside the process. Transports backed
// by a dedicated I/O thread (e.g. a future ZeroMQ-style transport) call
// this from that thread, not from the Channel's own goroutine — callers
// of MessageCallback must be prepared for that, per spec.md §4.M.
func (c *Channel) notifyMessageReceived(msg ChannelMessage) {
	c.delivered.Add(1)
	if c.MessageCallback != nil {
		c.MessageCallback(msg)
	}
}

// NotifyMessageReceived is the exported form of notifyMessageReceived,
// used by Transport implementations living outside this package.
func (c *Channel) NotifyMessageReceived(msg ChannelMessage) { c.notifyMessageReceived(msg) }

// Sent, Delivered, Filtered, Errored expose the §6 per-channel counters.
func (c *Channel) Sent() uint64      { return c.sent.Load() }
func (c *Channel) Delivered() uint64 { return c.delivered.Load() }
func (c *Channel) Filtered() uint64  { return c.filtered.Load() }
func (c *Channel) Errored() uint64   { return c.errored.Load() }

func (c *Channel) String() string {
	return fmt.Sprintf("Channel(%s, %s)", c.name, c.kind)
}
