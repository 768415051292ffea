package bus

import (
	"fmt"
	"sync"

	"github.com/thecxx/runpoint"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// route is one (topic -> channel) edge in the routing table, tagged
// with the program counter of the AddRoute call that created it so a
// send-time routing error can name the code that added a stale edge.
type route struct {
	channel string
	pc      *runpoint.PCounter
}

// ChannelManager holds a name -> Channel registry and a topic ->
// ordered channel-name routing table (spec.md §3, §4.M). Registrations
// and routes carry their call sites, runpoint-tagged the same way the
// root package tags ClientVarP registrations.
type ChannelManager struct {
	name string
	log  *zap.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
	sites    map[string]*runpoint.PCounter
	routes   map[string][]route

	routingMisses atomic.Uint64
	delivered     atomic.Uint64

	// ErrorHook receives RoutingMiss and per-channel send errors; it is
	// the manager-level error hook mentioned in spec.md §4.M.
	ErrorHook func(err error)
}

// NewChannelManager constructs an empty ChannelManager.
func NewChannelManager(name string, log *zap.Logger) *ChannelManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChannelManager{
		name:     name,
		log:      log.Named("bus.manager").With(zap.String("name", name)),
		channels: make(map[string]*Channel),
		sites:    make(map[string]*runpoint.PCounter),
		routes:   make(map[string][]route),
	}
}

// Register adds ch to the registry, keyed by its Name(), recording the
// caller's program counter. Registering a name that already exists
// replaces the prior channel (and its recorded site).
func (m *ChannelManager) Register(ch *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
	m.sites[ch.Name()] = runpoint.PC(1)
}

// Unregister removes a channel by name; routes referencing it are left
// in place (RouteMessage degrades to a per-edge error naming the
// AddRoute site the next time the topic is resolved).
func (m *ChannelManager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
	delete(m.sites, name)
}

// Channel looks up a registered channel by name.
func (m *ChannelManager) Channel(name string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// RegistrationSite returns the program counter recorded when name was
// registered, nil if name is unknown.
func (m *ChannelManager) RegistrationSite(name string) *runpoint.PCounter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sites[name]
}

// AddRoute appends channelName to topic's routing list, tagging the
// edge with the caller's program counter. Accepted even if channelName
// is not (yet) registered — spec.md §4.M: "accepted but produces a
// routing error at send time". Duplicate (topic, channelName) edges
// collapse to one; the original edge's site wins.
func (m *ChannelManager) AddRoute(topic, channelName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.routes[topic] {
		if existing.channel == channelName {
			return
		}
	}
	m.routes[topic] = append(m.routes[topic], route{channel: channelName, pc: runpoint.PC(1)})
}

// RemoveRoute drops channelName from topic's routing list; tolerant of
// an absent route.
func (m *ChannelManager) RemoveRoute(topic, channelName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.routes[topic]
	for i, existing := range list {
		if existing.channel == channelName {
			m.routes[topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// RouteMessage resolves topic to its channel-name list and sends
// content to each in order. An empty list (or a topic with no routing
// entries at all) is a drop: RoutingMiss is counted and reported via
// ErrorHook, not returned to the caller (spec.md §4.M, §7). Per-edge
// failures report the edge's AddRoute site (and, for send errors on a
// live channel, its Register site) so the hook can say where the
// offending wiring came from.
func (m *ChannelManager) RouteMessage(topic string, content []byte) (delivered int, err error) {
	m.mu.RLock()
	edges := append([]route(nil), m.routes[topic]...)
	m.mu.RUnlock()

	if len(edges) == 0 {
		m.routingMisses.Add(1)
		m.reportError(fmt.Errorf("%w: topic %q", ErrRoutingMiss, topic))
		return 0, nil
	}

	msg := NewChannelMessage("", m.name, "", topic, content)
	for _, edge := range edges {
		ch, ok := m.Channel(edge.channel)
		if !ok {
			m.reportError(fmt.Errorf("%w: %q referenced by topic %q, route added at %v",
				ErrChannelNotRegistered, edge.channel, topic, edge.pc))
			continue
		}
		if sendErr := ch.Send(msg); sendErr != nil {
			m.reportError(fmt.Errorf("channel %q registered at %v: %w",
				edge.channel, m.RegistrationSite(edge.channel), sendErr))
			continue
		}
		delivered++
	}
	m.delivered.Add(uint64(delivered))
	return delivered, nil
}

// Broadcast ignores routing and sends msg to every registered active
// channel.
func (m *ChannelManager) Broadcast(msg ChannelMessage) (delivered int) {
	m.mu.RLock()
	chans := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.mu.RUnlock()

	for _, ch := range chans {
		if !ch.Active() {
			continue
		}
		if err := ch.Send(msg); err != nil {
			m.reportError(fmt.Errorf("channel %q registered at %v: %w",
				ch.Name(), m.RegistrationSite(ch.Name()), err))
			continue
		}
		delivered++
	}
	return delivered
}

func (m *ChannelManager) reportError(err error) {
	m.log.Debug("channel manager error", zap.Error(err))
	if m.ErrorHook != nil {
		m.ErrorHook(err)
	}
}

// RoutingMisses and DeliveredCount expose the §6/§7 manager-level counters.
func (m *ChannelManager) RoutingMisses() uint64  { return m.routingMisses.Load() }
func (m *ChannelManager) DeliveredCount() uint64 { return m.delivered.Load() }
