// Package discovery adapts the root package's matrix.Broker watcher
// (see discovery.go's DiscoveryOptions) into a bus-facing component: it
// keeps a bus.ChannelManager's routing table in sync with live
// endpoints reported by the cluster, and emits ServiceRegister /
// ServiceUnregister events onto a bus.StackFlow for anything else that
// needs to react to membership changes.
package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/govoltron/matrix"
	"go.uber.org/zap"

	"github.com/relaycore/edgehost/bus"
)

// Registry watches a single matrix.Broker and mirrors its endpoint set
// into a bus.ChannelManager's routing table under a fixed topic, while
// publishing ServiceRegister/ServiceUnregister events for every
// endpoint add/remove.
type Registry struct {
	srvname string
	topic   string
	broker  *matrix.Broker
	manager *bus.ChannelManager
	flow    *bus.StackFlow
	log     *zap.Logger

	mu        sync.Mutex
	endpoints map[string]matrix.Endpoint
}

// NewRegistry builds a Registry for srvname, routing its endpoints
// under topic ("service.<srvname>" is the conventional choice) and
// publishing membership events onto flow. manager and flow may be nil
// if the caller only wants one side of the wiring.
func NewRegistry(srvname, topic string, manager *bus.ChannelManager, flow *bus.StackFlow, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		srvname:   srvname,
		topic:     topic,
		manager:   manager,
		flow:      flow,
		log:       log.Named("discovery.registry").With(zap.String("service", srvname)),
		endpoints: make(map[string]matrix.Endpoint),
	}
}

// Watch attaches the Registry to broker, seeds the current endpoint
// snapshot, and registers the Registry as a matrix.BrokerWatcher for
// subsequent changes. Mirrors the teacher's discoveryWatcher.Init, but
// additionally wires the bus side.
func (r *Registry) Watch(ctx context.Context, broker *matrix.Broker) {
	r.broker = broker

	r.mu.Lock()
	for _, ep := range broker.Endpoints() {
		r.endpoints[ep.ID] = ep
		r.routeEndpoint(ep)
		r.publish(ctx, bus.ServiceRegister, ep)
	}
	r.mu.Unlock()

	broker.Watch(r)
}

// channelNameFor derives the registry's per-endpoint channel name;
// endpoint transports are registered under this name by the caller
// wiring an actual reactor.TcpConnection-backed Transport (this
// package only manages routing, not the Transport's construction).
func (r *Registry) channelNameFor(ep matrix.Endpoint) string {
	return fmt.Sprintf("%s.%s", r.srvname, ep.ID)
}

func (r *Registry) routeEndpoint(ep matrix.Endpoint) {
	if r.manager == nil {
		return
	}
	r.manager.AddRoute(r.topic, r.channelNameFor(ep))
}

func (r *Registry) unrouteEndpoint(ep matrix.Endpoint) {
	if r.manager == nil {
		return
	}
	r.manager.RemoveRoute(r.topic, r.channelNameFor(ep))
}

func (r *Registry) publish(ctx context.Context, tag bus.Tag, ep matrix.Endpoint) {
	if r.flow == nil {
		return
	}
	ev := bus.NewEvent(tag, r.srvname, ep.ID).
		WithData("addr", ep.Addr).
		WithData("weight", fmt.Sprintf("%d", ep.Weight))
	if err := r.flow.PublishEvent(ev); err != nil {
		r.log.Warn("dropped membership event", zap.Error(err), zap.String("tag", string(tag)))
	}
}

// OnUpdateEndpoint implements matrix.BrokerWatcher: a new or changed
// endpoint re-routes and re-announces as a ServiceRegister.
func (r *Registry) OnUpdateEndpoint(ep matrix.Endpoint) {
	r.mu.Lock()
	existing, known := r.endpoints[ep.ID]
	if known && existing.Addr == ep.Addr && existing.Weight == ep.Weight {
		r.mu.Unlock()
		return
	}
	r.endpoints[ep.ID] = ep
	r.routeEndpoint(ep)
	r.mu.Unlock()

	r.publish(context.Background(), bus.ServiceRegister, ep)
}

// OnDeleteEndpoint implements matrix.BrokerWatcher: a departed endpoint
// is unrouted and announced as a ServiceUnregister.
func (r *Registry) OnDeleteEndpoint(id string) {
	r.mu.Lock()
	ep, known := r.endpoints[id]
	if !known {
		r.mu.Unlock()
		return
	}
	delete(r.endpoints, id)
	r.unrouteEndpoint(ep)
	r.mu.Unlock()

	r.publish(context.Background(), bus.ServiceUnregister, ep)
}

// OnSetenv and OnDelenv implement matrix.BrokerWatcher's remaining
// methods; Registry only cares about endpoint membership, not the
// broker's KV namespace, so both are no-ops.
func (r *Registry) OnSetenv(key string, value string) {}
func (r *Registry) OnDelenv(key string)               {}

// Endpoints returns a snapshot of the currently known endpoints.
func (r *Registry) Endpoints() []matrix.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]matrix.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	return out
}
