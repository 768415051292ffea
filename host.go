// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package edgehost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/govoltron/matrix"
	"go.uber.org/zap"

	"github.com/relaycore/edgehost/bus"
)

var (
	ErrInvalidCluster = errors.New("invalid cluster")
)

const defaultEventQueueSize = 256

// HostOption configures a Host at construction time.
type HostOption func(h *Host)

// WithLogger sets the *zap.Logger the Host's own bus.StackFlow and
// bus.ChannelManager log through. Every other Service/Client builds
// its own logger (see internal/config.NewLogger); this only covers
// the Host's own SystemStart/SystemStop/membership bookkeeping.
func WithLogger(log *zap.Logger) HostOption {
	return func(h *Host) { h.log = log }
}

// WithEventQueueSize overrides the Host's bus.StackFlow queue bound
// (spec.md §7 QueueFull); defaultEventQueueSize otherwise.
func WithEventQueueSize(n int) HostOption {
	return func(h *Host) { h.eventQueueSize = n }
}

// Host is the process-wide orchestrator: it owns the registered
// Clients and Services, joins a matrix.Cluster for service discovery
// and keepalive reporting, and runs/shuts them down together. This is
// the hosting-platform framing from spec.md §1 ("the host value
// proposition is managing long-lived sessions ... by multiplexing many
// clients over a single reactor thread").
//
// Unlike a plain process supervisor, a Host also owns one bus.StackFlow
// and one bus.ChannelManager for the whole process: SystemStart/
// SystemStop bracket every Run, every client Init/Shutdown announces
// itself as ServiceRegister/ServiceUnregister, and every
// discovery-backed client's endpoint membership is mirrored into the
// ChannelManager's routing table by an internal/discovery.Registry
// (see discovery.go's initBroker). Services still reach the reactor
// and bus directly through their own Service.Init (service/example is
// the reference), but the Host is where that traffic becomes visible
// process-wide.
type Host struct {
	clients  []*client
	services []*service
	cluster  *matrix.Cluster
	ctx      context.Context
	mu       sync.RWMutex

	log            *zap.Logger
	flow           *bus.StackFlow
	mgr            *bus.ChannelManager
	eventQueueSize int
}

// New constructs a Host bound to ctx.
func New(ctx context.Context, opts ...HostOption) (h *Host) {
	h = &Host{
		ctx:            ctx,
		clients:        make([]*client, 0),
		services:       make([]*service, 0),
		log:            zap.NewNop(),
		eventQueueSize: defaultEventQueueSize,
	}
	for _, setOpt := range opts {
		setOpt(h)
	}
	h.flow = bus.NewStackFlow("host", h.eventQueueSize, h.log)
	h.mgr = bus.NewChannelManager("host", h.log)
	return
}

// Flow exposes the Host's process-wide bus.StackFlow, so a Service can
// subscribe to membership and lifecycle Events without the Host having
// to know what that Service does with them.
func (h *Host) Flow() *bus.StackFlow {
	return h.flow
}

// ChannelManager exposes the Host's process-wide routing table, kept
// in sync with discovery-backed clients' live endpoints.
func (h *Host) ChannelManager() *bus.ChannelManager {
	return h.mgr
}

// Run starts the Host's bus.StackFlow, initializes every registered
// client, then runs every registered service until they all exit (or
// ctx is cancelled), shutting the clients and the bus down on the way
// out. A SystemStart Event brackets the whole run and a SystemStop
// Event is always published on the way out, even on error (spec.md
// §3's Tag set exists for exactly this).
func (h *Host) Run(ctx context.Context) (err error) {
	if h.cluster == nil {
		return ErrInvalidCluster
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.flow.Start()
	if pubErr := h.flow.PublishEvent(bus.NewEvent(bus.SystemStart, "host", h.cluster.Name())); pubErr != nil {
		h.log.Warn("publish SystemStart failed", zap.Error(pubErr))
	}
	defer func() {
		if pubErr := h.flow.PublishEvent(bus.NewEvent(bus.SystemStop, "host", h.cluster.Name())); pubErr != nil {
			h.log.Warn("publish SystemStop failed", zap.Error(pubErr))
		}
		h.flow.Stop()
	}()

	if err = h.init(ctx); err != nil {
		return
	}
	defer func() {
		for _, c := range h.clients {
			c.Shutdown(ctx, h.flow)
		}
	}()

	return h.run(ctx)
}

// Setup registers a Service to be run once the Host starts.
func (h *Host) Setup(srv Service, description string, opts ...RunOption) {
	s := &service{
		rt:          srv,
		description: description,
		flow:        h.flow,
	}
	for _, setOpt := range opts {
		setOpt(s)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.services = append(h.services, s)
}

// Join binds the Host to a matrix.Cluster; it panics with
// ErrInvalidCluster on a nil cluster, and Run returns ErrInvalidCluster
// if Join was never called.
func (h *Host) Join(cluster *matrix.Cluster) {
	if cluster == nil {
		panic(ErrInvalidCluster)
	}
	h.cluster = cluster
}

// Print writes a human-readable overview of the host's clients and
// services to stdout.
func (h *Host) Print() {
	var buf bytes.Buffer
	h.Fprint(&buf)
	buf.WriteTo(os.Stdout)
}

// Fprint writes the overview to w.
func (h *Host) Fprint(w io.Writer) {
	fmt.Fprintf(w, "==================== Overview ====================\n")
	if h.cluster != nil {
		fmt.Fprintf(w, "cluster: %s\n", h.cluster.Name())
	} else {
		fmt.Fprintf(w, "cluster: \n")
	}
	fmt.Fprintf(w, "bus: events_processed=%d workflows_executed=%d routing_misses=%d\n",
		h.flow.Processed(), h.flow.Executed(), h.mgr.RoutingMisses())
	fmt.Fprintf(w, "==================== Clients  ====================\n")
	fmt.Fprintf(w, "type | name | description\n")
	if len(h.clients) > 0 {
		for _, c := range h.clients {
			fmt.Fprintf(w, "%s | %s | %s\n", c.Type(), c.Name(), c.Description())
		}
	} else {
		for _, c := range manifest {
			fmt.Fprintf(w, "%s | %s | %s\n", c.Type(), c.Name(), c.Description())
		}
	}
	fmt.Fprintf(w, "==================== Services ====================\n")
	fmt.Fprintf(w, "type | name | description\n")
	for _, s := range h.services {
		fmt.Fprintf(w, "%s | %s | %s\n", s.Type(), s.Name(), s.Description())
	}
	fmt.Fprintf(w, "==================================================\n")
}

func (h *Host) init(ctx context.Context) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range manifest {
		if discovery, ok := c.options.(*DiscoveryOptions); !ok {
			err = c.Init(ctx, h.flow)
		} else {
			if err = discovery.initBroker(ctx, h.cluster, h.mgr, h.flow, h.log); err != nil {
				return
			}
			err = c.InitWithDiscovery(ctx, discovery, h.flow)
		}
		if err != nil {
			return
		}
		h.clients = append(h.clients, c)
	}

	return
}

func (h *Host) run(ctx context.Context) (err error) {
	var (
		wg     = &sync.WaitGroup{}
		signal = make(chan struct{})
		gogo   = func() { close(signal) }
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, s := range h.services {
		if s.addr != "" {
			s.reporter = h.cluster.NewReporter(ctx, s.Name())
		}
		if err = s.Prepare(ctx, signal, wg); err != nil {
			return
		}
	}

	gogo()

	wg.Wait()

	return
}
