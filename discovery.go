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
	"context"
	"errors"

	"github.com/govoltron/matrix"
	"go.uber.org/zap"

	"github.com/relaycore/edgehost/bus"
	discoveryregistry "github.com/relaycore/edgehost/internal/discovery"
)

// DiscoveryOptions is a ClientOptions backed by a matrix.Broker: the
// client's endpoints and options come from the named service's broker
// namespace instead of being hardcoded at ClientVarP time.
type DiscoveryOptions struct {
	srvname  string
	broker   *matrix.Broker
	registry *discoveryregistry.Registry
}

// Discovery builds discovery-backed ClientOptions for srvname.
func Discovery(srvname string) ClientOptions {
	return &DiscoveryOptions{srvname: srvname}
}

// initBroker joins the broker for srvname under cluster and hands it
// to an internal/discovery.Registry, which mirrors every endpoint the
// broker reports into mgr's routing table (topic "service.<srvname>")
// and announces membership changes as ServiceRegister/ServiceUnregister
// Events on flow (spec.md §3, §4.M). mgr/flow/log may be nil; the
// Registry degrades to broker-only bookkeeping in that case.
func (opts *DiscoveryOptions) initBroker(ctx context.Context, cluster *matrix.Cluster, mgr *bus.ChannelManager, flow *bus.StackFlow, log *zap.Logger) (err error) {
	if cluster == nil {
		return errors.New("invalid cluster")
	}
	opts.broker, err = cluster.NewBroker(ctx, opts.srvname)
	if err != nil {
		return err
	}
	opts.registry = discoveryregistry.NewRegistry(opts.srvname, "service."+opts.srvname, mgr, flow, log)
	opts.registry.Watch(ctx, opts.broker)
	return nil
}

// ServiceName implements ClientOptions.
func (opts *DiscoveryOptions) ServiceName() (srvname string) {
	return opts.srvname
}

// Options reads the broker's "options" env entry, the payload passed
// to Client.NewOptions on every re-init.
func (opts *DiscoveryOptions) Options(ctx context.Context) (options string) {
	return opts.broker.Getenv(ctx, "options")
}

// Broker returns the underlying matrix.Broker once initBroker has run.
func (opts *DiscoveryOptions) Broker() (broker *matrix.Broker) {
	return opts.broker
}

// Registry returns the bus-facing membership mirror for this client's
// broker, nil until initBroker has run.
func (opts *DiscoveryOptions) Registry() *discoveryregistry.Registry {
	return opts.registry
}
