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

// Package example wires the three core subsystems (reactor, bus, and
// process config) into the minimal edge session host spec.md §8
// scenario 1 describes: a TcpServer that echoes every message back to
// its peer while surfacing connection and message lifecycle as bus
// Events. It stands in for a real compute-session service (spec.md §1
// frames the payload as "long-lived sessions for compute workloads");
// the echo body is the simplest thing that exercises the full path.
package example

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/relaycore/edgehost/adapter"
	"github.com/relaycore/edgehost/bus"
	"github.com/relaycore/edgehost/internal/config"
	"github.com/relaycore/edgehost/reactor"
)

// Example is an edgehost.Service that hosts one reactor EventLoop and
// one TcpServer, and reports everything that happens on them through a
// StackFlow.
type Example struct {
	cfg  config.Config
	log  *zap.Logger
	loop *reactor.EventLoop
	srv  *reactor.TcpServer
	flow *bus.StackFlow
	mgr  *bus.ChannelManager
}

// New
func New() *Example {
	return &Example{}
}

// Name implements edgehost.Service
func (ex *Example) Name() (name string) {
	return "edge-session-echo"
}

// Init implements edgehost.Service. It loads process config, builds
// the shared logger, and constructs (but does not start) the reactor
// and bus components.
func (ex *Example) Init(ctx context.Context) (err error) {
	if ex.cfg, err = config.Load(); err != nil {
		return err
	}
	if ex.log, err = config.NewLogger(ex.cfg); err != nil {
		return err
	}

	ex.loop, err = reactor.NewEventLoop(ex.log)
	if err != nil {
		return err
	}

	ex.flow = bus.NewStackFlow(ex.Name(), ex.cfg.EventQueueSize, ex.log)
	ex.mgr = bus.NewChannelManager(ex.Name(), ex.log)

	ex.srv = reactor.NewTcpServer(ex.loop, ex.Name())
	ex.srv.ConnectionCallback = ex.onConnection
	ex.srv.MessageCallback = ex.onMessage

	return nil
}

// Run implements edgehost.Service. It registers event handlers, starts
// the StackFlow worker and the reactor loop, binds the TcpServer to
// the configured address, and blocks until ctx is cancelled.
func (ex *Example) Run(ctx context.Context) {
	ex.flow.RegisterHandler(bus.MessageReceived, bus.NewHandlerFunc(
		"echo-counters", ex.handleMessageEvent, bus.MessageReceived,
	))
	ex.flow.Start()

	go ex.loop.Run()

	addr, err := reactor.ParseAddress(ex.cfg.ListenAddr)
	if err != nil {
		ex.log.Error("invalid listen address", zap.String("addr", ex.cfg.ListenAddr), zap.Error(err))
		return
	}
	if err := ex.srv.Start(addr); err != nil {
		ex.log.Error("tcp server start failed", zap.Error(err))
		return
	}
	ex.log.Info("edge session host listening", zap.Stringer("addr", ex.srv.Addr()))

	<-ctx.Done()
}

// Shutdown implements edgehost.Service
func (ex *Example) Shutdown(ctx context.Context) {
	if ex.srv != nil {
		if err := ex.srv.Stop(); err != nil {
			ex.log.Warn("tcp server stop", zap.Error(err))
		}
	}
	if ex.flow != nil {
		ex.flow.Stop()
	}
	if ex.loop != nil {
		ex.loop.Quit()
	}
}

func (ex *Example) onConnection(conn *reactor.TcpConnection) {
	if conn.Connected() {
		ev := bus.NewEvent(bus.ConnectionEstablished, conn.Name(), ex.Name()).
			WithData("peer", conn.PeerAddr().String())
		if err := ex.flow.PublishEvent(ev); err != nil {
			ex.log.Warn("publish ConnectionEstablished failed", zap.Error(err))
		}
		return
	}
	ev := bus.NewEvent(bus.ConnectionLost, conn.Name(), ex.Name()).
		WithData("bytes_sent", strconv.FormatUint(conn.BytesSent(), 10)).
		WithData("bytes_received", strconv.FormatUint(conn.BytesReceived(), 10))
	if err := ex.flow.PublishEvent(ev); err != nil {
		ex.log.Warn("publish ConnectionLost failed", zap.Error(err))
	}
}

// onMessage echoes every received byte back to the sender (spec.md §8
// scenario 1) and publishes a MessageReceived event so anything
// subscribed to the bus can observe traffic without touching the
// connection itself.
func (ex *Example) onMessage(conn *reactor.TcpConnection, buf *reactor.Buffer) {
	data := buf.RetrieveAsBytes(buf.ReadableBytes())
	conn.Send(data)

	ev := bus.NewEvent(bus.MessageReceived, conn.Name(), ex.Name()).
		WithData("bytes", strconv.Itoa(len(data)))
	if err := ex.flow.PublishEvent(ev); err != nil {
		ex.log.Warn("publish MessageReceived failed", zap.Error(err))
	}
}

// Counters snapshots this Example's reactor and bus counters for
// adapter.NewCountersRouter (spec.md §6's operational counters
// surface). Safe to call concurrently with Run.
func (ex *Example) Counters() adapter.Counters {
	c := adapter.Counters{}
	if ex.loop != nil {
		c.LoopIterations = ex.loop.Iterations()
		c.LoopDispatches = ex.loop.Dispatches()
	}
	if ex.srv != nil {
		c.ConnectionsActive = ex.srv.ConnectionCount()
		c.ConnectionsTotal = ex.srv.TotalConnections()
	}
	if ex.flow != nil {
		c.EventsProcessed = ex.flow.Processed()
		c.WorkflowsExecuted = ex.flow.Executed()
		c.EventErrors = ex.flow.Errors()
	}
	if ex.mgr != nil {
		c.RoutingMisses = ex.mgr.RoutingMisses()
		c.ChannelsDelivered = ex.mgr.DeliveredCount()
	}
	return c
}

func (ex *Example) handleMessageEvent(ev bus.Event) bool {
	ex.log.Debug("message echoed",
		zap.String("connection", ev.Source),
		zap.String("bytes", ev.Data["bytes"]),
	)
	return true
}
