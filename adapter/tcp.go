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

package adapter

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/relaycore/edgehost/reactor"
)

// TCPServer is a ctx-aware convenience wrapper around reactor.EventLoop
// and reactor.TcpServer: it keeps the teacher's Start/Stop/Shutdown/
// AsyncStart/Wait adapter surface, but the surface now drives the
// repository's own reactor instead of layer4.Server.
type TCPServer struct {

	// ConnectionCallback, MessageCallback and WriteCompleteCallback are
	// forwarded to the underlying reactor.TcpServer verbatim.
	ConnectionCallback    reactor.ConnectionCallback
	MessageCallback       reactor.MessageCallback
	WriteCompleteCallback reactor.WriteCompleteCallback

	// ReusePort enables SO_REUSEPORT on the listening socket.
	ReusePort bool

	log *zap.Logger

	mu   sync.Mutex // guards loop/srv/err against AsyncStart's goroutine
	loop *reactor.EventLoop
	srv  *reactor.TcpServer
	err  error

	wg sync.WaitGroup
}

// NewTCPServer builds a TCPServer named name, logging through log (a
// nil log falls back to zap.NewNop, matching every other component in
// this repository).
func NewTCPServer(name string, log *zap.Logger) *TCPServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &TCPServer{log: log.Named("adapter.tcp").With(zap.String("server", name))}
}

// Start runs the reactor's EventLoop on a goroutine of its own and
// blocks the caller until ctx is cancelled or the listen fails. Use AsyncStart
// for a non-blocking variant.
func (ts *TCPServer) Start(ctx context.Context, addr string) error {
	loop, err := reactor.NewEventLoop(ts.log)
	if err != nil {
		return err
	}
	srv := reactor.NewTcpServer(loop, "adapter-tcp")
	srv.SetReusePort(ts.ReusePort)
	srv.ConnectionCallback = ts.ConnectionCallback
	srv.MessageCallback = ts.MessageCallback
	srv.WriteCompleteCallback = ts.WriteCompleteCallback

	bindAddr, err := reactor.ParseAddress(addr)
	if err != nil {
		return err
	}

	go loop.Run()

	if err = srv.Start(bindAddr); err != nil {
		loop.Quit()
		return err
	}

	ts.mu.Lock()
	ts.loop, ts.srv = loop, srv
	ts.mu.Unlock()

	<-ctx.Done()
	return ts.stop()
}

// Stop shuts the TcpServer and its EventLoop down.
func (ts *TCPServer) Stop(ctx context.Context) error {
	return ts.stop()
}

func (ts *TCPServer) stop() error {
	ts.mu.Lock()
	srv, loop := ts.srv, ts.loop
	ts.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Stop()
	loop.Quit()
	return err
}

// Shutdown is the non-error-returning counterpart to Stop, matching
// the teacher's Adapter shape.
func (ts *TCPServer) Shutdown() {
	ts.stop()
}

// Addr returns the bound address once Start/AsyncStart has completed
// listening.
func (ts *TCPServer) Addr() reactor.Address {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.srv == nil {
		return reactor.Address{}
	}
	return ts.srv.Addr()
}

// AsyncStart runs Start on its own goroutine, capturing its error for
// Wait.
func (ts *TCPServer) AsyncStart(ctx context.Context, addr string) {
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		err := ts.Start(ctx, addr)
		ts.mu.Lock()
		ts.err = err
		ts.mu.Unlock()
	}()
}

// Wait blocks until the goroutine started by AsyncStart returns.
func (ts *TCPServer) Wait() error {
	ts.wg.Wait()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.err
}
