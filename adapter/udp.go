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

// DatagramCallback fires once per received datagram, on the reactor's
// loop goroutine. data is only valid for the duration of the call;
// copy it to retain.
type DatagramCallback func(us *UDPServer, peer reactor.Address, data []byte)

// UDPServer is the datagram counterpart to TCPServer: a single UDP
// socket watched by a reactor Channel on its own EventLoop. There is
// no per-peer connection state; each datagram is handed to
// DatagramCallback with its sender address, and replies go out through
// SendTo.
type UDPServer struct {

	// DatagramCallback receives every datagram.
	DatagramCallback DatagramCallback

	// ReuseAddr and ReusePort are applied to the socket before bind.
	ReuseAddr bool
	ReusePort bool

	log *zap.Logger

	mu   sync.Mutex
	loop *reactor.EventLoop
	sock *reactor.Socket
	addr reactor.Address
	err  error

	wg sync.WaitGroup
}

// NewUDPServer builds a UDPServer named name, logging through log.
func NewUDPServer(name string, log *zap.Logger) *UDPServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &UDPServer{
		ReuseAddr: true,
		log:       log.Named("adapter.udp").With(zap.String("server", name)),
	}
}

// Start binds addr, runs the reactor's EventLoop on the calling
// goroutine's behalf and blocks until ctx is cancelled or the bind
// fails. Use AsyncStart for the non-blocking variant.
func (us *UDPServer) Start(ctx context.Context, addr string) error {
	if us.log == nil {
		us.log = zap.NewNop()
	}
	bindAddr, err := reactor.ParseAddress(addr)
	if err != nil {
		return err
	}

	sock, err := reactor.NewUDPSocket()
	if err != nil {
		return err
	}
	if us.ReuseAddr {
		if err := sock.SetReuseAddr(true); err != nil {
			sock.Close()
			return err
		}
	}
	if us.ReusePort {
		if err := sock.SetReusePort(true); err != nil {
			sock.Close()
			return err
		}
	}
	if err := sock.Bind(bindAddr); err != nil {
		sock.Close()
		return err
	}

	loop, err := reactor.NewEventLoop(us.log)
	if err != nil {
		sock.Close()
		return err
	}

	us.mu.Lock()
	us.loop, us.sock = loop, sock
	us.addr = localUDPAddr(sock, bindAddr)
	us.mu.Unlock()

	go loop.Run()

	ch := reactor.NewChannel(loop, sock.FD())
	ch.ReadCallback = func() { us.readLoop(sock) }
	loop.RunInLoop(ch.EnableReading)

	<-ctx.Done()

	loop.RunInLoop(func() {
		ch.DisableAll()
		ch.Remove()
		sock.Close()
	})
	loop.Quit()
	return nil
}

// readLoop drains pending datagrams until the socket would block, so
// one readiness event handles a burst.
func (us *UDPServer) readLoop(sock *reactor.Socket) {
	var buf [65536]byte
	for {
		n, peer, err := sock.RecvFrom(buf[:])
		if err == reactor.ErrWouldBlock {
			return
		}
		if err != nil {
			us.log.Warn("recvfrom error", zap.Error(err))
			return
		}
		if us.DatagramCallback != nil {
			us.DatagramCallback(us, peer, buf[:n])
		}
	}
}

// SendTo queues one datagram to peer. Thread-safe: it trampolines onto
// the loop goroutine so socket writes never race the read side.
func (us *UDPServer) SendTo(peer reactor.Address, data []byte) {
	us.mu.Lock()
	loop, sock := us.loop, us.sock
	us.mu.Unlock()
	if loop == nil || sock == nil {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	loop.RunInLoop(func() {
		if err := sock.SendTo(cp, peer); err != nil && err != reactor.ErrWouldBlock {
			us.log.Warn("sendto error", zap.Error(err))
		}
	})
}

// Addr returns the bound address once Start/AsyncStart has bound the
// socket.
func (us *UDPServer) Addr() reactor.Address {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.addr
}

// Stop shuts the server down; the blocked Start returns once its ctx
// is cancelled, so Stop only needs to stop the loop.
func (us *UDPServer) Stop(ctx context.Context) error {
	us.mu.Lock()
	loop := us.loop
	us.mu.Unlock()
	if loop != nil {
		loop.Quit()
	}
	return nil
}

// Shutdown is the non-error-returning counterpart to Stop, matching
// the teacher's Adapter shape.
func (us *UDPServer) Shutdown() {
	us.Stop(context.Background())
}

// AsyncStart runs Start on its own goroutine, capturing its error for
// Wait.
func (us *UDPServer) AsyncStart(ctx context.Context, addr string) {
	us.wg.Add(1)
	go func() {
		defer us.wg.Done()
		err := us.Start(ctx, addr)
		us.mu.Lock()
		us.err = err
		us.mu.Unlock()
	}()
}

// Wait blocks until the goroutine started by AsyncStart returns.
func (us *UDPServer) Wait() error {
	us.wg.Wait()
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.err
}

// localUDPAddr resolves the OS-chosen port for a ":0" bind.
func localUDPAddr(sock *reactor.Socket, bound reactor.Address) reactor.Address {
	if bound.Port() != 0 {
		return bound
	}
	if resolved, err := reactor.Getsockname(sock.FD()); err == nil {
		return resolved
	}
	return bound
}
