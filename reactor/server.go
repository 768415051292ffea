package reactor

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TcpServer owns an Acceptor and the set of live connections it has
// accepted, all confined to a single EventLoop. Map mutation happens
// only on that loop's goroutine.
type TcpServer struct {
	loop     *EventLoop
	name     string
	acceptor *Acceptor
	log      *zap.Logger

	reuseAddr bool
	reusePort bool

	nextConnID atomic.Uint64

	mu          sync.Mutex // guards started, documents cross-goroutine Start/Stop calls
	started     bool
	connections map[string]*TcpConnection

	totalConns  atomic.Uint64
	activeConns atomic.Int64

	ConnectionCallback    ConnectionCallback
	MessageCallback       MessageCallback
	WriteCompleteCallback WriteCompleteCallback
}

// NewTcpServer creates a TcpServer bound to name, owned by loop. Start
// must be called (from any goroutine; it trampolines to the loop) to
// begin listening.
func NewTcpServer(loop *EventLoop, name string) *TcpServer {
	return &TcpServer{
		loop:        loop,
		name:        name,
		log:         loop.log.Named("server").With(zap.String("server", name)),
		connections: make(map[string]*TcpConnection),
		reuseAddr:   true,
	}
}

// SetReusePort enables SO_REUSEPORT on the listening socket (must be
// called before Start).
func (s *TcpServer) SetReusePort(on bool) { s.reusePort = on }

// Start posts the listen+accept bring-up to the loop thread. Safe to
// call from any goroutine.
func (s *TcpServer) Start(addr Address) error {
	errCh := make(chan error, 1)
	s.loop.RunInLoop(func() {
		errCh <- s.startInLoop(addr)
	})
	return <-errCh
}

func (s *TcpServer) startInLoop(addr Address) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	acc, err := NewAcceptor(s.loop, addr, s.reuseAddr, s.reusePort)
	if err != nil {
		return fmt.Errorf("reactor: tcp server %s: %w", s.name, err)
	}
	acc.NewConnectionCallback = s.newConnection
	s.acceptor = acc
	return acc.Listen(0)
}

// newConnection wraps an accepted Socket into a named TcpConnection,
// inserts it into the map, wires the server-level callbacks, and
// drives it to Connected. Runs on the loop thread (called from
// Acceptor's ReadCallback).
func (s *TcpServer) newConnection(sock *Socket, peer Address) {
	id := s.nextConnID.Add(1)
	name := fmt.Sprintf("%s#%d", s.name, id)

	local := localAddrOf(sock)
	conn := NewTcpConnection(s.loop, name, sock, local, peer)
	conn.SetConnectionCallback(s.ConnectionCallback)
	conn.SetMessageCallback(s.MessageCallback)
	conn.SetWriteCompleteCallback(s.WriteCompleteCallback)
	conn.SetCloseCallback(s.removeConnection)

	s.mu.Lock()
	s.connections[name] = conn
	s.mu.Unlock()
	s.totalConns.Add(1)
	s.activeConns.Add(1)

	conn.ConnectEstablished()
}

// removeConnection is the connection's CloseCallback: it drops the
// connection from the map and schedules connectDestroyed via
// QueueInLoop so the connection object outlives the stack frame of its
// own close handler (spec.md §4.I).
func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.loop.assertInLoopThread()
	s.mu.Lock()
	delete(s.connections, conn.Name())
	s.mu.Unlock()
	s.activeConns.Add(-1)

	s.loop.QueueInLoop(func() {
		conn.connectDestroyed()
	})
}

// Stop closes the acceptor and force-closes every live connection. The
// returned error carries only the acceptor's close error (gathered with
// multierr); ForceClose reports no error, so per-connection teardown
// adds nothing to it.
func (s *TcpServer) Stop() error {
	done := make(chan error, 1)
	s.loop.RunInLoop(func() {
		var errs error
		if s.acceptor != nil {
			if err := s.acceptor.Close(); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		s.mu.Lock()
		conns := make([]*TcpConnection, 0, len(s.connections))
		for _, c := range s.connections {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		for _, c := range conns {
			c.ForceClose()
		}
		done <- errs
	})
	return <-done
}

// Addr returns the server's bound listen address; only meaningful
// after Start has returned successfully.
func (s *TcpServer) Addr() Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acceptor == nil {
		return Address{}
	}
	return s.acceptor.Addr()
}

// ConnectionCount reports the number of currently active connections.
func (s *TcpServer) ConnectionCount() int64 { return s.activeConns.Load() }

// TotalConnections reports the lifetime accept count (§6 counter).
func (s *TcpServer) TotalConnections() uint64 { return s.totalConns.Load() }

// SendToConnection looks up a connection by name and sends to it if
// still present. Thread-safe.
func (s *TcpServer) SendToConnection(name string, data []byte) bool {
	s.mu.Lock()
	conn, ok := s.connections[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	conn.Send(data)
	return true
}

// Broadcast sends data to every currently active connection.
func (s *TcpServer) Broadcast(data []byte) {
	s.mu.Lock()
	conns := make([]*TcpConnection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Send(data)
	}
}

func localAddrOf(sock *Socket) Address {
	sa, err := getsockname(sock.FD())
	if err != nil {
		return Address{}
	}
	return sa
}
