package reactor

import (
	"fmt"

	"go.uber.org/zap"
)

// NewConnectionCallback fires once per accepted peer with the raw
// socket and its address; the caller (TcpServer) owns wrapping it into
// a TcpConnection.
type NewConnectionCallback func(sock *Socket, peer Address)

// Acceptor owns a listening Socket and the Channel that watches it for
// readability. On each readiness event it accepts in a loop until
// EAGAIN, so a burst of simultaneous connects is drained in one pass.
type Acceptor struct {
	loop     *EventLoop
	sock     *Socket
	channel  *Channel
	log      *zap.Logger
	listened bool

	// idleFD is a reserved, already-open fd held back so that when
	// Accept fails with EMFILE/ENFILE it can be closed to let one more
	// accept+close through to clear the backlog, then reopened
	// (spec.md §4.H graceful degradation).
	idleFD int

	NewConnectionCallback NewConnectionCallback
}

// NewAcceptor creates a listening socket bound to addr and the Channel
// that will watch it once Listen is called.
func NewAcceptor(loop *EventLoop, addr Address, reuseAddr, reusePort bool) (*Acceptor, error) {
	sock, err := NewSocket(socketStream())
	if err != nil {
		return nil, err
	}
	if reuseAddr {
		if err := sock.SetReuseAddr(true); err != nil {
			sock.Close()
			return nil, fmt.Errorf("reactor: acceptor reuseaddr: %w", err)
		}
	}
	if reusePort {
		if err := sock.SetReusePort(true); err != nil {
			sock.Close()
			return nil, fmt.Errorf("reactor: acceptor reuseport: %w", err)
		}
	}
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, err
	}
	idleFD, err := reserveIdleFD()
	if err != nil {
		sock.Close()
		return nil, err
	}
	a := &Acceptor{
		loop:   loop,
		sock:   sock,
		log:    loop.log.Named("acceptor"),
		idleFD: idleFD,
	}
	a.channel = loop.newChannel(sock.FD())
	a.channel.ReadCallback = a.handleRead
	return a, nil
}

// Listen starts listening with the given backlog (<=0 uses the
// spec.md default of 128) and enables the accept Channel for reading.
func (a *Acceptor) Listen(backlog int) error {
	a.loop.assertInLoopThread()
	if err := a.sock.Listen(backlog); err != nil {
		return err
	}
	a.listened = true
	a.channel.EnableReading()
	return nil
}

// FD returns the listening socket's file descriptor.
func (a *Acceptor) FD() int { return a.sock.FD() }

// Addr returns the bound local address. Safe to call once the
// Acceptor's socket has been bound (before or after Listen); with an
// ephemeral ":0" bind, this resolves the OS-chosen port via
// getsockname.
func (a *Acceptor) Addr() Address {
	addr, _ := getsockname(a.sock.FD())
	return addr
}

func (a *Acceptor) handleRead() {
	a.loop.assertInLoopThread()
	for {
		conn, peer, err := a.sock.Accept()
		if err == nil {
			if a.NewConnectionCallback != nil {
				a.NewConnectionCallback(conn, peer)
			} else {
				conn.Close()
			}
			continue
		}
		if err == ErrWouldBlock {
			return
		}
		if err == ErrTooManyOpenFiles {
			a.handleEMFILE()
			continue
		}
		a.log.Warn("accept error", zap.Error(err))
		return
	}
}

// handleEMFILE implements the graceful degradation path: give back the
// reserved idle fd, accept-then-close to drop one connection off the
// backlog, then reopen the reserve so future exhaustion can be handled
// again.
func (a *Acceptor) handleEMFILE() {
	closeFD(a.idleFD)
	if fd, _, err := acceptRaw(a.sock.FD()); err == nil {
		closeFD(fd)
	}
	if fd, err := reserveIdleFD(); err == nil {
		a.idleFD = fd
	}
}

// Close releases the acceptor's socket and channel.
func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	closeFD(a.idleFD)
	return a.sock.Close()
}
