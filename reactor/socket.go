package reactor

import (
	"fmt"
	"syscall"

	"go.uber.org/atomic"
)

// sockState is the lifecycle state of a Socket.
type sockState int32

const (
	sockUnopened sockState = iota
	sockOpen
	sockListening
	sockConnected
	sockClosed
)

// Socket is a thin, move-only wrapper around a non-blocking OS file
// descriptor. At most one owner may hold a given fd; Close is
// idempotent. Copying a Socket by value is possible in Go, but callers
// must treat it as move-only: once handed to a Channel, the original
// variable must not be used again.
type Socket struct {
	fd        int
	state     atomic.Int32
	lastErrno syscall.Errno
}

// NewSocket creates a non-blocking IPv4 TCP or UDP socket depending on
// sockType (syscall.SOCK_STREAM or syscall.SOCK_DGRAM).
func NewSocket(sockType int) (s *Socket, err error) {
	fd, err := syscall.Socket(syscall.AF_INET, sockType, 0)
	if err != nil {
		return nil, fmt.Errorf("reactor: socket: %w", err)
	}
	if err = syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("reactor: set non-blocking: %w", err)
	}
	s = &Socket{fd: fd}
	s.state.Store(int32(sockOpen))
	return s, nil
}

// NewUDPSocket creates a non-blocking IPv4 UDP socket for datagram
// endpoints driven by the same reactor.
func NewUDPSocket() (*Socket, error) {
	return NewSocket(socketDgram())
}

// FD returns the raw file descriptor. The returned value is only valid
// while the Socket has not been closed.
func (s *Socket) FD() int { return s.fd }

// SetReuseAddr sets SO_REUSEADDR.
func (s *Socket) SetReuseAddr(on bool) error {
	return syscall.SetsockoptInt(s.fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, boolToInt(on))
}

// SetReusePort sets SO_REUSEPORT where supported by the platform build.
func (s *Socket) SetReusePort(on bool) error {
	return setReusePort(s.fd, on)
}

// SetKeepAlive sets SO_KEEPALIVE.
func (s *Socket) SetKeepAlive(on bool) error {
	return syscall.SetsockoptInt(s.fd, syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, boolToInt(on))
}

// SetNoDelay sets TCP_NODELAY.
func (s *Socket) SetNoDelay(on bool) error {
	return syscall.SetsockoptInt(s.fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, boolToInt(on))
}

// SetNonBlocking re-asserts the mandatory non-blocking mode.
func (s *Socket) SetNonBlocking(on bool) error {
	return syscall.SetNonblock(s.fd, on)
}

// Bind binds the socket to addr.
func (s *Socket) Bind(addr Address) error {
	ip, port := addr.sockaddrIn4()
	sa := &syscall.SockaddrInet4{Addr: ip, Port: int(port)}
	if err := syscall.Bind(s.fd, sa); err != nil {
		return fmt.Errorf("reactor: bind %s: %w", addr, err)
	}
	return nil
}

// Listen marks the socket as a listening socket with the given backlog
// (default 128 when backlog <= 0).
func (s *Socket) Listen(backlog int) error {
	if backlog <= 0 {
		backlog = 128
	}
	if err := syscall.Listen(s.fd, backlog); err != nil {
		return fmt.Errorf("reactor: listen: %w", err)
	}
	s.state.Store(int32(sockListening))
	return nil
}

// Connect initiates a non-blocking connect. A return of ErrWouldBlock
// means the connect is in progress; the caller should watch for
// writability to learn the outcome.
func (s *Socket) Connect(addr Address) error {
	ip, port := addr.sockaddrIn4()
	sa := &syscall.SockaddrInet4{Addr: ip, Port: int(port)}
	err := syscall.Connect(s.fd, sa)
	if err == nil {
		s.state.Store(int32(sockConnected))
		return nil
	}
	if err == syscall.EINPROGRESS || err == syscall.EAGAIN {
		return ErrWouldBlock
	}
	return fmt.Errorf("reactor: connect %s: %w", addr, err)
}

// Accept accepts one pending connection, returning a new non-blocking
// Socket and the peer address. A negative-count convention is not used
// here (Go surfaces syscall.EAGAIN as an error instead); callers loop
// until Accept returns ErrWouldBlock.
func (s *Socket) Accept() (conn *Socket, peer Address, err error) {
	nfd, sa, err := syscall.Accept(s.fd)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return nil, Address{}, ErrWouldBlock
		}
		if err == syscall.EMFILE || err == syscall.ENFILE {
			return nil, Address{}, ErrTooManyOpenFiles
		}
		return nil, Address{}, fmt.Errorf("reactor: accept: %w", err)
	}
	if err = syscall.SetNonblock(nfd, true); err != nil {
		syscall.Close(nfd)
		return nil, Address{}, fmt.Errorf("reactor: accept set non-blocking: %w", err)
	}
	conn = &Socket{fd: nfd}
	conn.state.Store(int32(sockConnected))
	if in4, ok := sa.(*syscall.SockaddrInet4); ok {
		peer = addressFromSockaddrIn4(in4.Addr, uint16(in4.Port))
	}
	return conn, peer, nil
}

// Send writes data. Convention: a non-negative return is the number of
// bytes written; ErrWouldBlock signals a transient retry-needed state
// that the reactor's write-readiness callback resolves.
func (s *Socket) Send(data []byte) (n int, err error) {
	n, err = syscall.Write(s.fd, data)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		s.lastErrno, _ = err.(syscall.Errno)
		return 0, fmt.Errorf("reactor: send: %w", err)
	}
	return n, nil
}

// Recv reads into buf. A return of (0, nil) means the peer closed the
// connection (PeerClosed in spec.md §7 terms); ErrWouldBlock means no
// data is currently available.
func (s *Socket) Recv(buf []byte) (n int, err error) {
	n, err = syscall.Read(s.fd, buf)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		s.lastErrno, _ = err.(syscall.Errno)
		return 0, fmt.Errorf("reactor: recv: %w", err)
	}
	return n, nil
}

// RecvFrom reads one datagram into buf, returning the sender address.
// Datagram counterpart to Recv; ErrWouldBlock means no datagram is
// pending.
func (s *Socket) RecvFrom(buf []byte) (n int, peer Address, err error) {
	n, sa, err := syscall.Recvfrom(s.fd, buf, 0)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return 0, Address{}, ErrWouldBlock
		}
		s.lastErrno, _ = err.(syscall.Errno)
		return 0, Address{}, fmt.Errorf("reactor: recvfrom: %w", err)
	}
	if in4, ok := sa.(*syscall.SockaddrInet4); ok {
		peer = addressFromSockaddrIn4(in4.Addr, uint16(in4.Port))
	}
	return n, peer, nil
}

// SendTo writes one datagram to peer.
func (s *Socket) SendTo(data []byte, peer Address) error {
	ip, port := peer.sockaddrIn4()
	sa := &syscall.SockaddrInet4{Addr: ip, Port: int(port)}
	if err := syscall.Sendto(s.fd, data, 0, sa); err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return ErrWouldBlock
		}
		s.lastErrno, _ = err.(syscall.Errno)
		return fmt.Errorf("reactor: sendto: %w", err)
	}
	return nil
}

// ShutdownWrite half-closes the write side (used to drain-then-FIN).
func (s *Socket) ShutdownWrite() error {
	return syscall.Shutdown(s.fd, syscall.SHUT_WR)
}

// LastError returns the last hard errno observed by Send/Recv, for
// HardIO classification per spec.md §7.
func (s *Socket) LastError() syscall.Errno { return s.lastErrno }

// Close is idempotent: only the first call actually closes the fd.
func (s *Socket) Close() error {
	prev := sockState(s.state.Swap(int32(sockClosed)))
	if prev == sockClosed {
		return nil
	}
	return syscall.Close(s.fd)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
