package reactor

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ConnState is the lifecycle state of a TcpConnection. It is monotone:
// Connecting -> Connected -> Disconnecting -> Disconnected, with no
// state revisited once left.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionCallback fires once a connection reaches StateConnected (on
// accept) or on StateDisconnected (teardown); the caller distinguishes
// via Connection.State().
type ConnectionCallback func(conn *TcpConnection)

// MessageCallback fires whenever new bytes land in the input buffer.
// The handler consumes whatever it understands via buf.Retrieve*;
// leftover bytes remain for the next invocation.
type MessageCallback func(conn *TcpConnection, buf *Buffer)

// WriteCompleteCallback fires once the output buffer has fully drained
// after a Send that could not complete synchronously.
type WriteCompleteCallback func(conn *TcpConnection)

// CloseCallback fires exactly once, when the connection has reached
// StateDisconnected and been unregistered from its loop.
type CloseCallback func(conn *TcpConnection)

// HighWaterMarkCallback fires when the output buffer size crosses the
// configured high-water threshold, so a producer can throttle (spec.md
// §4.G backpressure extension).
type HighWaterMarkCallback func(conn *TcpConnection, bufferedBytes int)

// TcpConnection is the per-connection state machine built atop a
// Channel and Socket, owned by exactly one EventLoop. All mutation
// happens on that loop's goroutine; Send is the one operation safe to
// call from any goroutine, via a trampoline through RunInLoop.
type TcpConnection struct {
	loop    *EventLoop
	name    string
	sock    *Socket
	channel *Channel

	state atomic.Int32

	localAddr Address
	peerAddr  Address

	input  *Buffer
	output *Buffer

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	connectedAt time.Time

	highWaterMark int

	connectionCB    ConnectionCallback
	messageCB       MessageCallback
	writeCompleteCB WriteCompleteCallback
	closeCB         CloseCallback
	highWaterMarkCB HighWaterMarkCallback

	log *zap.Logger
}

// NewTcpConnection wraps an already-accepted/connected Socket. The
// connection starts in StateConnecting; call ConnectEstablished from
// the owning loop once it should begin reading.
func NewTcpConnection(loop *EventLoop, name string, sock *Socket, local, peer Address) *TcpConnection {
	conn := &TcpConnection{
		loop:      loop,
		name:      name,
		sock:      sock,
		localAddr: local,
		peerAddr:  peer,
		input:     NewBuffer(),
		output:    NewBuffer(),
		log:       loop.log.Named("conn").With(zap.String("name", name)),
	}
	conn.state.Store(int32(StateConnecting))
	conn.channel = loop.newChannel(sock.FD())
	conn.channel.ReadCallback = conn.handleRead
	conn.channel.WriteCallback = conn.handleWrite
	conn.channel.CloseCallback = conn.handleClose
	conn.channel.ErrorCallback = conn.handleError
	return conn
}

// Name returns the connection's stable name ("<server>#<seq>").
func (c *TcpConnection) Name() string { return c.name }

// LocalAddr returns the local endpoint.
func (c *TcpConnection) LocalAddr() Address { return c.localAddr }

// PeerAddr returns the remote endpoint.
func (c *TcpConnection) PeerAddr() Address { return c.peerAddr }

// State returns the current lifecycle state.
func (c *TcpConnection) State() ConnState { return ConnState(c.state.Load()) }

// Connected reports whether the connection is currently usable for I/O.
func (c *TcpConnection) Connected() bool { return c.State() == StateConnected }

// BytesSent and BytesReceived expose the §6 per-connection counters.
func (c *TcpConnection) BytesSent() uint64     { return c.bytesSent.Load() }
func (c *TcpConnection) BytesReceived() uint64 { return c.bytesReceived.Load() }

// ConnectedAt returns the time ConnectEstablished ran.
func (c *TcpConnection) ConnectedAt() time.Time { return c.connectedAt }

// SetConnectionCallback, SetMessageCallback, SetWriteCompleteCallback,
// SetCloseCallback, SetHighWaterMarkCallback install the user-facing
// callbacks before the connection is handed to the loop.
func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback) { c.connectionCB = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback)       { c.messageCB = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCB = cb
}
func (c *TcpConnection) SetCloseCallback(cb CloseCallback) { c.closeCB = cb }
func (c *TcpConnection) SetHighWaterMark(n int, cb HighWaterMarkCallback) {
	c.highWaterMark = n
	c.highWaterMarkCB = cb
}

// SetTCPNoDelay and SetKeepAlive forward to the underlying Socket.
func (c *TcpConnection) SetTCPNoDelay(on bool) error { return c.sock.SetNoDelay(on) }
func (c *TcpConnection) SetKeepAlive(on bool) error  { return c.sock.SetKeepAlive(on) }

// ConnectEstablished transitions Connecting -> Connected, enables
// reading, and fires the connection callback. Must run on the loop.
func (c *TcpConnection) ConnectEstablished() {
	c.loop.assertInLoopThread()
	if c.State() != StateConnecting {
		return
	}
	c.state.Store(int32(StateConnected))
	c.connectedAt = time.Now()
	c.channel.EnableReading()
	if c.connectionCB != nil {
		c.connectionCB(c)
	}
}

// connectDestroyed detaches the Channel and closes the socket at the
// very end of the connection's life, after CloseCallback has already
// fired. Running it via QueueInLoop lets the connection outlive the
// stack frame of its own close handler (spec.md §5 "reference
// counting ... outlives").
func (c *TcpConnection) connectDestroyed() {
	c.loop.assertInLoopThread()
	if c.State() == StateConnected {
		c.state.Store(int32(StateDisconnected))
		c.channel.DisableAll()
		if c.connectionCB != nil {
			c.connectionCB(c)
		}
	}
	c.channel.Remove()
	c.sock.Close()
}

// handleRead performs one read (a single readv) into the input buffer
// per readiness event and invokes MessageCallback if any bytes landed.
// It does not loop until EAGAIN: bytes still pending in the socket are
// read when the level-triggered poller reports the fd readable again.
func (c *TcpConnection) handleRead() {
	c.loop.assertInLoopThread()
	n, err := c.input.ReadFD(c.sock.FD())
	switch {
	case err == nil && n > 0:
		c.bytesReceived.Add(uint64(n))
		if c.messageCB != nil {
			c.messageCB(c, c.input)
		}
	case err == nil && n == 0:
		// PeerClosed (spec.md §7): recv returned zero.
		c.handleClose()
	case err == ErrWouldBlock:
		// Nothing more to read this readiness event.
	default:
		c.log.Warn("read error", zap.Error(err))
		c.handleError()
	}
}

// handleWrite drains the output buffer; on full drain it disables
// writing and, if Disconnecting, shuts down the write half.
func (c *TcpConnection) handleWrite() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		return
	}
	buf := c.output.Peek()
	if len(buf) == 0 {
		c.channel.DisableWriting()
		return
	}
	n, err := c.sock.Send(buf)
	if err != nil {
		if err != ErrWouldBlock {
			c.log.Warn("write error", zap.Error(err))
			c.handleError()
		}
		return
	}
	c.output.Retrieve(n)
	c.bytesSent.Add(uint64(n))
	if c.output.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCB != nil {
			c.writeCompleteCB(c)
		}
		if c.State() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

// handleClose transitions to Disconnected and fires the
// ConnectionCallback and then the CloseCallback, exactly once. It does
// not tear down the fd itself: TcpServer's CloseCallback
// (removeConnection) queues connectDestroyed, so the fd is closed after
// this call stack unwinds.
func (c *TcpConnection) handleClose() {
	c.loop.assertInLoopThread()
	st := c.State()
	if st == StateDisconnected {
		return
	}
	c.channel.DisableAll()
	c.state.Store(int32(StateDisconnected))
	if c.connectionCB != nil {
		c.connectionCB(c)
	}
	if c.closeCB != nil {
		c.closeCB(c)
	}
}

// handleError classifies and logs a HardIO condition (spec.md §7); the
// connection still proceeds through the normal close path, since a
// socket error leaves nothing further to do with the fd.
func (c *TcpConnection) handleError() {
	c.loop.assertInLoopThread()
	c.handleClose()
}

// Send queues data for delivery. Thread-safe: on the loop goroutine it
// attempts an immediate write, trampolining any leftover bytes onto the
// output buffer; off the loop goroutine, it copies the payload and
// schedules the send via RunInLoop.
func (c *TcpConnection) Send(data []byte) {
	if len(data) == 0 {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.loop.RunInLoop(func() {
		c.sendInLoop(cp)
	})
}

func (c *TcpConnection) sendInLoop(data []byte) {
	if c.State() == StateDisconnected {
		return
	}
	var (
		written  int
		hadError bool
	)
	// Only attempt a direct write if nothing is already queued, so bytes
	// are never reordered ahead of a pending write.
	if !c.channel.IsWriting() && c.output.ReadableBytes() == 0 {
		n, err := c.sock.Send(data)
		switch {
		case err == nil:
			written = n
			c.bytesSent.Add(uint64(n))
			if n == len(data) && c.writeCompleteCB != nil {
				c.writeCompleteCB(c)
			}
		case err == ErrWouldBlock:
			// fall through to buffering
		default:
			hadError = true
			c.log.Warn("send error", zap.Error(err))
		}
	}
	if hadError {
		c.handleError()
		return
	}
	if written < len(data) {
		remaining := data[written:]
		c.output.Append(remaining)
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
		if c.highWaterMarkCB != nil && c.output.ReadableBytes() >= c.highWaterMark && c.highWaterMark > 0 {
			c.highWaterMarkCB(c, c.output.ReadableBytes())
		}
	}
}

// Shutdown half-closes the write side once the output buffer drains.
// Only legal from Connected; a no-op otherwise. Thread-safe.
func (c *TcpConnection) Shutdown() {
	c.loop.RunInLoop(func() {
		if c.State() != StateConnected {
			return
		}
		c.state.Store(int32(StateDisconnecting))
		c.shutdownInLoop()
	})
}

func (c *TcpConnection) shutdownInLoop() {
	if !c.channel.IsWriting() {
		c.sock.ShutdownWrite()
	}
}

// ForceClose transitions directly to close without waiting for the
// output buffer to drain. Thread-safe.
func (c *TcpConnection) ForceClose() {
	c.loop.RunInLoop(func() {
		if c.State() == StateConnected || c.State() == StateDisconnecting {
			c.handleClose()
		}
	})
}
