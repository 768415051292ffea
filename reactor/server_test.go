package reactor_test

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaycore/edgehost/reactor"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLoop(t *testing.T) *reactor.EventLoop {
	t.Helper()
	loop, err := reactor.NewEventLoop(zap.NewNop())
	require.NoError(t, err)
	go loop.Run()
	// Give the loop goroutine a moment to pin its thread identity before
	// any test code calls into it via RunInLoop from this goroutine.
	time.Sleep(10 * time.Millisecond)
	t.Cleanup(loop.Quit)
	return loop
}

// TestTcpServer_Echo exercises spec.md §8 scenario 1: a client connects,
// sends "hello"; the server echoes the bytes back.
func TestTcpServer_Echo(t *testing.T) {
	loop := newTestLoop(t)

	server := reactor.NewTcpServer(loop, "echo")
	server.MessageCallback = func(conn *reactor.TcpConnection, buf *reactor.Buffer) {
		data := buf.RetrieveAsBytes(buf.ReadableBytes())
		conn.Send(data)
	}

	addr, err := reactor.NewAddress("127.0.0.1", 0)
	require.NoError(t, err)
	require.NoError(t, server.Start(addr))
	t.Cleanup(func() { server.Stop() })

	bound := server.Addr()
	require.NotZero(t, bound.Port())

	conn, err := net.Dial("tcp", bound.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))

	require.Eventually(t, func() bool {
		return server.TotalConnections() == 1
	}, time.Second, 10*time.Millisecond)
}

// TestTcpServer_CrossThreadSend exercises spec.md §8 scenario 2: 1000
// sends from each of 4 concurrent non-loop goroutines must all arrive
// (the peer reads exactly 4000 bytes).
func TestTcpServer_CrossThreadSend(t *testing.T) {
	loop := newTestLoop(t)

	server := reactor.NewTcpServer(loop, "fanin")
	var (
		mu         sync.Mutex
		serverConn *reactor.TcpConnection
		ready      = make(chan struct{})
	)
	server.ConnectionCallback = func(conn *reactor.TcpConnection) {
		if !conn.Connected() {
			return // the callback fires again on Disconnected
		}
		mu.Lock()
		serverConn = conn
		mu.Unlock()
		close(ready)
	}

	addr, err := reactor.NewAddress("127.0.0.1", 0)
	require.NoError(t, err)
	require.NoError(t, server.Start(addr))
	t.Cleanup(func() { server.Stop() })

	bound := server.Addr()
	conn, err := net.Dial("tcp", bound.String())
	require.NoError(t, err)
	defer conn.Close()

	<-ready

	const (
		goroutines = 4
		perRoutine = 1000
	)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			mu.Lock()
			c := serverConn
			mu.Unlock()
			for i := 0; i < perRoutine; i++ {
				c.Send([]byte{id})
			}
		}(byte('A' + g))
	}
	wg.Wait()

	total := goroutines * perRoutine
	received := make([]byte, 0, total)
	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(received) < total {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		received = append(received, buf[:n]...)
	}
	require.Len(t, received, total)
}

// TestTcpServer_GracefulShutdown exercises spec.md §8 scenario 6:
// every open connection transitions to Disconnected exactly once when
// the server stops, and none outlives it.
func TestTcpServer_GracefulShutdown(t *testing.T) {
	loop := newTestLoop(t)

	server := reactor.NewTcpServer(loop, "teardown")
	var disconnects atomic.Int64
	server.ConnectionCallback = func(conn *reactor.TcpConnection) {
		if conn.State() == reactor.StateDisconnected {
			disconnects.Add(1)
		}
	}

	addr, err := reactor.NewAddress("127.0.0.1", 0)
	require.NoError(t, err)
	require.NoError(t, server.Start(addr))

	const clients = 25
	conns := make([]net.Conn, 0, clients)
	for i := 0; i < clients; i++ {
		c, err := net.Dial("tcp", server.Addr().String())
		require.NoError(t, err)
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	require.Eventually(t, func() bool {
		return server.TotalConnections() == clients
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, server.Stop())

	require.Eventually(t, func() bool {
		return server.ConnectionCount() == 0 && disconnects.Load() == clients
	}, 2*time.Second, 10*time.Millisecond)

	// Every client sees EOF once the server side is gone.
	for _, c := range conns {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := c.Read(make([]byte, 1))
		require.ErrorIs(t, err, io.EOF)
	}
}
