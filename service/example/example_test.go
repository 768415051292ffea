package example_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/edgehost/service/example"
)

// TestExample_Echo exercises the Service wiring end to end: Init loads
// config and builds the reactor+bus, Run binds the listener and
// blocks, and a connected client round-trips bytes through the echo
// path (spec.md §8 scenario 1) while the bus observes the traffic.
func TestExample_Echo(t *testing.T) {
	t.Setenv("EDGEHOST_LISTEN_ADDR", "127.0.0.1:17654")
	t.Setenv("EDGEHOST_LOG_LEVEL", "error")

	ex := example.New()
	require.NoError(t, ex.Init(context.Background()))
	require.Equal(t, "edge-session-echo", ex.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ex.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		ex.Shutdown(context.Background())
		<-done
	})

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", "127.0.0.1:17654", 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 20*time.Millisecond, "edge session host never became reachable")
	defer conn.Close()

	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}
