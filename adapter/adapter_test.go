package adapter_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/edgehost/adapter"
	"github.com/relaycore/edgehost/reactor"
)

func TestTCPServer_EchoesOverReactor(t *testing.T) {
	srv := adapter.NewTCPServer("test", nil)
	srv.MessageCallback = func(conn *reactor.TcpConnection, buf *reactor.Buffer) {
		conn.Send(buf.RetrieveAsBytes(buf.ReadableBytes()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv.AsyncStart(ctx, "127.0.0.1:0")
	t.Cleanup(func() {
		cancel()
		srv.Wait()
	})

	var bound reactor.Address
	require.Eventually(t, func() bool {
		bound = srv.Addr()
		return bound.Port() != 0
	}, 2*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("tcp", bound.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestHTTPServer_CountersEndpoint(t *testing.T) {
	snapshot := func() adapter.Counters {
		return adapter.Counters{LoopIterations: 7, EventsProcessed: 3}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	hs := &adapter.HTTPServer{Router: adapter.NewCountersRouter(snapshot)}
	ctx, cancel := context.WithCancel(context.Background())
	hs.AsyncStart(ctx, addr)
	t.Cleanup(func() {
		cancel()
		hs.Wait()
	})

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get("http://" + addr + "/counters")
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var got adapter.Counters
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, uint64(7), got.LoopIterations)
	require.Equal(t, uint64(3), got.EventsProcessed)
}

func TestUDPServer_EchoesDatagrams(t *testing.T) {
	srv := adapter.NewUDPServer("test-udp", nil)
	srv.DatagramCallback = func(us *adapter.UDPServer, peer reactor.Address, data []byte) {
		us.SendTo(peer, data)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv.AsyncStart(ctx, "127.0.0.1:0")
	t.Cleanup(func() {
		cancel()
		srv.Wait()
	})

	var bound reactor.Address
	require.Eventually(t, func() bool {
		bound = srv.Addr()
		return bound.Port() != 0
	}, 2*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("udp", bound.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}
