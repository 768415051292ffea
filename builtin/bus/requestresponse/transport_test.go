package requestresponse_test

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/govoltron/matrix"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/edgehost/builtin/bus/requestresponse"
	"github.com/relaycore/edgehost/builtin/client/http"
	"github.com/relaycore/edgehost/bus"
)

func TestTransport_RoundTrip(t *testing.T) {
	upstream := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		require.Equal(t, "/inference.submit", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("ack:"), body...))
	}))
	defer upstream.Close()

	cli := &http.Client{}
	require.NoError(t, cli.Init(context.Background(), &http.ClientOptions{
		SevName:   "upstream",
		Scheme:    "http",
		Endpoints: []matrix.Endpoint{{Addr: upstream.Listener.Addr().String(), Weight: 100}},
	}))
	defer cli.Shutdown(context.Background())

	tr := requestresponse.New(cli)
	ch := bus.NewChannel("upstream", bus.RequestResponse, tr)
	tr.Bind(ch)

	var reply bus.ChannelMessage
	ch.MessageCallback = func(msg bus.ChannelMessage) { reply = msg }

	msg := bus.NewChannelMessage("m1", "edge", "broker", "inference.submit", []byte("payload"))
	require.NoError(t, ch.Send(msg))

	require.Equal(t, "ack:payload", string(reply.Content))
	require.Equal(t, "edge", reply.Receiver)
	require.Equal(t, uint64(1), ch.Sent())
}

func TestTransport_UpstreamErrorSurfaces(t *testing.T) {
	upstream := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.Error(w, "overloaded", nethttp.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	cli := &http.Client{}
	require.NoError(t, cli.Init(context.Background(), &http.ClientOptions{
		SevName:   "upstream",
		Scheme:    "http",
		Endpoints: []matrix.Endpoint{{Addr: upstream.Listener.Addr().String(), Weight: 100}},
	}))
	defer cli.Shutdown(context.Background())

	tr := requestresponse.New(cli)
	ch := bus.NewChannel("upstream", bus.RequestResponse, tr)
	tr.Bind(ch)

	err := ch.Send(bus.NewChannelMessage("m2", "edge", "broker", "inference.submit", nil))
	require.Error(t, err)
	require.Equal(t, uint64(1), ch.Errored())
}
