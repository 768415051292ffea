package http_test

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/govoltron/matrix"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/edgehost/builtin/client/http"
)

func newUpstream(t *testing.T, tag string) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		paths = append(paths, r.URL.Path)
		io.WriteString(w, tag)
	}))
	t.Cleanup(srv.Close)
	return srv, &paths
}

func TestClient_PostMessageHitsTopicPath(t *testing.T) {
	upstream, paths := newUpstream(t, "a")

	cli := &http.Client{}
	require.NoError(t, cli.Init(context.Background(), &http.ClientOptions{
		SevName:        "broker",
		Scheme:         "http",
		Endpoints:      []matrix.Endpoint{{Addr: upstream.Listener.Addr().String(), Weight: 100}},
		UrgentPriority: 8,
	}))
	defer cli.Shutdown(context.Background())

	resp, err := cli.PostMessage("session.create", 1, nil, nil)
	require.NoError(t, err)
	resp.Body.Close()

	// Priority above the threshold (9 >= 8) goes through the urgent lane; the
	// upstream sees the same path either way.
	resp, err = cli.PostMessage("session.create", 9, nil, nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, []string{"/session.create", "/session.create"}, *paths)
}

func TestClient_ReInitSwapsEndpoints(t *testing.T) {
	first, firstPaths := newUpstream(t, "first")
	second, secondPaths := newUpstream(t, "second")

	cli := &http.Client{}
	require.NoError(t, cli.Init(context.Background(), &http.ClientOptions{
		SevName:   "broker",
		Scheme:    "http",
		Endpoints: []matrix.Endpoint{{Addr: first.Listener.Addr().String(), Weight: 100}},
	}))
	defer cli.Shutdown(context.Background())

	resp, err := cli.Get("/ping", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Len(t, *firstPaths, 1)

	require.NoError(t, cli.ReInit(context.Background(), &http.ClientOptions{
		SevName:   "broker",
		Scheme:    "http",
		Endpoints: []matrix.Endpoint{{Addr: second.Listener.Addr().String(), Weight: 100}},
	}))

	resp, err = cli.Get("/ping", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Len(t, *firstPaths, 1)
	require.Len(t, *secondPaths, 1)
}

func TestClient_NoEndpointsRejectsCalls(t *testing.T) {
	cli := &http.Client{}
	require.NoError(t, cli.Init(context.Background(), &http.ClientOptions{
		SevName: "broker",
		Scheme:  "http",
	}))
	defer cli.Shutdown(context.Background())

	_, err := cli.Get("/ping", nil)
	require.ErrorIs(t, err, http.ErrNoEndpoints)
}

func TestClient_NotReadyRejectsCalls(t *testing.T) {
	cli := &http.Client{}
	_, err := cli.Get("/ping", nil)
	require.ErrorIs(t, err, http.ErrClientNotReady)
}
