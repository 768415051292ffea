package reactor_test

import (
	"testing"

	"github.com/relaycore/edgehost/reactor"
	"github.com/stretchr/testify/require"
)

func TestAddress_ParseFormatRoundTrip(t *testing.T) {
	cases := []string{
		"127.0.0.1:8080",
		"0.0.0.0:0",
		"10.20.30.40:65535",
	}
	for _, s := range cases {
		addr, err := reactor.ParseAddress(s)
		require.NoError(t, err)
		require.Equal(t, s, addr.String())
	}
}

func TestAddress_Any(t *testing.T) {
	addr := reactor.Any(9000)
	require.True(t, addr.IsAny())
	require.Equal(t, uint16(9000), addr.Port())
}

func TestAddress_Less(t *testing.T) {
	a, _ := reactor.NewAddress("10.0.0.1", 100)
	b, _ := reactor.NewAddress("10.0.0.1", 200)
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
}

func TestAddress_InvalidHost(t *testing.T) {
	_, err := reactor.NewAddress("not-an-ip", 80)
	require.Error(t, err)
}
