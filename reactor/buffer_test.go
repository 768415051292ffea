package reactor_test

import (
	"testing"

	"github.com/relaycore/edgehost/reactor"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AppendRetrieve(t *testing.T) {
	b := reactor.NewBuffer()
	b.Append([]byte("hello"))
	require.Equal(t, 5, b.ReadableBytes())
	require.Equal(t, "hello", string(b.Peek()))

	b.Retrieve(2)
	require.Equal(t, "llo", string(b.Peek()))
}

func TestBuffer_RetrieveAllAsString(t *testing.T) {
	b := reactor.NewBuffer()
	b.Append([]byte("world"))
	require.Equal(t, "world", b.RetrieveAllAsString())
	require.Equal(t, 0, b.ReadableBytes())
}

func TestBuffer_GrowsPastInitialCapacity(t *testing.T) {
	b := reactor.NewBuffer()
	big := make([]byte, 8192)
	for i := range big {
		big[i] = byte(i)
	}
	b.Append(big)
	require.Equal(t, len(big), b.ReadableBytes())
	require.Equal(t, big, b.Peek())
}

func TestBuffer_PrependWithinCapacity(t *testing.T) {
	b := reactor.NewBuffer()
	b.Append([]byte("body"))
	b.Prepend([]byte("HEAD"))
	require.Equal(t, "HEADbody", string(b.Peek()))
}

func TestBuffer_RetrieveAsBytesSurvivesFurtherMutation(t *testing.T) {
	b := reactor.NewBuffer()
	b.Append([]byte("hello"))
	out := b.RetrieveAsBytes(5)
	b.Append([]byte("world"))
	require.Equal(t, "hello", string(out))
	require.Equal(t, "world", string(b.Peek()))
}
