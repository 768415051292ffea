package bus_test

import (
	"sync/atomic"
	"testing"

	"github.com/relaycore/edgehost/bus"
	"github.com/stretchr/testify/require"
)

func newCountingChannel(name string) (*bus.Channel, *atomic.Int64) {
	var count atomic.Int64
	ch := bus.NewChannel(name, bus.PointToPoint, bus.TransportFunc(func(msg bus.ChannelMessage) error {
		count.Add(1)
		return nil
	}))
	return ch, &count
}

// TestChannelManager_TopicRouting exercises spec.md §8 scenario 5:
// c1/c2/c3 registered, topic "t" routed to [c1, c2]; only c1/c2 should
// receive, and an unrouted topic bumps RoutingMiss without delivering.
func TestChannelManager_TopicRouting(t *testing.T) {
	mgr := bus.NewChannelManager("mgr", nil)

	c1, n1 := newCountingChannel("c1")
	c2, n2 := newCountingChannel("c2")
	c3, n3 := newCountingChannel("c3")
	mgr.Register(c1)
	mgr.Register(c2)
	mgr.Register(c3)

	mgr.AddRoute("t", "c1")
	mgr.AddRoute("t", "c2")

	delivered, err := mgr.RouteMessage("t", []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, 2, delivered)
	require.Equal(t, int64(1), n1.Load())
	require.Equal(t, int64(1), n2.Load())
	require.Equal(t, int64(0), n3.Load())

	delivered, err = mgr.RouteMessage("u", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, 0, delivered)
	require.Equal(t, uint64(1), mgr.RoutingMisses())
}

func TestChannelManager_AddRouteDeduplicates(t *testing.T) {
	mgr := bus.NewChannelManager("mgr", nil)
	c1, n1 := newCountingChannel("c1")
	mgr.Register(c1)

	mgr.AddRoute("t", "c1")
	mgr.AddRoute("t", "c1")

	delivered, err := mgr.RouteMessage("t", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Equal(t, int64(1), n1.Load())
}

func TestChannelManager_RouteToUnregisteredChannelErrorsAtSendTime(t *testing.T) {
	mgr := bus.NewChannelManager("mgr", nil)
	mgr.AddRoute("t", "ghost")

	var reported error
	mgr.ErrorHook = func(err error) { reported = err }

	delivered, err := mgr.RouteMessage("t", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, 0, delivered)
	require.ErrorIs(t, reported, bus.ErrChannelNotRegistered)
	require.Contains(t, reported.Error(), "route added at")
}

func TestChannelManager_RecordsRegistrationSite(t *testing.T) {
	mgr := bus.NewChannelManager("mgr", nil)
	c1, _ := newCountingChannel("c1")

	require.Nil(t, mgr.RegistrationSite("c1"))
	mgr.Register(c1)
	require.NotNil(t, mgr.RegistrationSite("c1"))

	mgr.Unregister("c1")
	require.Nil(t, mgr.RegistrationSite("c1"))
}

func TestChannelManager_RemoveRouteToleratesAbsence(t *testing.T) {
	mgr := bus.NewChannelManager("mgr", nil)
	require.NotPanics(t, func() { mgr.RemoveRoute("missing", "also-missing") })
}

func TestChannelManager_Broadcast(t *testing.T) {
	mgr := bus.NewChannelManager("mgr", nil)
	c1, n1 := newCountingChannel("c1")
	c2, n2 := newCountingChannel("c2")
	mgr.Register(c1)
	mgr.Register(c2)

	delivered := mgr.Broadcast(bus.NewChannelMessage("1", "s", "", "any-topic", []byte("x")))
	require.Equal(t, 2, delivered)
	require.Equal(t, int64(1), n1.Load())
	require.Equal(t, int64(1), n2.Load())
}

func TestChannel_FilterChainRejects(t *testing.T) {
	ch, n := newCountingChannel("filtered")
	ch.AddFilter(bus.NewTopicFilter("orders.*"))

	err := ch.Send(bus.NewChannelMessage("1", "s", "", "accounts.create", []byte("x")))
	require.ErrorIs(t, err, bus.ErrFiltered)
	require.Equal(t, int64(0), n.Load())

	err = ch.Send(bus.NewChannelMessage("2", "s", "", "orders.create", []byte("x")))
	require.NoError(t, err)
	require.Equal(t, int64(1), n.Load())
}

func TestChannel_SubscribeUnsupportedForPointToPoint(t *testing.T) {
	ch, _ := newCountingChannel("p2p")
	err := ch.Subscribe("topic", make(chan bus.ChannelMessage, 1))
	require.ErrorIs(t, err, bus.ErrSubscribeUnsupported)
}

func TestChannel_PubSubFanOut(t *testing.T) {
	ch := bus.NewChannel("events", bus.PublishSubscribe, nil)
	sub := make(chan bus.ChannelMessage, 1)
	require.NoError(t, ch.Subscribe("topic", sub))

	require.NoError(t, ch.Send(bus.NewChannelMessage("1", "s", "", "topic", []byte("x"))))

	select {
	case msg := <-sub:
		require.Equal(t, "topic", msg.Topic)
	default:
		t.Fatal("subscriber did not receive message")
	}

	require.NoError(t, ch.Unsubscribe("topic", sub))
}

func TestChannel_InactiveRejectsSend(t *testing.T) {
	ch, _ := newCountingChannel("inactive")
	ch.SetActive(false)
	err := ch.Send(bus.NewChannelMessage("1", "s", "", "t", []byte("x")))
	require.ErrorIs(t, err, bus.ErrChannelInactive)
}
